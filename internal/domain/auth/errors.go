package auth

import (
	"errors"
	"fmt"
)

// CredentialReason classifies why a credential request did not produce a credential.
type CredentialReason string

const (
	// CredentialCancelled means the user dismissed the account picker.
	CredentialCancelled CredentialReason = "cancelled"
	// CredentialNoCredentials means no eligible account exists on this device.
	CredentialNoCredentials CredentialReason = "no_credentials"
	// CredentialFailure is any other broker error.
	CredentialFailure CredentialReason = "failure"
)

// CredentialError is returned by credential requests. It never indicates a
// state change; callers map it to a UI outcome such as a retry prompt.
type CredentialError struct {
	Reason CredentialReason
	Cause  error
}

func (e *CredentialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("credential %s: %v", e.Reason, e.Cause)
	}
	return "credential " + string(e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Cause }

// IsCancelled reports whether err is a CredentialError caused by the user dismissing the picker.
func IsCancelled(err error) bool {
	return credentialReason(err) == CredentialCancelled
}

// IsNoCredentials reports whether err is a CredentialError for a device without eligible accounts.
func IsNoCredentials(err error) bool {
	return credentialReason(err) == CredentialNoCredentials
}

func credentialReason(err error) CredentialReason {
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// AuthErrorCode categorizes identity backend failures.
type AuthErrorCode string

const (
	// ErrCodeRejected means the backend refused the token or request.
	ErrCodeRejected AuthErrorCode = "rejected"
	// ErrCodeNonceMismatch means the identity token nonce does not match the request nonce.
	ErrCodeNonceMismatch AuthErrorCode = "nonce_mismatch"
	// ErrCodeNetwork means the backend could not be reached or answered with a server error.
	ErrCodeNetwork AuthErrorCode = "network"
	// ErrCodeRevoked means the refresh token is no longer valid.
	ErrCodeRevoked AuthErrorCode = "revoked"
	// ErrCodeNotSignedIn means the operation needs an authenticated session for the given user.
	ErrCodeNotSignedIn AuthErrorCode = "not_signed_in"
	// ErrCodeStorage means the local token store failed.
	ErrCodeStorage AuthErrorCode = "storage"
	// ErrCodeInvalidInput means required arguments were missing.
	ErrCodeInvalidInput AuthErrorCode = "invalid_input"
)

// AuthError is returned by one-shot identity operations (sign-in, sign-out,
// account deletion). These are never retried internally.
type AuthError struct {
	Code    AuthErrorCode
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Cause }

// NewAuthError builds an AuthError with an optional cause.
func NewAuthError(code AuthErrorCode, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, Cause: cause}
}

// ErrorCode returns the AuthErrorCode carried by err, or "" when err is not an AuthError.
func ErrorCode(err error) AuthErrorCode {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// SessionStreamError wraps failures while observing the session stream.
// It is absorbed by the session store and downgraded to NoAuthenticated.
type SessionStreamError struct {
	Op    string
	Cause error
}

func (e *SessionStreamError) Error() string {
	return fmt.Sprintf("session stream %s: %v", e.Op, e.Cause)
}

func (e *SessionStreamError) Unwrap() error { return e.Cause }
