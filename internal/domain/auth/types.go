package auth

// Package auth contains domain-level types for authentication and sessions.
// It is pure and free of framework/adapter concerns.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Session is the current authentication status. It is a closed set:
// Initializing, Authenticated, and NoAuthenticated are the only variants.
type Session interface {
	session()
}

// Initializing means no determination has been made yet. It is only ever the
// first value a process observes.
type Initializing struct{}

// Authenticated is a live backend session.
// UserID is stable for the lifetime of the authenticated period; tokens may be
// replaced by a refresh without changing it.
type Authenticated struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	Email    string
	Metadata json.RawMessage // provider-specific profile data, as returned by the backend
}

// NoAuthenticated means there is no session. IsSignOut distinguishes an
// explicit sign-out (or account deletion) from expiry or a session that never existed.
type NoAuthenticated struct {
	IsSignOut bool
}

func (Initializing) session()    {}
func (Authenticated) session()   {}
func (NoAuthenticated) session() {}

// Expired reports whether the access token is past its expiry at now.
func (a Authenticated) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// SessionsEqual reports whether two sessions are the same variant with the same contents.
func SessionsEqual(a, b Session) bool {
	switch av := a.(type) {
	case Initializing:
		_, ok := b.(Initializing)
		return ok
	case NoAuthenticated:
		bv, ok := b.(NoAuthenticated)
		return ok && av.IsSignOut == bv.IsSignOut
	case Authenticated:
		bv, ok := b.(Authenticated)
		return ok &&
			av.UserID == bv.UserID &&
			av.AccessToken == bv.AccessToken &&
			av.RefreshToken == bv.RefreshToken &&
			av.ExpiresAt.Equal(bv.ExpiresAt) &&
			av.Email == bv.Email &&
			bytes.Equal(av.Metadata, bv.Metadata)
	default:
		return a == nil && b == nil
	}
}

// Kind returns a short stable name for the session variant, used for logs and metrics.
func Kind(s Session) string {
	switch v := s.(type) {
	case Initializing:
		return "initializing"
	case Authenticated:
		return "authenticated"
	case NoAuthenticated:
		if v.IsSignOut {
			return "signed_out"
		}
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Describe renders a session for logs. Tokens are never included.
func Describe(s Session) string {
	if a, ok := s.(Authenticated); ok {
		return fmt.Sprintf("authenticated(user=%s, expires_at=%s)", a.UserID, a.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return Kind(s)
}

// Tokens is the backend session as persisted between process restarts.
type Tokens struct {
	UserID       string          `json:"user_id"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Email        string          `json:"email,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Session converts persisted tokens into an Authenticated session value.
func (t Tokens) Session() Authenticated {
	return Authenticated{
		UserID:       t.UserID,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.ExpiresAt,
		Email:        t.Email,
		Metadata:     append(json.RawMessage(nil), t.Metadata...),
	}
}

// Credential is the successful outcome of a credential request: a platform
// identity token and the raw nonce that was hashed into it.
type Credential struct {
	IDToken  string
	RawNonce string
}

// Account is the read-only "who is signed in" view consumed by presenters.
type Account struct {
	UserID  string
	Email   string
	Profile json.RawMessage
}
