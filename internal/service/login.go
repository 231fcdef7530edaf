package service

import (
	"context"
	"errors"
	"log/slog"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
)

// CredentialRequester obtains an identity token from the platform broker.
// CredentialProvider implements it.
type CredentialRequester interface {
	RequestCredential(ctx context.Context, filterToKnownAccounts bool) (domainauth.Credential, error)
}

// SignInner exchanges an identity token for a session.
// IdentityService implements it.
type SignInner interface {
	SignIn(ctx context.Context, idToken, rawNonce string) error
}

// AccountRecorder remembers the account behind an accepted credential.
// CredentialProvider implements it.
type AccountRecorder interface {
	Remember(cred domainauth.Credential)
}

// LoginFlowOptions groups dependencies for LoginFlow.
type LoginFlowOptions struct {
	Credentials CredentialRequester
	Identity    SignInner
	Accounts    AccountRecorder // optional
	Logger      *slog.Logger
}

// LoginFlow is the interactive sign-in: pick an account, then exchange its token.
type LoginFlow struct {
	creds    CredentialRequester
	identity SignInner
	accounts AccountRecorder
	logger   *slog.Logger
}

// NewLoginFlow constructs a LoginFlow.
func NewLoginFlow(opts LoginFlowOptions) *LoginFlow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginFlow{
		creds:    opts.Credentials,
		identity: opts.Identity,
		accounts: opts.Accounts,
		logger:   logger.With("component", "login_flow"),
	}
}

// SignIn offers previously used accounts first and falls back to every
// account on the device when none is known. A cancelled picker returns its
// CredentialError and leaves the session untouched.
func (l *LoginFlow) SignIn(ctx context.Context) error {
	cred, err := l.creds.RequestCredential(ctx, true)
	if domainauth.IsNoCredentials(err) {
		l.logger.DebugContext(ctx, "no known accounts, offering all accounts")
		cred, err = l.creds.RequestCredential(ctx, false)
	}
	if err != nil {
		return err
	}
	return l.exchange(ctx, cred)
}

// SignInAllAccounts skips the known-accounts filter.
func (l *LoginFlow) SignInAllAccounts(ctx context.Context) error {
	cred, err := l.creds.RequestCredential(ctx, false)
	if err != nil {
		return err
	}
	return l.exchange(ctx, cred)
}

func (l *LoginFlow) exchange(ctx context.Context, cred domainauth.Credential) error {
	if err := l.identity.SignIn(ctx, cred.IDToken, cred.RawNonce); err != nil {
		return err
	}
	if l.accounts != nil {
		l.accounts.Remember(cred)
	}
	return nil
}

// Outcome names the result of a sign-in attempt for presenters.
func Outcome(err error) string {
	var ae *domainauth.AuthError
	switch {
	case err == nil:
		return "signed_in"
	case domainauth.IsCancelled(err):
		return "cancelled"
	case domainauth.IsNoCredentials(err):
		return "no_credentials"
	case errors.As(err, &ae):
		return "auth_" + string(ae.Code)
	default:
		return "failure"
	}
}
