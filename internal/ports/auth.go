package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
)

// CredentialTypeIDToken marks a broker credential that carries a signed identity token.
const CredentialTypeIDToken = "id_token"

// Broker sentinels. Adapters return (or wrap) these so the credential provider
// can classify the outcome without knowing the broker.
var (
	ErrBrokerCancelled     = errors.New("credential request cancelled by user")
	ErrBrokerNoCredentials = errors.New("no eligible credentials")
)

// ErrNoTokens is returned by a TokenStore holding no session.
var ErrNoTokens = errors.New("no stored session")

// CredentialRequest is everything the platform credential broker needs for one request.
type CredentialRequest struct {
	BackendClientID       string
	HashedNonce           string
	FilterByKnownAccounts bool
	AutoSelect            bool
}

// BrokerCredential is the opaque credential a broker returns. When Type is
// CredentialTypeIDToken the identity token is Data["id_token"].
type BrokerCredential struct {
	Type string
	Data map[string]string
}

// CredentialBroker wraps the platform's account picker.
type CredentialBroker interface {
	// GetCredential shows (or silently resolves) the account picker.
	GetCredential(ctx context.Context, req CredentialRequest) (BrokerCredential, error)

	// ClearCredentialState forgets any cached account selection.
	ClearCredentialState(ctx context.Context) error
}

// AuthBackend is the remote auth backend that turns identity tokens into sessions.
type AuthBackend interface {
	ExchangeIDToken(ctx context.Context, idToken, rawNonce string) (domainauth.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (domainauth.Tokens, error)
	SignOut(ctx context.Context, accessToken string) error
	DeleteUser(ctx context.Context, accessToken, userID string) error
}

// TokenStore persists the backend session so it survives process restarts.
type TokenStore interface {
	Load(ctx context.Context) (domainauth.Tokens, error)
	Save(ctx context.Context, tokens domainauth.Tokens) error
	Clear(ctx context.Context) error
}

// ChangeKind describes what happened to the stored session.
type ChangeKind string

const (
	ChangeSignedIn  ChangeKind = "signed_in"
	ChangeRefreshed ChangeKind = "refreshed"
	ChangeSignedOut ChangeKind = "signed_out"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeExpired   ChangeKind = "expired"
)

// Change is a cross-process notification that the stored session changed.
// It never carries tokens; receivers reload from the TokenStore.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	UserID string     `json:"user_id,omitempty"`
	Origin string     `json:"origin"`
	At     time.Time  `json:"at"`
}

// SessionNotifier is the push channel for session changes made by other processes.
type SessionNotifier interface {
	Notify(ctx context.Context, change Change) error

	// Listen subscribes to changes. The channel closes when the subscription
	// ends; call stop to end it.
	Listen(ctx context.Context) (changes <-chan Change, stop func(), err error)
}

// SessionSource is an unbounded session stream. WatchSessions calls fn for the
// current value and then for every change, until ctx ends (returning ctx.Err())
// or the stream fails.
type SessionSource interface {
	WatchSessions(ctx context.Context, fn func(domainauth.Session)) error
}

// AccountSource reports the signed-in account, if it holds one.
type AccountSource interface {
	Account() (domainauth.Account, bool)
}

// SessionEvent is one recorded session transition.
type SessionEvent struct {
	ID         string
	Kind       string
	UserID     string
	SignOut    bool
	OccurredAt time.Time
}

// SessionJournal records session transitions.
type SessionJournal interface {
	Record(ctx context.Context, ev SessionEvent) error
}

// SessionHistory is a journal that can also be read back and trimmed.
type SessionHistory interface {
	SessionJournal
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]SessionEvent, error)
	// Prune deletes events that occurred before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
