// Package auth contains hand-written fakes for the auth ports, for tests that
// need stateful behavior rather than gomock expectations.
package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthBackend      = (*FakeBackend)(nil)
	_ ports.CredentialBroker = (*FakeBroker)(nil)
	_ ports.TokenStore       = (*MemoryTokenStore)(nil)
	_ ports.SessionNotifier  = (*LocalNotifier)(nil)
	_ ports.SessionSource    = (*ScriptedSource)(nil)
	_ ports.SessionJournal   = (*MemoryJournal)(nil)
)

// FakeBackend simulates the remote auth backend with deterministic tokens.
// Unset funcs fall back to in-memory behavior: exchange issues tokens for
// DefaultUserID, refresh rotates tokens issued earlier, anything else is revoked.
type FakeBackend struct {
	ExchangeFunc   func(ctx context.Context, idToken, rawNonce string) (domainauth.Tokens, error)
	RefreshFunc    func(ctx context.Context, refreshToken string) (domainauth.Tokens, error)
	SignOutFunc    func(ctx context.Context, accessToken string) error
	DeleteUserFunc func(ctx context.Context, accessToken, userID string) error

	DefaultUserID string
	DefaultEmail  string
	TokenTTL      time.Duration

	mu     sync.Mutex
	seq    int
	issued map[string]string // refresh token -> user id

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	signOutCalls  atomic.Int32
	deleteCalls   atomic.Int32
}

// NewFakeBackend creates a FakeBackend with sensible defaults.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		DefaultUserID: "user-1",
		DefaultEmail:  "user1@example.com",
		TokenTTL:      time.Hour,
	}
}

func (b *FakeBackend) ExchangeIDToken(ctx context.Context, idToken, rawNonce string) (domainauth.Tokens, error) {
	b.exchangeCalls.Add(1)
	if b.ExchangeFunc != nil {
		return b.ExchangeFunc(ctx, idToken, rawNonce)
	}
	return b.issue(b.DefaultUserID), nil
}

func (b *FakeBackend) Refresh(ctx context.Context, refreshToken string) (domainauth.Tokens, error) {
	b.refreshCalls.Add(1)
	if b.RefreshFunc != nil {
		return b.RefreshFunc(ctx, refreshToken)
	}

	b.mu.Lock()
	userID, ok := b.issued[refreshToken]
	if ok {
		delete(b.issued, refreshToken)
	}
	b.mu.Unlock()

	if !ok {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeRevoked, "refresh token not found", nil)
	}
	return b.issue(userID), nil
}

func (b *FakeBackend) SignOut(ctx context.Context, accessToken string) error {
	b.signOutCalls.Add(1)
	if b.SignOutFunc != nil {
		return b.SignOutFunc(ctx, accessToken)
	}
	return nil
}

func (b *FakeBackend) DeleteUser(ctx context.Context, accessToken, userID string) error {
	b.deleteCalls.Add(1)
	if b.DeleteUserFunc != nil {
		return b.DeleteUserFunc(ctx, accessToken, userID)
	}
	return nil
}

// ExchangeCalls returns the number of ExchangeIDToken calls.
func (b *FakeBackend) ExchangeCalls() int { return int(b.exchangeCalls.Load()) }

// RefreshCalls returns the number of Refresh calls.
func (b *FakeBackend) RefreshCalls() int { return int(b.refreshCalls.Load()) }

// SignOutCalls returns the number of SignOut calls.
func (b *FakeBackend) SignOutCalls() int { return int(b.signOutCalls.Load()) }

// DeleteCalls returns the number of DeleteUser calls.
func (b *FakeBackend) DeleteCalls() int { return int(b.deleteCalls.Load()) }

// Issue returns a fresh token set for userID that the default Refresh accepts.
func (b *FakeBackend) Issue(userID string) domainauth.Tokens { return b.issue(userID) }

func (b *FakeBackend) issue(userID string) domainauth.Tokens {
	b.mu.Lock()
	defer b.mu.Unlock()

	if userID == "" {
		userID = "user-1"
	}
	ttl := b.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	b.seq++
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	if b.issued == nil {
		b.issued = make(map[string]string)
	}
	b.issued[refresh] = userID

	return domainauth.Tokens{
		UserID:       userID,
		AccessToken:  fmt.Sprintf("access-%d", b.seq),
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(ttl),
		Email:        b.DefaultEmail,
	}
}

// FakeBroker simulates the platform credential broker.
type FakeBroker struct {
	GetCredentialFunc func(ctx context.Context, req ports.CredentialRequest) (ports.BrokerCredential, error)
	ClearFunc         func(ctx context.Context) error

	mu         sync.Mutex
	requests   []ports.CredentialRequest
	clearCalls int
}

func (b *FakeBroker) GetCredential(ctx context.Context, req ports.CredentialRequest) (ports.BrokerCredential, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.GetCredentialFunc != nil {
		return b.GetCredentialFunc(ctx, req)
	}
	return ports.BrokerCredential{
		Type: ports.CredentialTypeIDToken,
		Data: map[string]string{"id_token": "id-token-for-" + req.HashedNonce},
	}, nil
}

func (b *FakeBroker) ClearCredentialState(ctx context.Context) error {
	b.mu.Lock()
	b.clearCalls++
	b.mu.Unlock()

	if b.ClearFunc != nil {
		return b.ClearFunc(ctx)
	}
	return nil
}

// Requests returns a copy of every request received so far.
func (b *FakeBroker) Requests() []ports.CredentialRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ports.CredentialRequest(nil), b.requests...)
}

// ClearCalls returns the number of ClearCredentialState calls.
func (b *FakeBroker) ClearCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clearCalls
}

// MemoryTokenStore is an in-memory TokenStore. Set LoadErr, SaveErr or ClearErr
// to simulate storage failures.
type MemoryTokenStore struct {
	mu       sync.Mutex
	tokens   *domainauth.Tokens
	LoadErr  error
	SaveErr  error
	ClearErr error
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Load(_ context.Context) (domainauth.Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return domainauth.Tokens{}, m.LoadErr
	}
	if m.tokens == nil {
		return domainauth.Tokens{}, ports.ErrNoTokens
	}
	return *m.tokens, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, tokens domainauth.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.tokens = &tokens
	return nil
}

func (m *MemoryTokenStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.tokens = nil
	return nil
}

// SetLoadErr changes the Load failure under the store lock.
func (m *MemoryTokenStore) SetLoadErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadErr = err
}

// LocalNotifier is an in-process SessionNotifier shared by several services in tests.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[chan ports.Change]struct{}
}

// NewLocalNotifier creates a notifier with no listeners.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[chan ports.Change]struct{})}
}

func (n *LocalNotifier) Notify(_ context.Context, change ports.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Listen(_ context.Context) (<-chan ports.Change, func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan ports.Change, 8)
	n.subs[ch] = struct{}{}
	stop := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
	}
	return ch, stop, nil
}

// SourceStep is one scripted upstream event: a session value or a failure.
type SourceStep struct {
	Session domainauth.Session
	Err     error
}

// ScriptedSource is a SessionSource driven by the test through Steps.
// Each WatchSessions call consumes steps until one carries an error.
type ScriptedSource struct {
	Steps   chan SourceStep
	watches atomic.Int32
}

// NewScriptedSource creates a source with a buffered step channel.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{Steps: make(chan SourceStep, 16)}
}

func (s *ScriptedSource) WatchSessions(ctx context.Context, fn func(domainauth.Session)) error {
	s.watches.Add(1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case step := <-s.Steps:
			if step.Err != nil {
				return step.Err
			}
			fn(step.Session)
		}
	}
}

// Emit queues a session value.
func (s *ScriptedSource) Emit(sess domainauth.Session) { s.Steps <- SourceStep{Session: sess} }

// Fail queues a stream failure.
func (s *ScriptedSource) Fail(err error) { s.Steps <- SourceStep{Err: err} }

// Watches returns how many times WatchSessions has been entered.
func (s *ScriptedSource) Watches() int { return int(s.watches.Load()) }

// MemoryJournal records session events in memory.
type MemoryJournal struct {
	mu     sync.Mutex
	events []ports.SessionEvent
	Err    error
}

func (j *MemoryJournal) Record(_ context.Context, ev ports.SessionEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return j.Err
	}
	j.events = append(j.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (j *MemoryJournal) Events() []ports.SessionEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ports.SessionEvent(nil), j.events...)
}
