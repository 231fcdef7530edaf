package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	authmocks "github.com/junghoonshin3/bemypet/internal/mocks/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

func newTestSessionStore(t *testing.T, src ports.SessionSource, journal ports.SessionJournal) *SessionStore {
	t.Helper()
	store := NewSessionStore(SessionStoreOptions{
		Source:         src,
		Journal:        journal,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
	t.Cleanup(store.Close)
	return store
}

func waitFor(t *testing.T, store *SessionStore, want domainauth.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := store.WaitFor(ctx, func(s domainauth.Session) bool { return domainauth.SessionsEqual(s, want) })
	require.NoError(t, err, "last value %s", domainauth.Describe(got))
}

func authenticated(userID string) domainauth.Authenticated {
	return domainauth.Authenticated{
		UserID:       userID,
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// recorder collects every value a subscriber sees.
type recorder struct {
	mu     sync.Mutex
	values []domainauth.Session
	done   chan struct{}
}

func record(store *SessionStore) (*recorder, func()) {
	unsubscribe, ch := store.Subscribe()
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for s := range ch {
			r.mu.Lock()
			r.values = append(r.values, s)
			r.mu.Unlock()
		}
	}()
	return r, func() {
		unsubscribe()
		<-r.done
	}
}

func (r *recorder) snapshot() []domainauth.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domainauth.Session(nil), r.values...)
}

func TestSessionStore_StartsInitializing(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)

	assert.Equal(t, domainauth.Initializing{}, store.Current())

	unsubscribe, ch := store.Subscribe()
	defer unsubscribe()
	assert.Equal(t, domainauth.Initializing{}, <-ch)

	_, ok := store.Account()
	assert.False(t, ok)
}

func TestSessionStore_WatchesEagerly(t *testing.T) {
	src := authmocks.NewScriptedSource()
	newTestSessionStore(t, src, nil)

	require.Eventually(t, func() bool { return src.Watches() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionStore_RepublishesUpstream(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)

	src.Emit(authenticated("u1"))
	waitFor(t, store, authenticated("u1"))

	acct, ok := store.Account()
	require.True(t, ok)
	assert.Equal(t, "u1", acct.UserID)

	src.Emit(domainauth.NoAuthenticated{IsSignOut: true})
	waitFor(t, store, domainauth.NoAuthenticated{IsSignOut: true})
}

func TestSessionStore_UpstreamErrorFallsBackAndContinues(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)

	src.Emit(authenticated("u1"))
	waitFor(t, store, authenticated("u1"))

	src.Fail(&domainauth.SessionStreamError{Op: "listen", Cause: errors.New("connection reset")})
	waitFor(t, store, domainauth.NoAuthenticated{IsSignOut: false})

	src.Emit(authenticated("u2"))
	waitFor(t, store, authenticated("u2"))
	assert.GreaterOrEqual(t, src.Watches(), 2)
}

func TestSessionStore_RepeatedFailuresNeverTerminate(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)
	rec, stop := record(store)

	for i := 0; i < 5; i++ {
		src.Fail(errors.New("flaky"))
	}
	require.Eventually(t, func() bool { return src.Watches() >= 6 }, 2*time.Second, 5*time.Millisecond)

	src.Emit(authenticated("u1"))
	waitFor(t, store, authenticated("u1"))

	stop()
	values := rec.snapshot()
	require.NotEmpty(t, values)
	assert.True(t, domainauth.SessionsEqual(authenticated("u1"), values[len(values)-1]))
}

func TestSessionStore_InitializingNeverRecurs(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)
	rec, stop := record(store)

	src.Emit(domainauth.NoAuthenticated{IsSignOut: false})
	src.Emit(domainauth.Initializing{})
	src.Emit(authenticated("u1"))
	src.Fail(errors.New("boom"))
	src.Emit(domainauth.Initializing{})
	src.Emit(domainauth.NoAuthenticated{IsSignOut: true})
	waitFor(t, store, domainauth.NoAuthenticated{IsSignOut: true})

	stop()
	values := rec.snapshot()
	require.NotEmpty(t, values)
	assert.Equal(t, domainauth.Initializing{}, values[0])
	for i, v := range values[1:] {
		assert.NotEqual(t, domainauth.Initializing{}, v, "value %d", i+1)
	}
}

func TestSessionStore_LateSubscriberGetsLatestOnly(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)

	src.Emit(domainauth.NoAuthenticated{IsSignOut: false})
	src.Emit(authenticated("u1"))
	src.Emit(authenticated("u2"))
	waitFor(t, store, authenticated("u2"))

	unsubscribe, ch := store.Subscribe()
	defer unsubscribe()

	assert.True(t, domainauth.SessionsEqual(authenticated("u2"), <-ch))
	select {
	case s := <-ch:
		t.Fatalf("unexpected historical value %s", domainauth.Describe(s))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionStore_JournalsTransitions(t *testing.T) {
	src := authmocks.NewScriptedSource()
	journal := &authmocks.MemoryJournal{}
	store := newTestSessionStore(t, src, journal)

	src.Emit(authenticated("u1"))
	src.Emit(authenticated("u1"))
	src.Emit(domainauth.NoAuthenticated{IsSignOut: true})
	waitFor(t, store, domainauth.NoAuthenticated{IsSignOut: true})

	require.Eventually(t, func() bool { return len(journal.Events()) == 2 }, time.Second, 5*time.Millisecond)
	events := journal.Events()
	assert.Equal(t, "authenticated", events[0].Kind)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "signed_out", events[1].Kind)
	assert.True(t, events[1].SignOut)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestSessionStore_JournalFailureIsIgnored(t *testing.T) {
	src := authmocks.NewScriptedSource()
	journal := &authmocks.MemoryJournal{Err: errors.New("db down")}
	store := newTestSessionStore(t, src, journal)

	src.Emit(authenticated("u1"))
	waitFor(t, store, authenticated("u1"))
}

func TestSessionStore_WaitForHonoursContext(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := newTestSessionStore(t, src, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := store.Settled(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domainauth.Initializing{}, got)
}

func TestSessionStore_Close(t *testing.T) {
	src := authmocks.NewScriptedSource()
	store := NewSessionStore(SessionStoreOptions{Source: src})
	_, ch := store.Subscribe()
	<-ch

	store.Close()
	store.Close()

	_, open := <-ch
	assert.False(t, open)
}

func newStoreOverIdentity(t *testing.T) (*SessionStore, *identityHarness) {
	t.Helper()
	h := newIdentityHarness(t)
	store := newTestSessionStore(t, h.svc, &authmocks.MemoryJournal{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	settled, err := store.Settled(ctx)
	require.NoError(t, err)
	require.Equal(t, domainauth.NoAuthenticated{IsSignOut: false}, settled)
	return store, h
}

func TestSessionStore_SignInThenSignOut(t *testing.T) {
	store, h := newStoreOverIdentity(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.SignIn(context.Background(), "id-token", "nonce"))
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		sess, err := store.WaitFor(ctx, func(s domainauth.Session) bool {
			_, ok := s.(domainauth.Authenticated)
			return ok
		})
		cancel()
		require.NoError(t, err)
		assert.Equal(t, "user-1", sess.(domainauth.Authenticated).UserID)

		require.NoError(t, h.svc.SignOut(context.Background()))
		waitFor(t, store, domainauth.NoAuthenticated{IsSignOut: true})
	}
}

func TestSessionStore_CancelledPickerDoesNotPublish(t *testing.T) {
	store, h := newStoreOverIdentity(t)
	h.broker.GetCredentialFunc = func(context.Context, ports.CredentialRequest) (ports.BrokerCredential, error) {
		return ports.BrokerCredential{}, ports.ErrBrokerCancelled
	}
	provider := NewCredentialProvider(CredentialProviderOptions{Broker: h.broker})
	flow := NewLoginFlow(LoginFlowOptions{Credentials: provider, Identity: h.svc})

	unsubscribe, ch := store.Subscribe()
	defer unsubscribe()
	before := <-ch

	err := flow.SignIn(context.Background())
	require.True(t, domainauth.IsCancelled(err))

	select {
	case s := <-ch:
		t.Fatalf("unexpected publish %s", domainauth.Describe(s))
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, domainauth.SessionsEqual(before, store.Current()))
}

func TestSessionStore_DeleteAccountSeenByEverySubscriber(t *testing.T) {
	store, h := newStoreOverIdentity(t)
	h.backend.DefaultUserID = "u1"
	require.NoError(t, h.svc.SignIn(context.Background(), "id-token", "nonce"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := store.WaitFor(ctx, func(s domainauth.Session) bool {
		a, ok := s.(domainauth.Authenticated)
		return ok && a.UserID == "u1"
	})
	require.NoError(t, err)

	signedOut := func(s domainauth.Session) bool {
		return domainauth.SessionsEqual(s, domainauth.NoAuthenticated{IsSignOut: true})
	}
	results := make(chan domainauth.Session, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, _ := store.WaitFor(ctx, signedOut)
			results <- s
		}()
	}

	require.NoError(t, h.svc.DeleteAccount(context.Background(), "u1"))

	for i := 0; i < 2; i++ {
		select {
		case s := <-results:
			assert.Equal(t, domainauth.NoAuthenticated{IsSignOut: true}, s)
		case <-ctx.Done():
			t.Fatal("subscriber never observed deletion")
		}
	}
	assert.Equal(t, domainauth.NoAuthenticated{IsSignOut: true}, store.Current())
}

func TestSessionStore_RecoversFromIdentityStreamFailure(t *testing.T) {
	h := newIdentityHarness(t)
	h.store.SetLoadErr(errors.New("keychain locked"))
	store := newTestSessionStore(t, h.svc, nil)

	waitFor(t, store, domainauth.NoAuthenticated{IsSignOut: false})

	h.store.SetLoadErr(nil)
	require.NoError(t, h.svc.SignIn(context.Background(), "id-token", "nonce"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := store.WaitFor(ctx, func(s domainauth.Session) bool {
		_, ok := s.(domainauth.Authenticated)
		return ok
	})
	require.NoError(t, err)
}
