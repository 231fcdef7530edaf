package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/observability/metrics"
	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

const (
	defaultStreamBackoff    = 500 * time.Millisecond
	defaultStreamMaxBackoff = 30 * time.Second
	defaultJournalTimeout   = 5 * time.Second
)

var errStreamEnded = errors.New("session stream ended")

// SessionStoreOptions groups dependencies for SessionStore.
type SessionStoreOptions struct {
	Source  ports.SessionSource
	Journal ports.SessionJournal // optional
	Logger  *slog.Logger
	Metrics statsd.Sink

	// InitialBackoff and MaxBackoff bound the delay before re-watching a failed stream.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JournalTimeout time.Duration
}

// SessionStore is the process-wide observable of the current Session.
//
// It starts watching its source as soon as it is constructed and keeps doing so
// until Close. Observers start at Initializing, only ever see the latest value,
// and never see the stream fail: upstream errors become
// NoAuthenticated{IsSignOut: false} and the source is watched again.
type SessionStore struct {
	source         ports.SessionSource
	journal        ports.SessionJournal
	logger         *slog.Logger
	metrics        statsd.Sink
	initialBackoff time.Duration
	maxBackoff     time.Duration
	journalTimeout time.Duration

	feed      *domainauth.Feed
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.AccountSource = (*SessionStore)(nil)

// NewSessionStore constructs the store and starts watching opts.Source.
func NewSessionStore(opts SessionStoreOptions) *SessionStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultStreamBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < initial {
		maxBackoff = max(initial, defaultStreamMaxBackoff)
	}
	journalTimeout := opts.JournalTimeout
	if journalTimeout <= 0 {
		journalTimeout = defaultJournalTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SessionStore{
		source:         opts.Source,
		journal:        opts.Journal,
		logger:         logger.With("component", "session_store"),
		metrics:        opts.Metrics,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		journalTimeout: journalTimeout,
		feed:           domainauth.NewFeed(domainauth.Initializing{}),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Current returns the latest session.
func (s *SessionStore) Current() domainauth.Session { return s.feed.Current() }

// Subscribe returns a channel that immediately holds the latest session and
// then receives every later one. A slow reader only misses intermediate values.
// Call the returned func to unsubscribe.
func (s *SessionStore) Subscribe() (func(), <-chan domainauth.Session) {
	return s.feed.Subscribe()
}

// WaitFor blocks until the current session satisfies pred or ctx ends.
func (s *SessionStore) WaitFor(ctx context.Context, pred func(domainauth.Session) bool) (domainauth.Session, error) {
	unsubscribe, ch := s.feed.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return s.feed.Current(), ctx.Err()
		case sess, ok := <-ch:
			if !ok {
				return s.feed.Current(), errStreamEnded
			}
			if pred(sess) {
				return sess, nil
			}
		}
	}
}

// Settled waits until the store has left Initializing.
func (s *SessionStore) Settled(ctx context.Context) (domainauth.Session, error) {
	return s.WaitFor(ctx, func(sess domainauth.Session) bool {
		_, initializing := sess.(domainauth.Initializing)
		return !initializing
	})
}

// Account reports the signed-in account when the current session is Authenticated.
func (s *SessionStore) Account() (domainauth.Account, bool) {
	a, ok := s.feed.Current().(domainauth.Authenticated)
	if !ok {
		return domainauth.Account{}, false
	}
	return domainauth.Account{UserID: a.UserID, Email: a.Email, Profile: a.Metadata}, true
}

// Close stops watching and closes every subscriber channel. It is meant for
// process teardown and is safe to call more than once.
func (s *SessionStore) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.feed.Close()
	})
}

func (s *SessionStore) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.initialBackoff
	for {
		var seen atomic.Bool
		err := s.source.WatchSessions(ctx, func(sess domainauth.Session) {
			seen.Store(true)
			s.set(ctx, sess)
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errStreamEnded
		}

		s.logger.WarnContext(ctx, "session stream failed", "error", err, "retry_in", backoff.String())
		metrics.EmitStreamFailure(s.metrics, err)
		s.set(ctx, domainauth.NoAuthenticated{IsSignOut: false})

		if seen.Load() {
			backoff = s.initialBackoff
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *SessionStore) set(ctx context.Context, next domainauth.Session) {
	prev := s.feed.Current()
	if !s.feed.Publish(next) {
		return
	}

	s.logger.InfoContext(ctx, "session transition",
		"from", domainauth.Describe(prev),
		"to", domainauth.Describe(next),
	)
	metrics.EmitSessionTransition(s.metrics, prev, next)
	s.record(ctx, next)
}

func (s *SessionStore) record(ctx context.Context, sess domainauth.Session) {
	if s.journal == nil {
		return
	}

	ev := ports.SessionEvent{
		ID:         uuid.NewString(),
		Kind:       domainauth.Kind(sess),
		OccurredAt: time.Now().UTC(),
	}
	switch v := sess.(type) {
	case domainauth.Authenticated:
		ev.UserID = v.UserID
	case domainauth.NoAuthenticated:
		ev.SignOut = v.IsSignOut
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.journalTimeout)
	defer cancel()
	if err := s.journal.Record(rctx, ev); err != nil {
		s.logger.WarnContext(ctx, "record session event failed", "kind", ev.Kind, "error", err)
	}
}
