package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/observability/metrics"
	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

const (
	defaultRefreshMargin = time.Minute
	defaultRefreshRetry  = 10 * time.Second
)

var (
	errFeedClosed     = errors.New("session feed closed")
	errNotifierClosed = errors.New("session notifier closed")
	errNoSession      = errors.New("no session to refresh")
)

// CredentialClearer forgets cached account selection with the platform broker.
// CredentialProvider implements it.
type CredentialClearer interface {
	ClearCredentialState(ctx context.Context) error
}

// IdentityServiceOptions groups dependencies for IdentityService.
type IdentityServiceOptions struct {
	Backend     ports.AuthBackend
	Tokens      ports.TokenStore
	Credentials CredentialClearer     // optional
	Notifier    ports.SessionNotifier // optional
	Logger      *slog.Logger
	Metrics     statsd.Sink

	// RefreshMargin is how long before expiry tokens are refreshed.
	RefreshMargin time.Duration
	// RefreshRetry is the delay between failed refresh attempts.
	RefreshRetry time.Duration
	// Origin identifies this process in change notifications. Defaults to a random UUID.
	Origin string
	Now    func() time.Time
}

// IdentityService exchanges platform identity tokens for backend sessions and
// owns every session mutation: sign-in, sign-out, account deletion, refresh.
//
// Sign-in and sign-out are not mutually excluded; the last publish wins.
type IdentityService struct {
	backend  ports.AuthBackend
	tokens   ports.TokenStore
	creds    CredentialClearer
	notifier ports.SessionNotifier
	logger   *slog.Logger
	metrics  statsd.Sink

	margin time.Duration
	retry  time.Duration
	origin string
	now    func() time.Time

	feed    *domainauth.Feed
	refresh singleflight.Group
}

var _ ports.SessionSource = (*IdentityService)(nil)

// NewIdentityService constructs a new IdentityService.
func NewIdentityService(opts IdentityServiceOptions) *IdentityService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	margin := opts.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	retry := opts.RefreshRetry
	if retry <= 0 {
		retry = defaultRefreshRetry
	}
	origin := strings.TrimSpace(opts.Origin)
	if origin == "" {
		origin = uuid.NewString()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &IdentityService{
		backend:  opts.Backend,
		tokens:   opts.Tokens,
		creds:    opts.Credentials,
		notifier: opts.Notifier,
		logger:   logger.With("component", "identity_service"),
		metrics:  opts.Metrics,
		margin:   margin,
		retry:    retry,
		origin:   origin,
		now:      now,
		feed:     domainauth.NewFeed(domainauth.Initializing{}),
	}
}

// Origin returns the identifier this service stamps on change notifications.
func (s *IdentityService) Origin() string { return s.origin }

// Current returns the latest session this service has published.
func (s *IdentityService) Current() domainauth.Session { return s.feed.Current() }

// SignIn exchanges an identity token for a backend session and publishes it.
// Failures are returned as *domainauth.AuthError and are never retried.
func (s *IdentityService) SignIn(ctx context.Context, idToken, rawNonce string) (err error) {
	start := s.now()
	defer func() {
		metrics.EmitAuthOperation(s.metrics, metrics.AuthMetric{
			Operation: metrics.OpSignIn,
			Duration:  s.now().Sub(start),
			Err:       err,
		})
	}()

	if strings.TrimSpace(idToken) == "" {
		return domainauth.NewAuthError(domainauth.ErrCodeInvalidInput, "identity token is required", nil)
	}
	if rawNonce == "" {
		return domainauth.NewAuthError(domainauth.ErrCodeInvalidInput, "nonce is required", nil)
	}

	// Catch a replayed token before it reaches the backend.
	if claims, ok := parseUnverifiedIDToken(idToken); ok && claims.Nonce != "" {
		if !domainauth.NonceMatches(rawNonce, claims.Nonce) {
			return domainauth.NewAuthError(domainauth.ErrCodeNonceMismatch, "identity token nonce does not match request", nil)
		}
	}

	tokens, err := s.backend.ExchangeIDToken(ctx, idToken, rawNonce)
	if err != nil {
		return asAuthError(err, domainauth.ErrCodeRejected, "exchange identity token")
	}
	if tokens.UserID == "" || tokens.AccessToken == "" {
		return domainauth.NewAuthError(domainauth.ErrCodeRejected, "backend returned an incomplete session", nil)
	}

	if err := s.tokens.Save(ctx, tokens); err != nil {
		return domainauth.NewAuthError(domainauth.ErrCodeStorage, "save session", err)
	}

	s.feed.Publish(tokens.Session())
	s.notify(ctx, ports.ChangeSignedIn, tokens.UserID)
	s.logger.InfoContext(ctx, "signed in", "user_id", tokens.UserID)
	return nil
}

// SignOut clears broker credential state, revokes the backend session
// best-effort and publishes NoAuthenticated{IsSignOut: true}.
// Only a failure to clear the local token store is returned.
func (s *IdentityService) SignOut(ctx context.Context) (err error) {
	start := s.now()
	defer func() {
		metrics.EmitAuthOperation(s.metrics, metrics.AuthMetric{
			Operation: metrics.OpSignOut,
			Duration:  s.now().Sub(start),
			Err:       err,
		})
	}()

	s.clearCredentials(ctx)

	tokens, loadErr := s.tokens.Load(ctx)
	switch {
	case loadErr == nil && tokens.AccessToken != "":
		if revokeErr := s.backend.SignOut(ctx, tokens.AccessToken); revokeErr != nil {
			s.logger.WarnContext(ctx, "backend sign-out failed", "user_id", tokens.UserID, "error", revokeErr)
		}
	case loadErr != nil && !errors.Is(loadErr, ports.ErrNoTokens):
		s.logger.WarnContext(ctx, "load session for sign-out failed", "error", loadErr)
	}

	return s.endSession(ctx, ports.ChangeSignedOut, tokens.UserID)
}

// DeleteAccount deletes userID on the backend and, on success, ends the session
// exactly like SignOut. userID must be the signed-in user.
func (s *IdentityService) DeleteAccount(ctx context.Context, userID string) (err error) {
	start := s.now()
	defer func() {
		metrics.EmitAuthOperation(s.metrics, metrics.AuthMetric{
			Operation: metrics.OpDeleteAccount,
			Duration:  s.now().Sub(start),
			Err:       err,
		})
	}()

	if strings.TrimSpace(userID) == "" {
		return domainauth.NewAuthError(domainauth.ErrCodeInvalidInput, "user ID is required", nil)
	}

	tokens, err := s.tokens.Load(ctx)
	switch {
	case errors.Is(err, ports.ErrNoTokens):
		return domainauth.NewAuthError(domainauth.ErrCodeNotSignedIn, "no signed-in session", nil)
	case err != nil:
		return domainauth.NewAuthError(domainauth.ErrCodeStorage, "load session", err)
	}
	if tokens.UserID != userID {
		return domainauth.NewAuthError(domainauth.ErrCodeNotSignedIn, fmt.Sprintf("user %s is not signed in", userID), nil)
	}

	if tokens.Session().Expired(s.now()) {
		res, refreshErr := s.refreshShared(ctx)
		if refreshErr != nil {
			return asAuthError(refreshErr, domainauth.ErrCodeRejected, "refresh session before deletion")
		}
		tokens = res.tokens
	}

	if err := s.backend.DeleteUser(ctx, tokens.AccessToken, userID); err != nil {
		return asAuthError(err, domainauth.ErrCodeRejected, "delete account")
	}

	s.logger.InfoContext(ctx, "account deleted", "user_id", userID)
	s.clearCredentials(ctx)
	return s.endSession(ctx, ports.ChangeDeleted, userID)
}

// WatchSessions is the session stream. It first emits what the token store
// currently holds, then every later change: local sign-in, sign-out and
// deletion, refreshes, expiry, and changes announced by other processes.
// Tokens are refreshed ahead of expiry while a watcher is running.
//
// It returns ctx.Err() when ctx ends and a *domainauth.SessionStreamError when
// the stream fails.
func (s *IdentityService) WatchSessions(ctx context.Context, fn func(domainauth.Session)) error {
	var changes <-chan ports.Change
	if s.notifier != nil {
		ch, stop, err := s.notifier.Listen(ctx)
		if err != nil {
			return &domainauth.SessionStreamError{Op: "listen", Cause: err}
		}
		defer stop()
		changes = ch
	}

	unsubscribe, values := s.feed.Subscribe()
	defer unsubscribe()

	var (
		timer        *time.Timer
		due          <-chan time.Time
		retryPending bool
	)
	arm := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		due = timer.C
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, due = nil, nil
	}
	defer disarm()

	expired, err := s.restore(ctx, "")
	if err != nil {
		return err
	}
	if expired {
		arm(0)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sess, ok := <-values:
			if !ok {
				return &domainauth.SessionStreamError{Op: "watch", Cause: errFeedClosed}
			}
			if _, initializing := sess.(domainauth.Initializing); initializing {
				continue
			}
			fn(sess)

			switch v := sess.(type) {
			case domainauth.Authenticated:
				retryPending = false
				if v.ExpiresAt.IsZero() {
					disarm()
				} else {
					arm(s.refreshDelay(v.ExpiresAt))
				}
			case domainauth.NoAuthenticated:
				if v.IsSignOut || !retryPending {
					retryPending = false
					disarm()
				}
			}

		case change, ok := <-changes:
			if !ok {
				return &domainauth.SessionStreamError{Op: "listen", Cause: errNotifierClosed}
			}
			if change.Origin == s.origin {
				continue
			}
			s.logger.DebugContext(ctx, "peer session change", "kind", change.Kind, "origin", change.Origin)
			expired, err := s.restore(ctx, change.Kind)
			if err != nil {
				return err
			}
			if expired {
				arm(0)
			}

		case <-due:
			timer, due = nil, nil
			if s.refreshDue(ctx) {
				retryPending = true
				arm(s.retry)
			}
		}
	}
}

// restore publishes whatever the token store holds. It reports true when the
// stored tokens are already expired and need a refresh before publishing.
func (s *IdentityService) restore(ctx context.Context, hint ports.ChangeKind) (bool, error) {
	tokens, err := s.tokens.Load(ctx)
	switch {
	case errors.Is(err, ports.ErrNoTokens):
		if hint == ports.ChangeSignedOut || hint == ports.ChangeDeleted {
			s.feed.Publish(domainauth.NoAuthenticated{IsSignOut: true})
		} else {
			s.publishUnauthenticated()
		}
		return false, nil
	case err != nil:
		return false, &domainauth.SessionStreamError{Op: "load", Cause: err}
	}

	sess := tokens.Session()
	if sess.Expired(s.now()) {
		return true, nil
	}
	s.feed.Publish(sess)
	return false, nil
}

// refreshDelay schedules a refresh margin ahead of expiry, or halfway through
// the remaining lifetime when that is shorter than the margin.
func (s *IdentityService) refreshDelay(expiresAt time.Time) time.Duration {
	remaining := expiresAt.Sub(s.now())
	if remaining <= 0 {
		return 0
	}
	if d := remaining - s.margin; d > 0 {
		return d
	}
	return remaining / 2
}

type refreshResult struct {
	tokens    domainauth.Tokens
	refreshed bool
}

// refreshDue runs one scheduled refresh and publishes the outcome. It reports
// whether the refresh should be retried.
func (s *IdentityService) refreshDue(ctx context.Context) bool {
	res, err := s.refreshShared(ctx)
	if err == nil {
		s.feed.Publish(res.tokens.Session())
		if res.refreshed {
			s.notify(ctx, ports.ChangeRefreshed, res.tokens.UserID)
		}
		return false
	}

	switch code := domainauth.ErrorCode(err); {
	case errors.Is(err, errNoSession):
		s.publishUnauthenticated()
		return false

	case code == domainauth.ErrCodeRevoked || code == domainauth.ErrCodeRejected:
		s.logger.WarnContext(ctx, "session revoked", "error", err)
		if clearErr := s.tokens.Clear(ctx); clearErr != nil {
			s.logger.ErrorContext(ctx, "clear revoked session failed", "error", clearErr)
		}
		s.feed.Publish(domainauth.NoAuthenticated{IsSignOut: false})
		s.notify(ctx, ports.ChangeExpired, res.tokens.UserID)
		return false

	default:
		s.logger.WarnContext(ctx, "session refresh failed, will retry",
			"error", err,
			"retry_in", s.retry.String(),
		)
		if cur, ok := s.feed.Current().(domainauth.Authenticated); !ok || cur.Expired(s.now()) {
			s.feed.Publish(domainauth.NoAuthenticated{IsSignOut: false})
		}
		return true
	}
}

// refreshShared collapses concurrent refreshes from every watcher into one call.
func (s *IdentityService) refreshShared(ctx context.Context) (refreshResult, error) {
	v, err, _ := s.refresh.Do("refresh", func() (any, error) {
		return s.refreshTokens(ctx)
	})
	res, _ := v.(refreshResult)
	return res, err
}

// refreshTokens rotates the stored tokens unless another process already has.
// On error the returned result still carries the tokens that were loaded.
func (s *IdentityService) refreshTokens(ctx context.Context) (res refreshResult, err error) {
	cur, err := s.tokens.Load(ctx)
	switch {
	case errors.Is(err, ports.ErrNoTokens):
		return refreshResult{}, errNoSession
	case err != nil:
		return refreshResult{}, domainauth.NewAuthError(domainauth.ErrCodeStorage, "load session", err)
	}
	if !cur.ExpiresAt.IsZero() && cur.ExpiresAt.Sub(s.now()) > s.margin {
		return refreshResult{tokens: cur}, nil
	}

	start := s.now()
	defer func() {
		metrics.EmitAuthOperation(s.metrics, metrics.AuthMetric{
			Operation: metrics.OpRefresh,
			Duration:  s.now().Sub(start),
			Err:       err,
		})
	}()

	next, err := s.backend.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return refreshResult{tokens: cur}, asAuthError(err, domainauth.ErrCodeNetwork, "refresh session")
	}

	if next.UserID == "" {
		next.UserID = cur.UserID
	}
	if next.UserID != cur.UserID {
		return refreshResult{tokens: cur}, domainauth.NewAuthError(domainauth.ErrCodeRevoked, "refresh returned a different user", nil)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Email == "" {
		next.Email = cur.Email
	}
	if len(next.Metadata) == 0 {
		next.Metadata = cur.Metadata
	}

	if saveErr := s.tokens.Save(ctx, next); saveErr != nil {
		s.logger.ErrorContext(ctx, "save refreshed session failed", "user_id", next.UserID, "error", saveErr)
	}
	s.logger.DebugContext(ctx, "session refreshed",
		"user_id", next.UserID,
		"expires_at", next.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return refreshResult{tokens: next, refreshed: true}, nil
}

// endSession clears local state and publishes an explicit sign-out.
func (s *IdentityService) endSession(ctx context.Context, kind ports.ChangeKind, userID string) error {
	clearErr := s.tokens.Clear(ctx)

	s.feed.Publish(domainauth.NoAuthenticated{IsSignOut: true})
	s.notify(ctx, kind, userID)
	s.logger.InfoContext(ctx, "session ended", "kind", kind, "user_id", userID)

	if clearErr != nil {
		return domainauth.NewAuthError(domainauth.ErrCodeStorage, "clear session", clearErr)
	}
	return nil
}

// publishUnauthenticated publishes NoAuthenticated{false} unless the current
// value already says there is no session.
func (s *IdentityService) publishUnauthenticated() {
	if _, ok := s.feed.Current().(domainauth.NoAuthenticated); ok {
		return
	}
	s.feed.Publish(domainauth.NoAuthenticated{IsSignOut: false})
}

func (s *IdentityService) clearCredentials(ctx context.Context) {
	if s.creds == nil {
		return
	}
	if err := s.creds.ClearCredentialState(ctx); err != nil {
		s.logger.WarnContext(ctx, "clear credential state failed", "error", err)
	}
}

func (s *IdentityService) notify(ctx context.Context, kind ports.ChangeKind, userID string) {
	if s.notifier == nil {
		return
	}
	change := ports.Change{Kind: kind, UserID: userID, Origin: s.origin, At: s.now().UTC()}
	if err := s.notifier.Notify(ctx, change); err != nil {
		s.logger.WarnContext(ctx, "session change notification failed", "kind", kind, "error", err)
	}
}

// asAuthError passes AuthErrors through and classifies everything else:
// context and network failures become ErrCodeNetwork, the rest fallback.
func asAuthError(err error, fallback domainauth.AuthErrorCode, message string) error {
	var ae *domainauth.AuthError
	if errors.As(err, &ae) {
		return err
	}

	code := fallback
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		code = domainauth.ErrCodeNetwork
	}
	return domainauth.NewAuthError(code, message, err)
}
