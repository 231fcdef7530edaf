package devauth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

type devSession struct {
	userID string
	email  string
	name   string
	access string
}

// Backend implements ports.AuthBackend for tokens minted by Broker. Sessions
// live in memory, so a restarted backend revokes every refresh token.
type Backend struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]devSession // refresh token -> session
	access   map[string]string     // access token -> refresh token
	deleted  map[string]bool
}

var _ ports.AuthBackend = (*Backend)(nil)

// NewBackend constructs a dev backend sharing cfg.Secret with the broker.
func NewBackend(cfg Config) (*Backend, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("dev auth: Secret must be at least 16 bytes")
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Backend{
		secret:   append([]byte(nil), cfg.Secret...),
		ttl:      ttl,
		now:      cfg.now,
		sessions: make(map[string]devSession),
		access:   make(map[string]string),
		deleted:  make(map[string]bool),
	}, nil
}

func (b *Backend) ExchangeIDToken(_ context.Context, idToken, rawNonce string) (domainauth.Tokens, error) {
	var claims IDTokenClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(b.now),
	)
	_, err := parser.ParseWithClaims(idToken, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	})
	if err != nil {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeRejected, "invalid id token", err)
	}
	if !domainauth.NonceMatches(rawNonce, claims.Nonce) {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeNonceMismatch, "nonce does not match id token", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.deleted, claims.Subject)
	return b.issueLocked(devSession{userID: claims.Subject, email: claims.Email, name: claims.Name}), nil
}

func (b *Backend) Refresh(_ context.Context, refreshToken string) (domainauth.Tokens, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[refreshToken]
	if !ok || b.deleted[sess.userID] {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeRevoked, "refresh token revoked", nil)
	}
	delete(b.sessions, refreshToken)
	delete(b.access, sess.access)
	return b.issueLocked(sess), nil
}

func (b *Backend) SignOut(_ context.Context, accessToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if refresh, ok := b.access[accessToken]; ok {
		delete(b.sessions, refresh)
		delete(b.access, accessToken)
	}
	return nil
}

func (b *Backend) DeleteUser(_ context.Context, accessToken, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	refresh, ok := b.access[accessToken]
	if !ok || b.sessions[refresh].userID != userID {
		return domainauth.NewAuthError(domainauth.ErrCodeRejected, "access token does not belong to user", nil)
	}
	b.deleted[userID] = true
	for rt, sess := range b.sessions {
		if sess.userID == userID {
			delete(b.sessions, rt)
			delete(b.access, sess.access)
		}
	}
	return nil
}

// Sessions reports how many live sessions the backend holds.
func (b *Backend) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Backend) issueLocked(sess devSession) domainauth.Tokens {
	sess.access = "dev-at-" + uuid.NewString()
	refresh := "dev-rt-" + uuid.NewString()
	b.sessions[refresh] = sess
	b.access[sess.access] = refresh

	meta := map[string]string{"email": sess.email}
	if sess.name != "" {
		meta["name"] = sess.name
	}
	raw, _ := json.Marshal(meta)

	return domainauth.Tokens{
		UserID:       sess.userID,
		AccessToken:  sess.access,
		RefreshToken: refresh,
		ExpiresAt:    b.now().Add(b.ttl).UTC(),
		Email:        sess.email,
		Metadata:     raw,
	}
}
