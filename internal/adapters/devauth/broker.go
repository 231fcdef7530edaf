package devauth

// Package devauth provides an offline credential broker and auth backend pair
// for local development. The broker mints HS256 identity tokens for a
// configured account and the backend accepts exactly those tokens.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/junghoonshin3/bemypet/internal/ports"
)

// Issuer is the iss claim of every dev identity token.
const Issuer = "bemypet-devauth"

// Config controls the dev identity.
// UserID, Email and Secret are required.
type Config struct {
	UserID string
	Email  string
	Name   string
	Secret []byte
	// Audience is used when a request carries no BackendClientID.
	Audience string
	// IDTokenTTL bounds identity token lifetime, default 5m.
	IDTokenTTL time.Duration
	// AccessTokenTTL bounds backend session lifetime, default 1h.
	AccessTokenTTL time.Duration
	// Known marks the account as previously used on this device, so requests
	// filtered to known accounts resolve without the picker.
	Known bool
	Now   func() time.Time
}

func (c Config) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("dev auth: UserID is required")
	}
	if strings.TrimSpace(c.Email) == "" {
		return errors.New("dev auth: Email is required")
	}
	if len(c.Secret) < 16 {
		return errors.New("dev auth: Secret must be at least 16 bytes")
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// IDTokenClaims are the claims of a dev identity token.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Nonce string `json:"nonce"`
}

// Broker implements ports.CredentialBroker without any UI.
type Broker struct {
	cfg Config

	mu       sync.Mutex
	known    bool
	selected bool
}

var _ ports.CredentialBroker = (*Broker)(nil)

// NewBroker constructs a dev broker from Config.
func NewBroker(cfg Config) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.IDTokenTTL <= 0 {
		cfg.IDTokenTTL = 5 * time.Minute
	}
	return &Broker{cfg: cfg, known: cfg.Known}, nil
}

// GetCredential returns a signed identity token bound to req.HashedNonce.
// Filtered requests fail with ErrBrokerNoCredentials until the account has
// been picked once.
func (b *Broker) GetCredential(ctx context.Context, req ports.CredentialRequest) (ports.BrokerCredential, error) {
	if err := ctx.Err(); err != nil {
		return ports.BrokerCredential{}, err
	}
	if req.HashedNonce == "" {
		return ports.BrokerCredential{}, errors.New("dev auth: hashed nonce is required")
	}

	b.mu.Lock()
	if req.FilterByKnownAccounts && !b.known {
		b.mu.Unlock()
		return ports.BrokerCredential{}, ports.ErrBrokerNoCredentials
	}
	b.known = true
	b.selected = true
	b.mu.Unlock()

	now := b.cfg.now()
	audience := req.BackendClientID
	if audience == "" {
		audience = b.cfg.Audience
	}
	claims := IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   b.cfg.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.cfg.IDTokenTTL)),
		},
		Email: b.cfg.Email,
		Name:  b.cfg.Name,
		Nonce: req.HashedNonce,
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.cfg.Secret)
	if err != nil {
		return ports.BrokerCredential{}, fmt.Errorf("sign id token: %w", err)
	}
	return ports.BrokerCredential{
		Type: ports.CredentialTypeIDToken,
		Data: map[string]string{"id_token": signed},
	}, nil
}

// ClearCredentialState forgets the current selection. The account stays known.
func (b *Broker) ClearCredentialState(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.selected = false
	b.mu.Unlock()
	return nil
}

// Selected reports whether an account is currently selected.
func (b *Broker) Selected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}
