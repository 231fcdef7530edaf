package redis

// Package redis provides Redis-backed session persistence and change notification.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/junghoonshin3/bemypet/internal/data/cryptoutil"
	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

const (
	defaultPrefix   = "bemypet:"
	defaultDeviceID = "default"
)

// TokenStoreOptions configures TokenStore.
type TokenStoreOptions struct {
	Prefix   string // key prefix, default "bemypet:"
	DeviceID string // one stored session per device, default "default"
	// TTL bounds how long a session survives without being saved again. It
	// should cover the refresh token lifetime, not the access token's. Zero keeps it forever.
	TTL time.Duration
	// Encryptor seals the stored session, bound to its key. Nil stores plain JSON.
	Encryptor cryptoutil.Encryptor
}

// TokenStore persists the backend session as JSON under a per-device key.
type TokenStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	enc    cryptoutil.Encryptor
}

var _ ports.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a Redis-backed token store.
func NewTokenStore(client redis.UniversalClient, opts TokenStoreOptions) *TokenStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	device := strings.TrimSpace(opts.DeviceID)
	if device == "" {
		device = defaultDeviceID
	}
	return &TokenStore{
		client: client,
		key:    prefix + "session:" + device,
		ttl:    opts.TTL,
		enc:    opts.Encryptor,
	}
}

// Key returns the Redis key holding the session.
func (s *TokenStore) Key() string { return s.key }

func (s *TokenStore) Load(ctx context.Context) (domainauth.Tokens, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Tokens{}, ports.ErrNoTokens
		}
		return domainauth.Tokens{}, fmt.Errorf("redis get: %w", err)
	}

	if s.enc != nil {
		if data, err = s.enc.Decrypt(string(data), []byte(s.key)); err != nil {
			return domainauth.Tokens{}, fmt.Errorf("decrypt session: %w", err)
		}
	}

	var tokens domainauth.Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return domainauth.Tokens{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if tokens.UserID == "" || tokens.RefreshToken == "" {
		return domainauth.Tokens{}, ports.ErrNoTokens
	}
	return tokens, nil
}

func (s *TokenStore) Save(ctx context.Context, tokens domainauth.Tokens) error {
	if tokens.UserID == "" {
		return errors.New("session user ID cannot be empty")
	}
	if tokens.RefreshToken == "" {
		return errors.New("session refresh token cannot be empty")
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	var value any = data
	if s.enc != nil {
		sealed, encErr := s.enc.Encrypt(data, []byte(s.key))
		if encErr != nil {
			return fmt.Errorf("encrypt session: %w", encErr)
		}
		value = sealed
	}
	if err := s.client.Set(ctx, s.key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
