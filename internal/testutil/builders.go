// Package testutil provides test infrastructure and fixtures for the session agent.
package testutil

import (
	"encoding/json"
	"time"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
)

// TokensBuilder builds persisted sessions for tests.
type TokensBuilder struct {
	t domainauth.Tokens
}

// NewTokens starts a builder for a session expiring an hour after TestTime.
func NewTokens() *TokensBuilder {
	return &TokensBuilder{t: domainauth.Tokens{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    TestTime().Add(time.Hour),
		Email:        "user1@example.com",
	}}
}

// WithUser sets the user ID and derives an email from it.
func (b *TokensBuilder) WithUser(userID string) *TokensBuilder {
	b.t.UserID = userID
	b.t.Email = userID + "@example.com"
	return b
}

// WithTokens sets the access and refresh tokens.
func (b *TokensBuilder) WithTokens(access, refresh string) *TokensBuilder {
	b.t.AccessToken = access
	b.t.RefreshToken = refresh
	return b
}

// ExpiresAt sets the access token expiry.
func (b *TokensBuilder) ExpiresAt(at time.Time) *TokensBuilder {
	b.t.ExpiresAt = at.UTC()
	return b
}

// WithProfile sets the provider profile metadata.
func (b *TokensBuilder) WithProfile(profile map[string]any) *TokensBuilder {
	raw, err := json.Marshal(profile)
	if err != nil {
		//nolint:forbidigo // fixtures are static; a marshal failure is a broken test.
		panic(err)
	}
	b.t.Metadata = raw
	return b
}

// Build returns the tokens.
func (b *TokensBuilder) Build() domainauth.Tokens {
	out := b.t
	out.Metadata = append(json.RawMessage(nil), b.t.Metadata...)
	if len(out.Metadata) == 0 {
		out.Metadata = nil
	}
	return out
}
