package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junghoonshin3/bemypet/internal/data/cryptoutil"
	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
	"github.com/junghoonshin3/bemypet/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := testutil.SetupTestRedis(t)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleTokens() domainauth.Tokens {
	return domainauth.Tokens{
		UserID:       "user-123",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Email:        "user@example.com",
		Metadata:     json.RawMessage(`{"provider":"google"}`),
	}
}

func TestTokenStore_SaveLoadClear(t *testing.T) {
	client := setupTestRedis(t)
	store := NewTokenStore(client, TokenStoreOptions{DeviceID: "phone-1", TTL: time.Hour})
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ports.ErrNoTokens)

	want := sampleTokens()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.JSONEq(t, string(want.Metadata), string(got.Metadata))

	ttl, err := client.TTL(ctx, store.Key()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ports.ErrNoTokens)

	require.NoError(t, store.Clear(ctx), "clearing twice is fine")
}

func TestTokenStore_DevicesAreIsolated(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	a := NewTokenStore(client, TokenStoreOptions{DeviceID: "a"})
	b := NewTokenStore(client, TokenStoreOptions{DeviceID: "b"})
	require.NoError(t, a.Save(ctx, sampleTokens()))

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrNoTokens)
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestTokenStore_CorruptValue(t *testing.T) {
	client := setupTestRedis(t)
	store := NewTokenStore(client, TokenStoreOptions{})
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, store.Key(), "not-json", 0).Err())
	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrNoTokens)
	assert.Contains(t, err.Error(), "unmarshal session")
}

func TestTokenStore_SaveValidation(t *testing.T) {
	store := NewTokenStore(nil, TokenStoreOptions{})
	ctx := context.Background()

	err := store.Save(ctx, domainauth.Tokens{RefreshToken: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user ID")

	err = store.Save(ctx, domainauth.Tokens{UserID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh token")
}

func TestNewTokenStore_Defaults(t *testing.T) {
	store := NewTokenStore(nil, TokenStoreOptions{})
	assert.Equal(t, "bemypet:session:default", store.Key())

	store = NewTokenStore(nil, TokenStoreOptions{Prefix: "test:", DeviceID: " tablet "})
	assert.Equal(t, "test:session:tablet", store.Key())
}

func TestTokenStore_Encrypted(t *testing.T) {
	client := setupTestRedis(t)
	enc, err := cryptoutil.NewEncryptorFromSecret("redis test passphrase")
	require.NoError(t, err)
	ctx := context.Background()

	store := NewTokenStore(client, TokenStoreOptions{DeviceID: "sealed", Encryptor: enc})
	want := sampleTokens()
	require.NoError(t, store.Save(ctx, want))

	raw, err := client.Get(ctx, store.Key()).Result()
	require.NoError(t, err)
	assert.NotContains(t, raw, want.RefreshToken)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)

	// The same blob under another device key must not open.
	other := NewTokenStore(client, TokenStoreOptions{DeviceID: "other", Encryptor: enc})
	require.NoError(t, client.Set(ctx, other.Key(), raw, 0).Err())
	_, err = other.Load(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrNoTokens)
}
