package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junghoonshin3/bemypet/internal/data/cryptoutil"
	"github.com/junghoonshin3/bemypet/internal/ports"
	"github.com/junghoonshin3/bemypet/internal/testutil"
)

func openTempStore(t *testing.T, opts Options) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(" ", Options{})
	assert.Error(t, err)
}

func TestStore_SaveLoadClear(t *testing.T) {
	t.Parallel()
	store := openTempStore(t, Options{DeviceID: "phone"})
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ports.ErrNoTokens)

	want := testutil.NewTokens().WithProfile(map[string]any{"name": "Ann"}).Build()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.JSONEq(t, string(want.Metadata), string(got.Metadata))

	rotated := testutil.NewTokens().WithTokens("access-2", "refresh-2").Build()
	require.NoError(t, store.Save(ctx, rotated))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", got.RefreshToken)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrNoTokens)
}

func TestStore_SaveValidation(t *testing.T) {
	t.Parallel()
	store := openTempStore(t, Options{})
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, testutil.NewTokens().WithUser("").Build()))
	assert.Error(t, store.Save(ctx, testutil.NewTokens().WithTokens("a", "").Build()))
}

func TestStore_ReopenKeepsSessionAndSchema(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	first, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, testutil.NewTokens().Build()))
	require.NoError(t, first.Close())

	second, err := Open(path, Options{})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestStore_Encrypted(t *testing.T) {
	t.Parallel()
	enc, err := cryptoutil.NewEncryptorFromSecret("sqlite test passphrase")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	store, err := Open(path, Options{DeviceID: "a", Encryptor: enc})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(ctx, testutil.NewTokens().Build()))

	var payload string
	require.NoError(t, store.sqlDB.QueryRow(`SELECT payload FROM sessions WHERE device_id = 'a'`).Scan(&payload))
	assert.NotContains(t, payload, "refresh-1")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got.RefreshToken)

	// A blob copied under another device does not open.
	_, err = store.sqlDB.Exec(`INSERT INTO sessions (device_id, payload, user_id, expires_at, updated_at) VALUES ('b', ?, 'user-1', 0, 0)`, payload)
	require.NoError(t, err)
	other, err := Open(path, Options{DeviceID: "b", Encryptor: enc})
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Load(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrNoTokens)
}

func TestStore_Journal(t *testing.T) {
	t.Parallel()
	now := testutil.TestTime()
	store := openTempStore(t, Options{DeviceID: "phone", Now: testutil.FixedTimeFunc(now)})
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, ports.SessionEvent{ID: "e1", Kind: "authenticated", UserID: "user-1", OccurredAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Record(ctx, ports.SessionEvent{ID: "e1", Kind: "authenticated", UserID: "user-1", OccurredAt: now.Add(-time.Minute)}), "replay is a no-op")
	require.NoError(t, store.Record(ctx, ports.SessionEvent{Kind: "signed_out", SignOut: true}))
	assert.Error(t, store.Record(ctx, ports.SessionEvent{}))

	events, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "signed_out", events[0].Kind)
	assert.True(t, events[0].SignOut)
	assert.True(t, events[0].OccurredAt.Equal(now))
	assert.Equal(t, "e1", events[1].ID)
	assert.Equal(t, "user-1", events[1].UserID)

	limited, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()
	now := testutil.TestTime()
	store := openTempStore(t, Options{Now: testutil.FixedTimeFunc(now)})
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, ports.SessionEvent{Kind: "authenticated", OccurredAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Record(ctx, ports.SessionEvent{Kind: "signed_out", OccurredAt: now}))

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "signed_out", events[0].Kind)
}

func TestStore_JournalPartitionedByDevice(t *testing.T) {
	t.Parallel()
	now := testutil.TestTime()
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	laptop, err := Open(path, Options{DeviceID: "a", Now: testutil.FixedTimeFunc(now)})
	require.NoError(t, err)
	defer laptop.Close()
	phone, err := Open(path, Options{DeviceID: "b", Now: testutil.FixedTimeFunc(now)})
	require.NoError(t, err)
	defer phone.Close()

	require.NoError(t, phone.Record(ctx, ports.SessionEvent{Kind: "authenticated", UserID: "bob", OccurredAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, laptop.Record(ctx, ports.SessionEvent{Kind: "authenticated", UserID: "alice", OccurredAt: now.Add(-48 * time.Hour)}))

	events, err := laptop.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].UserID)

	n, err := laptop.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	theirs, err := phone.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, "bob", theirs[0].UserID)
}

func TestStore_InMemory(t *testing.T) {
	t.Parallel()
	store, err := Open(MemoryPath, Options{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testutil.NewTokens().Build()))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}
