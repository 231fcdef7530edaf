package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junghoonshin3/bemypet/internal/ports"
)

func TestNotifier_NotifyAndListen(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewNotifier(client, NotifierOptions{Prefix: "test:", DeviceID: "phone"})
	assert.Equal(t, "test:events:phone", notifier.Channel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, stop, err := notifier.Listen(ctx)
	require.NoError(t, err)
	defer stop()

	want := ports.Change{
		Kind:   ports.ChangeSignedIn,
		UserID: "user-1",
		Origin: "proc-a",
		At:     time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, notifier.Notify(ctx, want))

	select {
	case got := <-changes:
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.UserID, got.UserID)
		assert.Equal(t, want.Origin, got.Origin)
		assert.True(t, want.At.Equal(got.At))
	case <-ctx.Done():
		t.Fatal("change not delivered")
	}
}

func TestNotifier_SkipsMalformedPayloads(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewNotifier(client, NotifierOptions{Prefix: "test:"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, stop, err := notifier.Listen(ctx)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, client.Publish(ctx, notifier.Channel(), "{broken").Err())
	require.NoError(t, notifier.Notify(ctx, ports.Change{Kind: ports.ChangeSignedOut, Origin: "b"}))

	select {
	case got := <-changes:
		assert.Equal(t, ports.ChangeSignedOut, got.Kind)
	case <-ctx.Done():
		t.Fatal("change not delivered")
	}
}

func TestNotifier_StopClosesChannel(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewNotifier(client, NotifierOptions{})
	assert.Equal(t, "bemypet:events:default", notifier.Channel())

	changes, stop, err := notifier.Listen(context.Background())
	require.NoError(t, err)

	stop()
	stop()

	select {
	case _, open := <-changes:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after stop")
	}
}

func TestNotifier_ScopedToDevice(t *testing.T) {
	client := setupTestRedis(t)
	laptop := NewNotifier(client, NotifierOptions{Prefix: "test:", DeviceID: "a"})
	phone := NewNotifier(client, NotifierOptions{Prefix: "test:", DeviceID: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, stop, err := laptop.Listen(ctx)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, phone.Notify(ctx, ports.Change{Kind: ports.ChangeSignedOut, UserID: "bob", Origin: "phone"}))
	require.NoError(t, laptop.Notify(ctx, ports.Change{Kind: ports.ChangeSignedIn, UserID: "alice", Origin: "laptop"}))

	select {
	case got := <-changes:
		assert.Equal(t, ports.ChangeSignedIn, got.Kind, "another device's sign-out is not delivered")
		assert.Equal(t, "alice", got.UserID)
	case <-ctx.Done():
		t.Fatal("change not delivered")
	}
}
