package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/junghoonshin3/bemypet/internal/ports"
)

const listenBuffer = 16

// Notifier broadcasts session changes over Redis pub/sub.
type Notifier struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

var _ ports.SessionNotifier = (*Notifier)(nil)

// NotifierOptions configures Notifier.
type NotifierOptions struct {
	Prefix   string // channel prefix, default "bemypet:"
	DeviceID string // only processes sharing a device hear each other, default "default"
	Logger   *slog.Logger
}

// NewNotifier creates a notifier publishing on "<prefix>events:<device>".
func NewNotifier(client redis.UniversalClient, opts NotifierOptions) *Notifier {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	device := strings.TrimSpace(opts.DeviceID)
	if device == "" {
		device = defaultDeviceID
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, channel: prefix + "events:" + device, logger: logger}
}

// Channel returns the pub/sub channel name.
func (n *Notifier) Channel() string { return n.channel }

func (n *Notifier) Notify(ctx context.Context, change ports.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen subscribes and waits for Redis to confirm the subscription, so no
// change published after Listen returns is missed.
func (n *Notifier) Listen(ctx context.Context) (<-chan ports.Change, func(), error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan ports.Change, listenBuffer)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var change ports.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				n.logger.Warn("dropping malformed session change", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- change:
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}
