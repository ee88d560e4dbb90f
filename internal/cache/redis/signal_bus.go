package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	// streamMaxLen bounds each position log; XADD trims approximately.
	streamMaxLen int64 = 10000
	subBuffer          = 128
)

// SignalBus fans position transitions out over Pub/Sub and keeps a durable
// copy of each in a stream. Channel and stream names are namespaced.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

func (sb *SignalBus) channel(name string) string { return sb.c.key("chan", name) }

// Publish sends payload to subscribers of channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.channel(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams payloads published on channel until ctx is done. A
// channel containing glob characters subscribes to the pattern.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.channel(channel)
	subscribe := sb.c.rdb.Subscribe
	if isPattern(channel) {
		subscribe = sb.c.rdb.PSubscribe
	}
	ps := subscribe(ctx, name)
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel(redis.WithChannelSize(subBuffer))
	out := make(chan []byte, subBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			var msg *redis.Message
			var ok bool
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-msgs:
				if !ok {
					return
				}
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func isPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends payload to stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.key("stream", stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []any{"payload", payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
