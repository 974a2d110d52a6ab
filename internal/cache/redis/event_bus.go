package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// streamMaxLen caps each event stream (XADD MAXLEN ~).
const streamMaxLen int64 = 10000

// EventBus publishes run events on a pub/sub channel for live listeners and
// appends them to a stream of the same name for consumers that reconcile
// later.
type EventBus struct {
	c *Client
}

// NewEventBus creates an EventBus.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{c: c}
}

// Publish sends payload to channel and its stream.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	name := b.c.key(channel)
	pipe := b.c.rdb.TxPipeline()
	pipe.Publish(ctx, name, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

var _ domain.EventBus = (*EventBus)(nil)
