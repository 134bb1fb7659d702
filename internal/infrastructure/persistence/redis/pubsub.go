package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bonkcomputer/points-engine/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts a go-redis client to messaging.Transport.
type PubSub struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ messaging.Transport = (*PubSub)(nil)

// NewPubSub wraps the client's pool. Closing the adapter closes its
// subscriptions, not the pool.
func NewPubSub(c *Client) *PubSub {
	return &PubSub{rdb: c.Redis()}
}

// Publish publishes payload to channel.
func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errors.New("pubsub: channel cannot be empty")
	}
	return p.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe forwards the channel's messages until ctx is done or the
// subscription is closed.
func (p *PubSub) Subscribe(ctx context.Context, channel string) (<-chan messaging.Message, error) {
	sub := p.rdb.Subscribe(ctx, channel)

	// the first Receive confirms the subscription
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("pubsub: subscribe: %w", err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.Message, 64)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes every subscription opened through the adapter.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.subs = nil
	return errors.Join(errs...)
}
