package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus fans messages out across every server instance subscribed to a
// document's channel, using one Redis Pub/Sub channel per document. Pub/Sub
// delivery is ordered per channel but at most once: it is not durable and
// nothing is redelivered, so an instance that was not subscribed (or whose
// connection dropped) when a message was published misses it, and relies on
// the persistence pipeline and cache, not the bus, to recover missed state.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisBus wraps an existing Redis client. prefix namespaces the pub/sub
// channel per document id, keeping it distinct from cache keys sharing the
// same Redis instance.
func NewRedisBus(client *redis.Client, prefix string, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: logger,
		subs:   make(map[string]*redis.PubSub),
	}
}

func (b *RedisBus) channel(documentID string) string {
	return b.prefix + documentID
}

// Publish JSON-encodes msg and publishes it to the document's channel.
func (b *RedisBus) Publish(ctx context.Context, documentID string, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return fmt.Errorf("broadcast: encode message: %w", err)
	}
	return b.client.Publish(ctx, b.channel(documentID), data).Err()
}

// Subscribe opens a new Redis Pub/Sub subscription to the document's channel
// and runs handler for each message received, until the returned
// unsubscribe func is called or ctx is canceled.
func (b *RedisBus) Subscribe(ctx context.Context, documentID string, handler Handler) (func(), error) {
	channel := b.channel(documentID)
	sub := b.client.Subscribe(ctx, channel)

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("broadcast: subscribe %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[channel] = sub
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, err := decode([]byte(m.Payload))
				if err != nil {
					b.logger.Warn("broadcast: dropping undecodable message", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(ctx, msg)
			}
		}
	}()

	return func() {
		close(done)
		_ = sub.Close()
		b.mu.Lock()
		delete(b.subs, channel)
		b.mu.Unlock()
	}, nil
}

// Close closes every open subscription and the underlying client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, sub := range b.subs {
		_ = sub.Close()
		delete(b.subs, ch)
	}
	return b.client.Close()
}
