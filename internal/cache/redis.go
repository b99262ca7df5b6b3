package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// RedisCache is a Cache[T] backed by Redis, shared across every server
// instance, grounded on nodestorage/v2/cache's RedisCache. Values are
// BSON-encoded so the same document model can move between this cache and
// the Mongo-backed store without a separate codec.
type RedisCache[T Cachable[T]] struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	stats      *Stats
}

// NewRedisCache wraps an existing Redis client for document caching.
// prefix namespaces cache keys apart from the broadcast bus's pub/sub
// channels sharing the same Redis instance.
func NewRedisCache[T Cachable[T]](client *redis.Client, prefix string, defaultTTL time.Duration) *RedisCache[T] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &RedisCache[T]{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		stats:      NewStats("redis"),
	}
}

func (c *RedisCache[T]) key(id string) string {
	return c.prefix + id
}

func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.stats.Miss()
			return zero, ErrMiss
		}
		return zero, fmt.Errorf("cache: redis get: %w", err)
	}
	var result T
	if err := bson.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("cache: unmarshal: %w", err)
	}
	c.stats.Hit()
	_ = c.ExtendTTL(ctx, key, c.defaultTTL)
	return result, nil
}

// ExtendTTL resets key's expiry to ttl (or the cache's default) from now
// using Redis's EXPIRE, a no-op if key isn't present.
func (c *RedisCache[T]) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis expire: %w", err)
	}
	return nil
}

func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := bson.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	c.stats.Write()
	return nil
}

func (c *RedisCache[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	c.stats.Invalidate()
	return nil
}

func (c *RedisCache[T]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("cache: redis del during clear: %w", err)
		}
	}
	return iter.Err()
}

func (c *RedisCache[T]) Close() error {
	return c.client.Close()
}
