// Package cache implements the read-through document cache described in
// spec §4.6: a generic key/value interface with interchangeable in-memory
// and Redis backends, instrumented with hit/miss/write/invalidation
// counters exposed over Prometheus.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors, mirrored from nodestorage/v2/cache's taxonomy.
var (
	ErrMiss   = errors.New("cache miss")
	ErrClosed = errors.New("cache is closed")
)

// Cache is the generic document cache contract. T satisfies Cachable by
// providing Copy, so a cache never hands out a pointer the caller could
// mutate underneath a concurrent reader. Get extends a hit entry's TTL
// (spec §4.6's extendTTL(id) on read), so a hot document stays cached
// instead of expiring on its original write's TTL.
type Cache[T Cachable[T]] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	ExtendTTL(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Cachable is satisfied by any value a Cache can store: it must be able to
// produce a defensive deep copy of itself.
type Cachable[T any] interface {
	Copy() T
}

// DefaultTTL is the document cache's default time-to-live, per spec §6's
// configuration table.
const DefaultTTL = time.Hour
