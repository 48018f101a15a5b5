package ports

import (
	"context"
	"time"
)

// Cache is the consumed port for prefix-scoped key/value storage with
// TTL, used by the outer layer (sessions, rate-limit counters, result
// caching) and never by the engine core directly.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RateLimiter implements a sliding-window limiter keyed by an arbitrary
// identity (user id, IP, API key).
type RateLimiter interface {
	// Allow reports whether another request for key may proceed within
	// the window, consuming one unit of the limit if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// DistributedLock is the multi-node alternative to
// investigation.CaseLockTable, backed by the cache adapter's own store.
type DistributedLock interface {
	// Lock blocks until the advisory lock for key is held or ctx is
	// cancelled, returning a release function.
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
