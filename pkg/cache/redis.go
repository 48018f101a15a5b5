// Package cache implements the Cache, RateLimiter, and DistributedLock
// ports (pkg/ports) against Redis. None of these are consumed by the
// Investigation Engine core directly; they back the outer HTTP layer's
// sessions, sliding-window rate limiting, and the multi-node advisory
// lock alternative to investigation.CaseLockTable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Adapter implements ports.Cache, ports.RateLimiter, and
// ports.DistributedLock against a single Redis client.
type Adapter struct {
	client *redis.Client
}

// New wraps an existing *redis.Client.
func New(client *redis.Client) *Adapter {
	return &Adapter{client: client}
}

// Dial constructs a Redis client from addr/password/db and wraps it.
func Dial(addr, password string, db int) *Adapter {
	return New(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}))
}

// Get implements ports.Cache.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// Set implements ports.Cache.
func (a *Adapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete implements ports.Cache.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// slidingWindowScript atomically trims a sorted set to the current
// window, counts remaining entries, and adds the new one only if under
// limit, so concurrent callers can't race past the limit between a
// separate COUNT and ADD.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, ARGV[5])
return 1
`

// Allow implements ports.RateLimiter with a Redis sorted-set sliding
// window: entries older than the window are evicted before the count
// check, and the whole read-check-write sequence runs as one Lua script
// so concurrent Allow calls for the same key don't both succeed past
// the limit.
func (a *Adapter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixMilli()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	result, err := a.client.Eval(ctx, slidingWindowScript, []string{"ratelimit:" + key},
		now.UnixMilli(), windowStart, limit, member, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limiter eval %s: %w", key, err)
	}
	return result == 1, nil
}

// Lock implements ports.DistributedLock with Redis SETNX, the same
// active-session registry idea as an in-process map extended to span
// multiple nodes via a shared store instead of in-process memory.
func (a *Adapter) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	for {
		ok, err := a.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("distributed lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	release := func(releaseCtx context.Context) error {
		// Only release if we still hold it (compare-and-delete via
		// script) so a lock that expired and was re-acquired by
		// another holder isn't stolen back.
		script := `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end`
		return a.client.Eval(releaseCtx, script, []string{lockKey}, token).Err()
	}
	return release, nil
}
