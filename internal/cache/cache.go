// Package cache implements the Key-Value Cache Adapter (C1): a thin
// get/set/setex/incr/expire/del/ping surface over Redis, grounded on the
// direct redis.UniversalClient usage in the teacher's
// internal/service/*_redis.go stores. Dial-time reconnection uses a capped
// exponential backoff, matching the "client-side retry with capped
// exponential backoff on transient errors" requirement for cache
// operations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNil is returned by Get when the key does not exist, mirroring
// redis.Nil without leaking the driver type to callers.
var ErrNil = errors.New("cache: key does not exist")

// Cache is the C1 contract. Every concrete session/OTP/fraud store in
// internal/service is built on top of it rather than talking to Redis
// directly, so that a single adapter carries the reconnect/backoff policy.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Client() redis.UniversalClient
}

type RedisCache struct {
	client redis.UniversalClient
}

// Options configures the dial-time reconnect loop.
type Options struct {
	Addr            string
	Password        string
	DB              int
	MaxDialAttempts int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
}

// Connect dials Redis, retrying with capped exponential backoff on
// transient failures, and verifies the connection with a Ping.
func Connect(ctx context.Context, opts Options) (*RedisCache, error) {
	if opts.MaxDialAttempts <= 0 {
		opts.MaxDialAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	var lastErr error
	for attempt := 0; attempt < opts.MaxDialAttempts; attempt++ {
		if err := client.Ping(ctx).Err(); err == nil {
			return &RedisCache{client: client}, nil
		} else {
			lastErr = err
		}
		backoff := time.Duration(math.Min(
			float64(opts.MaxBackoff),
			float64(opts.BaseBackoff)*math.Pow(2, float64(attempt)),
		))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("cache: connect after %d attempts: %w", opts.MaxDialAttempts, lastErr)
}

// NewFromClient wraps an already-constructed client without the dial-time
// retry loop (used by tests against miniredis).
func NewFromClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Client() redis.UniversalClient { return c.client }

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("cache get %q: %w", key, err)
	}
	return v, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// SetEX is Set with a mandatory positive TTL, matching Redis's SETEX
// semantics used throughout the OTP/session-cache stores.
func (c *RedisCache) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache setex %q: ttl must be positive", key)
	}
	return c.Set(ctx, key, value, ttl)
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr %q: %w", key, err)
	}
	return n, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("cache expire %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}
