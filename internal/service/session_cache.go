package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groupstage/predictor-backend/internal/cache"
)

// SessionCache implements the Session Cache component (C4): a
// prefix-to-session-id mapping for access and refresh tokens, plus the
// per-user hourly refresh-frequency counter that feeds fraud detection.
// Grounded on the teacher's negative_lookup_cache_redis.go epoch/TTL-keyed
// wrapper around the Redis client.
type SessionCache struct {
	cache cache.Cache
}

func NewSessionCache(c cache.Cache) *SessionCache {
	return &SessionCache{cache: c}
}

func accessKey(prefix string) string  { return "session:token:" + prefix }
func refreshKey(prefix string) string { return "session:refresh:" + prefix }
func refreshFrequencyKey(userID string) string { return "refresh:frequency:" + userID }

func (s *SessionCache) PutAccessPrefix(ctx context.Context, prefix, sessionID string, ttl time.Duration) error {
	return s.cache.SetEX(ctx, accessKey(prefix), sessionID, ttl)
}

func (s *SessionCache) PutRefreshPrefix(ctx context.Context, prefix, sessionID string, ttl time.Duration) error {
	return s.cache.SetEX(ctx, refreshKey(prefix), sessionID, ttl)
}

// GetByAccessPrefix returns the pointed-to session id, or cache.ErrNil on a
// cache miss — a miss is expected and routes the caller to the DB fallback,
// not an error condition.
func (s *SessionCache) GetByAccessPrefix(ctx context.Context, prefix string) (string, error) {
	return s.cache.Get(ctx, accessKey(prefix))
}

func (s *SessionCache) GetByRefreshPrefix(ctx context.Context, prefix string) (string, error) {
	return s.cache.Get(ctx, refreshKey(prefix))
}

func (s *SessionCache) PurgeAccessPrefix(ctx context.Context, prefix string) error {
	return s.cache.Del(ctx, accessKey(prefix))
}

func (s *SessionCache) PurgeRefreshPrefix(ctx context.Context, prefix string) error {
	return s.cache.Del(ctx, refreshKey(prefix))
}

// IncrRefreshFrequency increments the hourly per-user refresh counter,
// (re)setting its TTL on first increment. The caller compares the returned
// count against a threshold to decide whether to emit a fraud signal — it
// never blocks the refresh itself.
func (s *SessionCache) IncrRefreshFrequency(ctx context.Context, userID string) (int64, error) {
	n, err := s.cache.Incr(ctx, refreshFrequencyKey(userID))
	if err != nil {
		return 0, fmt.Errorf("session cache: incr refresh frequency: %w", err)
	}
	if n == 1 {
		if err := s.cache.Expire(ctx, refreshFrequencyKey(userID), time.Hour); err != nil {
			return n, fmt.Errorf("session cache: expire refresh frequency: %w", err)
		}
	}
	return n, nil
}

func isCacheMiss(err error) bool {
	return errors.Is(err, cache.ErrNil)
}
