package service

import (
	"context"
	"testing"
	"time"

	"github.com/groupstage/predictor-backend/internal/cache"
)

func newSessionCacheForTest(t *testing.T) *SessionCache {
	t.Helper()
	_, client := newRedisClientForTest(t)
	return NewSessionCache(cache.NewFromClient(client))
}

func TestSessionCacheAccessPrefixRoundTrip(t *testing.T) {
	sc := newSessionCacheForTest(t)
	ctx := context.Background()

	if err := sc.PutAccessPrefix(ctx, "prefix1", "session-1", time.Minute); err != nil {
		t.Fatalf("put access prefix: %v", err)
	}
	got, err := sc.GetByAccessPrefix(ctx, "prefix1")
	if err != nil {
		t.Fatalf("get access prefix: %v", err)
	}
	if got != "session-1" {
		t.Fatalf("expected session-1, got %q", got)
	}

	if err := sc.PurgeAccessPrefix(ctx, "prefix1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := sc.GetByAccessPrefix(ctx, "prefix1"); !isCacheMiss(err) {
		t.Fatalf("expected cache miss after purge, got %v", err)
	}
}

func TestSessionCacheRefreshPrefixRoundTrip(t *testing.T) {
	sc := newSessionCacheForTest(t)
	ctx := context.Background()

	if err := sc.PutRefreshPrefix(ctx, "rprefix1", "session-2", time.Minute); err != nil {
		t.Fatalf("put refresh prefix: %v", err)
	}
	got, err := sc.GetByRefreshPrefix(ctx, "rprefix1")
	if err != nil {
		t.Fatalf("get refresh prefix: %v", err)
	}
	if got != "session-2" {
		t.Fatalf("expected session-2, got %q", got)
	}
}

func TestSessionCacheIncrRefreshFrequency(t *testing.T) {
	sc := newSessionCacheForTest(t)
	ctx := context.Background()
	userID := "user-1"

	for i := int64(1); i <= 3; i++ {
		n, err := sc.IncrRefreshFrequency(ctx, userID)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}
}

func TestIsCacheMissDistinguishesErrNilFromOtherErrors(t *testing.T) {
	if isCacheMiss(nil) {
		t.Fatal("nil error must not be a cache miss")
	}
	if !isCacheMiss(cache.ErrNil) {
		t.Fatal("cache.ErrNil must be a cache miss")
	}
}
