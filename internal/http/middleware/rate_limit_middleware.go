// Package middleware's rate limiter throttles the two exposed request
// classes (§6): the general API surface and the OTP send/verify/refresh
// endpoints, which need a tighter window since each hit costs an SMS send
// or a verification attempt. There is exactly one API process (spec.md §5
// runs it as a single HTTP listener; no multi-instance fan-out), so the
// limiter is a single in-process hybrid token-bucket + sliding-window
// counter — no distributed backend, no per-tenant bypass path.
package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/groupstage/predictor-backend/internal/http/response"
	"github.com/groupstage/predictor-backend/internal/observability"
)

// Decision is the outcome of one Allow check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
	Reason     string
}

// Policy bounds a sustained rate over a window plus a short burst
// allowance on top of it.
type Policy struct {
	SustainedLimit    int
	SustainedWindow   time.Duration
	BurstCapacity     int
	BurstRefillPerSec float64
}

func newPolicy(limit int, window time.Duration) Policy {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	refill := float64(limit) / window.Seconds()
	if refill <= 0 {
		refill = 1
	}
	return Policy{
		SustainedLimit:    limit,
		SustainedWindow:   window,
		BurstCapacity:     limit,
		BurstRefillPerSec: refill,
	}
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

// RateLimiter is a per-route in-memory limiter. route labels the metrics
// this limiter emits; keyFunc partitions the limiter's state (by client
// address, by authenticated principal, ...).
type RateLimiter struct {
	route   string
	policy  Policy
	keyFunc func(r *http.Request) string

	mu      sync.Mutex
	store   map[string]*bucketState
	cleanup time.Time
}

// NewRateLimiter builds a limiter keyed by client address.
func NewRateLimiter(route string, limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithKey(route, limit, window, clientIPKey)
}

// NewRateLimiterWithKey builds a limiter keyed by keyFunc, falling back to
// the client address when keyFunc returns an empty key (e.g. an anonymous
// request to an endpoint that is normally keyed by principal).
func NewRateLimiterWithKey(route string, limit int, window time.Duration, keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		route:   route,
		policy:  newPolicy(limit, window),
		keyFunc: keyFunc,
		store:   make(map[string]*bucketState),
		cleanup: time.Now().Add(window),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			keyType := "ip"
			if strings.HasPrefix(key, "sub:") {
				keyType = "subject"
			}

			decision := rl.allow(key)
			writeRateLimitHeaders(w.Header(), rl.policy.SustainedLimit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.route, "deny", keyType)
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.route, "allow", keyType)
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalOrIPKeyFunc keys the limiter by the authenticated principal's
// user id when present (attached by AuthMiddleware), falling back to the
// client address for anonymous endpoints like send-otp/verify-otp.
func PrincipalOrIPKeyFunc(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return "sub:" + p.UserID
	}
	return clientIPKey(r)
}

func (rl *RateLimiter) allow(key string) Decision {
	policy := rl.policy
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, v := range rl.store {
			if len(v.hits) == 0 && now.Sub(v.lastRefill) > 2*policy.SustainedWindow {
				delete(rl.store, k)
			}
		}
		rl.cleanup = now.Add(policy.SustainedWindow)
	}

	state, ok := rl.store[key]
	if !ok {
		state = &bucketState{tokens: float64(policy.BurstCapacity), lastRefill: now}
		rl.store[key] = state
	}
	if now.After(state.lastRefill) {
		elapsed := now.Sub(state.lastRefill).Seconds()
		state.tokens = min(float64(policy.BurstCapacity), state.tokens+(elapsed*policy.BurstRefillPerSec))
		state.lastRefill = now
	}

	cutoff := now.Add(-policy.SustainedWindow)
	pruned := state.hits[:0]
	for _, hit := range state.hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	state.hits = pruned

	sustainedRemaining := policy.SustainedLimit - len(state.hits)
	bucketRetry := time.Duration(0)
	reason := ""
	if state.tokens < 1 {
		need := 1 - state.tokens
		bucketRetry = time.Duration(math.Ceil((need / policy.BurstRefillPerSec) * float64(time.Second)))
		reason = "bucket"
	}
	sustainedRetry := time.Duration(0)
	if sustainedRemaining <= 0 {
		sustainedRetry = state.hits[0].Add(policy.SustainedWindow).Sub(now)
		if sustainedRetry < 0 {
			sustainedRetry = 0
		}
		if sustainedRetry >= bucketRetry {
			reason = "window"
		}
	}

	allowed := bucketRetry <= 0 && sustainedRetry <= 0
	if allowed {
		state.tokens = max(state.tokens-1, 0)
		state.hits = append(state.hits, now)
		sustainedRemaining = policy.SustainedLimit - len(state.hits)
	}

	bucketRemaining := int(math.Floor(state.tokens))
	if bucketRemaining < 0 {
		bucketRemaining = 0
	}
	if sustainedRemaining < 0 {
		sustainedRemaining = 0
	}
	remaining := min(bucketRemaining, sustainedRemaining)
	retryAfter := max(bucketRetry, sustainedRetry)
	if !allowed && retryAfter <= 0 {
		retryAfter = time.Second
	}

	resetAt := now.Add(policy.SustainedWindow)
	if len(state.hits) > 0 {
		resetAt = state.hits[0].Add(policy.SustainedWindow)
	}
	if !allowed {
		resetAt = now.Add(retryAfter)
	}

	return Decision{
		Allowed:    allowed,
		RetryAfter: retryAfter,
		Remaining:  remaining,
		ResetAt:    resetAt,
		Reason:     reason,
	}
}

// parseRequestIP resolves the caller's address. chimiddleware.RealIP runs
// ahead of this limiter in the router chain and rewrites r.RemoteAddr from
// X-Forwarded-For/X-Real-IP, so a plain host:port split is enough here.
func parseRequestIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func clientIPKey(r *http.Request) string {
	ip := parseRequestIP(r)
	if ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func retryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
