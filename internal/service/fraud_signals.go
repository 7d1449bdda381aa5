package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/repository"
)

// otpFailureThreshold triggers an audit entry once a phone or address
// crosses this many failures within the hourly counter window.
const otpFailureThreshold = 5

// refreshFrequencyThreshold triggers an audit entry once a user's hourly
// refresh count exceeds this value.
const refreshFrequencyThreshold = 20

// FraudSignals implements C5: side-effect-only detectors that never block
// the caller. Every check either emits an audit entry through
// observability.AuditCtx or does nothing; none return a blocking error.
// The counter-plus-expire shape is grounded on the teacher's Redis abuse
// guard (internal/service/auth_abuse_guard_redis_test.go), simplified from
// its cooldown/backoff model to the plain threshold counters spec.md §4.4
// calls for.
type FraudSignals struct {
	cache       cache.Cache
	sessionRepo repository.SessionRepository
}

func NewFraudSignals(c cache.Cache, sessionRepo repository.SessionRepository) *FraudSignals {
	return &FraudSignals{cache: c, sessionRepo: sessionRepo}
}

// CheckConcurrentSessions audits when the user's recent sessions surface an
// address different from currentAddr, per spec.md §4.4.
func (f *FraudSignals) CheckConcurrentSessions(ctx context.Context, userID uuid.UUID, currentAddr, userAgent string, limit int, window time.Duration) {
	sessions, err := f.sessionRepo.ListActiveByUserID(userID)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-window)
	checked := 0
	for _, s := range sessions {
		if checked >= limit {
			break
		}
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		checked++
		if s.Address != "" && currentAddr != "" && s.Address != currentAddr {
			observability.AuditCtx(ctx, "fraud.concurrent_session_address_mismatch",
				"user_id", userID, "known_address", s.Address, "current_address", currentAddr, "user_agent", userAgent)
			observability.RecordFraudSignal(ctx, "concurrent_session")
			return
		}
	}
}

func (f *FraudSignals) TrackOTPFailureByPhone(ctx context.Context, phone string) {
	f.trackFailure(ctx, "otp:failures:"+phone, "phone", phone)
}

func (f *FraudSignals) TrackOTPFailureByAddress(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	f.trackFailure(ctx, "otp:ip:failures:"+addr, "address", addr)
}

func (f *FraudSignals) trackFailure(ctx context.Context, key, subjectKind, subject string) {
	n, err := f.cache.Incr(ctx, key)
	if err != nil {
		return
	}
	if n == 1 {
		_ = f.cache.Expire(ctx, key, time.Hour)
	}
	if n >= otpFailureThreshold {
		observability.AuditCtx(ctx, "fraud.otp_failure_threshold_crossed", subjectKind, subject, "count", n)
		observability.RecordFraudSignal(ctx, "otp_failure_"+subjectKind)
	}
}

// TrackRefreshFrequency audits once a user's hourly refresh count exceeds
// refreshFrequencyThreshold. count is the value returned by
// SessionCache.IncrRefreshFrequency.
func (f *FraudSignals) TrackRefreshFrequency(ctx context.Context, userID uuid.UUID, count int64) {
	if count > refreshFrequencyThreshold {
		observability.AuditCtx(ctx, "fraud.refresh_frequency_threshold_crossed", "user_id", userID, "count", count)
		observability.RecordFraudSignal(ctx, "refresh_frequency")
	}
}

// HasRepeatedDigitRun reports a run of the same digit at least six long.
func HasRepeatedDigitRun(phone string) bool {
	digits := onlyDigits(phone)
	run := 1
	for i := 1; i < len(digits); i++ {
		if digits[i] == digits[i-1] {
			run++
			if run >= 6 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// IsMonotoneSequence reports a run of six or more strictly ascending or
// descending digits, e.g. "123456" or "987654".
func IsMonotoneSequence(phone string) bool {
	digits := onlyDigits(phone)
	if len(digits) < 6 {
		return false
	}
	for start := 0; start+6 <= len(digits); start++ {
		asc, desc := true, true
		for i := start + 1; i < start+6; i++ {
			if digits[i] != digits[i-1]+1 {
				asc = false
			}
			if digits[i] != digits[i-1]-1 {
				desc = false
			}
		}
		if asc || desc {
			return true
		}
	}
	return false
}

var wellKnownTestPatterns = map[string]bool{
	"0000000000": true,
	"1111111111": true,
	"1234567890": true,
}

// IsWellKnownTestPattern reports a small denylist of numbers commonly used
// to probe sandbox/test environments.
func IsWellKnownTestPattern(phone string) bool {
	return wellKnownTestPatterns[string(onlyDigits(phone))]
}

func onlyDigits(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return out
}
