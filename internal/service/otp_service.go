package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/repository"
	"github.com/groupstage/predictor-backend/internal/sms"
)

var (
	ErrExceededSendLimit             = errors.New("EXCEEDED_SEND_LIMIT")
	ErrPleaseWaitBeforeNextRequest   = errors.New("PLEASE_WAIT_BEFORE_NEXT_REQUEST")
	ErrOTPNotFoundOrExpired          = errors.New("OTP_NOT_FOUND_OR_EXPIRED")
	ErrOTPExpired                    = errors.New("OTP_EXPIRED")
	ErrInvalidOTPCode                = errors.New("INVALID_OTP_CODE")
	ErrExceededVerificationAttempts  = errors.New("EXCEEDED_VERIFICATION_ATTEMPTS")
)

type otpRecord struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	Addr      string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
}

// OTPServiceConfig carries the tunables spec.md §6 exposes as environment
// variables.
type OTPServiceConfig struct {
	Length              int
	TTL                 time.Duration
	SendCooldown        time.Duration
	VerifyWindow        time.Duration
	MaxVerifyAttempts   int64
	Sandbox             bool
}

// OTPService implements C6: cooldown-and-window-gated code delivery and
// bounded-attempt verification, upserting the user on success. Grounded on
// the teacher's Redis-backed service pattern (negative_lookup_cache_redis.go)
// though the concern itself — OTP, not RBAC negative-lookup — is new. Each
// OTP key is written with its own SetEX call through the cache adapter; the
// writes are not pipelined or transactional.
type OTPService struct {
	cache    cache.Cache
	users    repository.UserRepository
	sms      sms.Provider
	fraud    *FraudSignals
	cfg      OTPServiceConfig
}

func NewOTPService(c cache.Cache, users repository.UserRepository, provider sms.Provider, fraud *FraudSignals, cfg OTPServiceConfig) *OTPService {
	return &OTPService{cache: c, users: users, sms: provider, fraud: fraud, cfg: cfg}
}

// SendOTP implements spec.md §4.3's sendOtp. sandboxCode is non-empty only
// when the service is configured for sandbox delivery.
func (s *OTPService) SendOTP(ctx context.Context, phone, addr, agent string) (sandboxCode string, err error) {
	phone = NormalizePhone(phone)

	if HasRepeatedDigitRun(phone) || IsMonotoneSequence(phone) || IsWellKnownTestPattern(phone) {
		observability.AuditCtx(ctx, "otp.unusual_phone_pattern", "phone", phone)
	}

	sendLimitKey := "otp:send:limit:" + phone
	lastRequestKey := "otp:last_request:" + phone

	if exists, err := s.cache.Exists(ctx, sendLimitKey); err != nil {
		return "", fmt.Errorf("otp: check send limit: %w", err)
	} else if exists {
		observability.RecordOTPOutcome(ctx, "send", "exceeded_send_limit")
		return "", ErrExceededSendLimit
	}
	if exists, err := s.cache.Exists(ctx, lastRequestKey); err != nil {
		return "", fmt.Errorf("otp: check last request: %w", err)
	} else if exists {
		observability.RecordOTPOutcome(ctx, "send", "please_wait")
		return "", ErrPleaseWaitBeforeNextRequest
	}

	code, err := generateNumericCode(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}

	rec := otpRecord{Code: code, ExpiresAt: time.Now().Add(s.cfg.TTL), Addr: addr, UserAgent: agent}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("otp: marshal record: %w", err)
	}
	if err := s.cache.SetEX(ctx, "otp:phone:"+phone, string(body), s.cfg.TTL); err != nil {
		return "", fmt.Errorf("otp: store record: %w", err)
	}
	if err := s.cache.SetEX(ctx, sendLimitKey, "1", s.cfg.SendCooldown); err != nil {
		return "", fmt.Errorf("otp: set send limit: %w", err)
	}
	if err := s.cache.SetEX(ctx, lastRequestKey, "1", s.cfg.SendCooldown); err != nil {
		return "", fmt.Errorf("otp: set last request: %w", err)
	}

	if err := s.sms.Send(ctx, phone, code); err != nil {
		observability.RecordOTPOutcome(ctx, "send", "provider_error")
		return "", fmt.Errorf("otp: dispatch sms: %w", err)
	}
	observability.RecordOTPOutcome(ctx, "send", "success")

	if s.cfg.Sandbox {
		return code, nil
	}
	return "", nil
}

// VerifyOTP implements spec.md §4.3's verifyOtp.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (string, error) {
	phone = NormalizePhone(phone)
	attemptsKey := "otp:verify:attempts:" + phone

	attempts, err := s.cache.Incr(ctx, attemptsKey)
	if err != nil {
		return "", fmt.Errorf("otp: incr attempts: %w", err)
	}
	if attempts == 1 {
		if err := s.cache.Expire(ctx, attemptsKey, s.cfg.VerifyWindow); err != nil {
			return "", fmt.Errorf("otp: expire attempts: %w", err)
		}
	}
	if attempts > s.cfg.MaxVerifyAttempts {
		s.fraud.TrackOTPFailureByPhone(ctx, phone)
		observability.RecordOTPOutcome(ctx, "verify", "exceeded_verify_attempts")
		return "", ErrExceededVerificationAttempts
	}

	raw, err := s.cache.Get(ctx, "otp:phone:"+phone)
	if err != nil {
		if isCacheMiss(err) {
			observability.RecordOTPOutcome(ctx, "verify", "not_found_or_expired")
			return "", ErrOTPNotFoundOrExpired
		}
		return "", fmt.Errorf("otp: load record: %w", err)
	}

	var rec otpRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", fmt.Errorf("otp: decode record: %w", err)
	}

	if time.Now().After(rec.ExpiresAt) {
		_ = s.cache.Del(ctx, "otp:phone:"+phone)
		observability.RecordOTPOutcome(ctx, "verify", "expired")
		return "", ErrOTPExpired
	}

	if rec.Code != code {
		s.fraud.TrackOTPFailureByAddress(ctx, rec.Addr)
		observability.RecordOTPOutcome(ctx, "verify", "invalid_code")
		return "", ErrInvalidOTPCode
	}

	_ = s.cache.Del(ctx, "otp:phone:"+phone)
	_ = s.cache.Del(ctx, attemptsKey)

	user, err := s.users.UpsertByPhone(phone)
	if err != nil {
		return "", fmt.Errorf("otp: upsert user: %w", err)
	}
	observability.RecordOTPOutcome(ctx, "verify", "success")
	return user.ID.String(), nil
}

func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
