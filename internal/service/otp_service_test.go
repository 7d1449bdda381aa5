package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/repository"
)

type recordingSMSProvider struct {
	lastPhone, lastCode string
	sendErr             error
}

func (p *recordingSMSProvider) Send(ctx context.Context, phone, code string) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.lastPhone, p.lastCode = phone, code
	return nil
}

func newOTPServiceForTest(t *testing.T, sandbox bool) (*OTPService, *recordingSMSProvider, cache.Cache) {
	t.Helper()
	_, client := newRedisClientForTest(t)
	c := cache.NewFromClient(client)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	fraud := NewFraudSignals(c, sessions)
	provider := &recordingSMSProvider{}

	cfg := OTPServiceConfig{
		Length:            6,
		TTL:               2 * time.Minute,
		SendCooldown:      time.Minute,
		VerifyWindow:      5 * time.Minute,
		MaxVerifyAttempts: 3,
		Sandbox:           sandbox,
	}
	return NewOTPService(c, users, provider, fraud, cfg), provider, c
}

func TestOTPServiceSendThenVerifySucceeds(t *testing.T) {
	svc, provider, _ := newOTPServiceForTest(t, true)
	ctx := context.Background()

	code, err := svc.SendOTP(ctx, "09123456789", "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	if code == "" {
		t.Fatal("expected sandbox mode to return code")
	}
	if provider.lastPhone != "+09123456789" {
		t.Fatalf("expected normalized phone dispatched, got %q", provider.lastPhone)
	}

	userID, err := svc.VerifyOTP(ctx, "09123456789", code)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if userID == "" {
		t.Fatal("expected a user id")
	}
}

func TestOTPServiceSendRejectsBeforeCooldownElapses(t *testing.T) {
	svc, _, _ := newOTPServiceForTest(t, true)
	ctx := context.Background()

	if _, err := svc.SendOTP(ctx, "09123456789", "1.1.1.1", "agent"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := svc.SendOTP(ctx, "09123456789", "1.1.1.1", "agent"); err != ErrExceededSendLimit && err != ErrPleaseWaitBeforeNextRequest {
		t.Fatalf("expected a cooldown error, got %v", err)
	}
}

func TestOTPServiceVerifyRejectsWrongCode(t *testing.T) {
	svc, _, _ := newOTPServiceForTest(t, true)
	ctx := context.Background()

	code, err := svc.SendOTP(ctx, "09123456789", "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	if _, err := svc.VerifyOTP(ctx, "09123456789", wrong); err != ErrInvalidOTPCode {
		t.Fatalf("expected invalid code error, got %v", err)
	}
}

func TestOTPServiceVerifyRejectsWhenNoCodeSent(t *testing.T) {
	svc, _, _ := newOTPServiceForTest(t, true)
	if _, err := svc.VerifyOTP(context.Background(), "09123456789", "123456"); err != ErrOTPNotFoundOrExpired {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestOTPServiceVerifyExceedsAttemptLimit(t *testing.T) {
	svc, _, _ := newOTPServiceForTest(t, true)
	ctx := context.Background()

	code, err := svc.SendOTP(ctx, "09123456789", "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	wrong := "999999"
	if wrong == code {
		wrong = "888888"
	}
	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = svc.VerifyOTP(ctx, "09123456789", wrong)
	}
	if lastErr != ErrExceededVerificationAttempts {
		t.Fatalf("expected exceeded verification attempts, got %v", lastErr)
	}
}

func TestOTPServiceNonSandboxDoesNotReturnCode(t *testing.T) {
	svc, _, _ := newOTPServiceForTest(t, false)
	code, err := svc.SendOTP(context.Background(), "09123456789", "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if code != "" {
		t.Fatalf("expected empty code outside sandbox mode, got %q", code)
	}
}
