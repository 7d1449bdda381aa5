package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/repository"
)

func newFraudSignalsForTest(t *testing.T) *FraudSignals {
	t.Helper()
	_, client := newRedisClientForTest(t)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewFraudSignals(cache.NewFromClient(client), repository.NewSessionRepository(db))
}

func TestFraudSignalsTrackOTPFailureByPhoneDoesNotError(t *testing.T) {
	fs := newFraudSignalsForTest(t)
	ctx := context.Background()
	for i := 0; i < otpFailureThreshold+2; i++ {
		fs.TrackOTPFailureByPhone(ctx, "+989123456789")
	}
}

func TestFraudSignalsTrackOTPFailureByAddressIgnoresEmpty(t *testing.T) {
	fs := newFraudSignalsForTest(t)
	fs.TrackOTPFailureByAddress(context.Background(), "")
}

func TestFraudSignalsTrackRefreshFrequencyDoesNotError(t *testing.T) {
	fs := newFraudSignalsForTest(t)
	fs.TrackRefreshFrequency(context.Background(), uuid.New(), refreshFrequencyThreshold+1)
	fs.TrackRefreshFrequency(context.Background(), uuid.New(), 1)
}

func TestFraudSignalsCheckConcurrentSessionsAddressMismatch(t *testing.T) {
	fs := newFraudSignalsForTest(t)
	userID := uuid.New()
	sess := &domain.Session{
		UserID:      userID,
		AccessHash:  "h",
		RefreshHash: "r",
		Address:     "1.1.1.1",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := fs.sessionRepo.Create(sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	fs.CheckConcurrentSessions(context.Background(), userID, "2.2.2.2", "agent", 3, time.Hour)
}

func TestHasRepeatedDigitRun(t *testing.T) {
	cases := map[string]bool{
		"+9891111116789": true,
		"+989123456789":  false,
		"1111112":        true,
		"11111":          false,
	}
	for in, want := range cases {
		if got := HasRepeatedDigitRun(in); got != want {
			t.Errorf("HasRepeatedDigitRun(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsMonotoneSequence(t *testing.T) {
	cases := map[string]bool{
		"123456":     true,
		"987654":     true,
		"+1123456xx": true,
		"135792":     false,
		"12345":      false,
	}
	for in, want := range cases {
		if got := IsMonotoneSequence(in); got != want {
			t.Errorf("IsMonotoneSequence(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsWellKnownTestPattern(t *testing.T) {
	if !IsWellKnownTestPattern("0000000000") {
		t.Fatal("expected known pattern to match")
	}
	if IsWellKnownTestPattern("+989123456789") {
		t.Fatal("expected ordinary phone not to match")
	}
}
