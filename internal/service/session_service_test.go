package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/repository"
	"github.com/groupstage/predictor-backend/internal/security"
)

func newSessionServiceForTest(t *testing.T) *SessionService {
	t.Helper()
	_, client := newRedisClientForTest(t)
	c := cache.NewFromClient(client)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sessions := repository.NewSessionRepository(db)
	sessionCache := NewSessionCache(c)
	fraud := NewFraudSignals(c, sessions)
	tokens := security.NewTokenManager(bcrypt.MinCost)

	cfg := SessionServiceConfig{
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		RecentLookupLimit: 3,
		BulkRefreshLimit:  100,
	}
	return NewSessionService(sessions, sessionCache, fraud, tokens, cfg)
}

func TestSessionServiceCreateThenValidateSucceeds(t *testing.T) {
	svc := newSessionServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	sess, access, _, err := svc.CreateSession(ctx, userID, "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	validated, err := svc.ValidateSession(ctx, access)
	if err != nil {
		t.Fatalf("validate session: %v", err)
	}
	if validated.ID != sess.ID {
		t.Fatalf("expected session %s, got %s", sess.ID, validated.ID)
	}
}

func TestSessionServiceValidateRejectsMalformedToken(t *testing.T) {
	svc := newSessionServiceForTest(t)
	if _, err := svc.ValidateSession(context.Background(), "not-hex"); err != ErrInvalidTokenFormat {
		t.Fatalf("expected invalid format error, got %v", err)
	}
}

func TestSessionServiceValidateFallsBackToDBAfterCacheEviction(t *testing.T) {
	svc := newSessionServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	_, access, _, err := svc.CreateSession(ctx, userID, "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := svc.cache.PurgeAccessPrefix(ctx, security.Prefix(access)); err != nil {
		t.Fatalf("purge cache: %v", err)
	}

	validated, err := svc.ValidateSession(ctx, access)
	if err != nil {
		t.Fatalf("expected DB-fallback validation to succeed: %v", err)
	}
	if validated.UserID != userID {
		t.Fatalf("expected session for user %s, got %s", userID, validated.UserID)
	}

	if _, err := svc.cache.GetByAccessPrefix(ctx, security.Prefix(access)); err != nil {
		t.Fatalf("expected DB fallback to re-populate cache, got %v", err)
	}
}

func TestSessionServiceValidateFailsAfterDelete(t *testing.T) {
	svc := newSessionServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	sess, access, _, err := svc.CreateSession(ctx, userID, "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	deleted, err := svc.DeleteSession(ctx, userID, sess.ID)
	if err != nil || !deleted {
		t.Fatalf("delete session: deleted=%v err=%v", deleted, err)
	}

	if _, err := svc.ValidateSession(ctx, access); err != ErrSessionInvalid {
		t.Fatalf("expected session invalid after delete, got %v", err)
	}
}

func TestSessionServiceRefreshRotatesAccessHashOnly(t *testing.T) {
	svc := newSessionServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	sess, oldAccess, refresh, err := svc.CreateSession(ctx, userID, "1.1.1.1", "agent")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	newAccess, err := svc.RefreshSession(ctx, refresh)
	if err != nil {
		t.Fatalf("refresh session: %v", err)
	}
	if newAccess == oldAccess {
		t.Fatal("expected new access token to differ from old")
	}

	if _, err := svc.ValidateSession(ctx, oldAccess); err == nil {
		t.Fatal("expected old access token to be invalid after refresh")
	}
	validated, err := svc.ValidateSession(ctx, newAccess)
	if err != nil {
		t.Fatalf("validate new access token: %v", err)
	}
	if validated.ID != sess.ID {
		t.Fatalf("expected same session identity across refresh, got %s want %s", validated.ID, sess.ID)
	}

	// refresh token itself is never rotated
	if _, err := svc.RefreshSession(ctx, refresh); err != nil {
		t.Fatalf("expected refresh token to remain usable: %v", err)
	}
}

func TestSessionServiceDeleteAllUserSessions(t *testing.T) {
	svc := newSessionServiceForTest(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, _, _, err := svc.CreateSession(ctx, userID, "1.1.1.1", "agent"); err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
	}

	n, err := svc.DeleteAllUserSessions(ctx, userID)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted sessions, got %d", n)
	}

	remaining, err := svc.ListActiveSessions(userID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no remaining sessions, got %d", len(remaining))
	}
}

func TestSessionServiceCleanupExpired(t *testing.T) {
	svc := newSessionServiceForTest(t)
	ctx := context.Background()

	expired := &domain.Session{
		UserID:      uuid.New(),
		AccessHash:  "x",
		RefreshHash: "y",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	if err := svc.sessions.Create(expired); err != nil {
		t.Fatalf("seed expired session: %v", err)
	}

	n, err := svc.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleaned session, got %d", n)
	}
}
