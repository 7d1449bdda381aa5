package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/repository"
	"github.com/groupstage/predictor-backend/internal/security"
)

var (
	ErrInvalidTokenFormat = errors.New("INVALID_TOKEN_FORMAT")
	ErrSessionInvalid     = errors.New("INVALID_OR_EXPIRED_TOKEN")
)

// SessionServiceConfig carries the TTLs and scan bounds spec.md §4.2
// exposes as environment variables.
type SessionServiceConfig struct {
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RecentLookupLimit int
	BulkRefreshLimit  int
}

// SessionService implements C7: two-token session issuance, cache-then-DB
// validation, single-hash-rewrite refresh, and hard deletes. Grounded on
// the shape of the teacher's former token_service.go (constructor
// injection of a repository plus a bcrypt-cost-like parameter,
// Issue/Rotate-style methods) with its JWT internals replaced by
// internal/security's opaque-token primitives per this repo's design.
type SessionService struct {
	sessions repository.SessionRepository
	cache    *SessionCache
	fraud    *FraudSignals
	tokens   *security.TokenManager
	cfg      SessionServiceConfig
}

func NewSessionService(sessions repository.SessionRepository, cache *SessionCache, fraud *FraudSignals, tokens *security.TokenManager, cfg SessionServiceConfig) *SessionService {
	return &SessionService{sessions: sessions, cache: cache, fraud: fraud, tokens: tokens, cfg: cfg}
}

// CreateSession implements spec.md §4.2's createSession.
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, addr, agent string) (session *domain.Session, accessToken, refreshToken string, err error) {
	s.fraud.CheckConcurrentSessions(ctx, userID, addr, agent, s.cfg.RecentLookupLimit, time.Hour)

	accessToken, accessHash, err := s.tokens.GenerateToken()
	if err != nil {
		return nil, "", "", fmt.Errorf("session: generate access token: %w", err)
	}
	refreshToken, refreshHash, err := s.tokens.GenerateToken()
	if err != nil {
		return nil, "", "", fmt.Errorf("session: generate refresh token: %w", err)
	}

	now := time.Now()
	sess := &domain.Session{
		ID:          uuid.New(),
		UserID:      userID,
		AccessHash:  accessHash,
		RefreshHash: refreshHash,
		UserAgent:   agent,
		Address:     addr,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
	}
	if err := s.sessions.Create(sess); err != nil {
		return nil, "", "", fmt.Errorf("session: persist: %w", err)
	}

	if err := s.cache.PutAccessPrefix(ctx, security.Prefix(accessToken), sess.ID.String(), s.cfg.AccessTTL); err != nil {
		return nil, "", "", fmt.Errorf("session: cache access prefix: %w", err)
	}
	if err := s.cache.PutRefreshPrefix(ctx, security.Prefix(refreshToken), sess.ID.String(), s.cfg.RefreshTTL); err != nil {
		return nil, "", "", fmt.Errorf("session: cache refresh prefix: %w", err)
	}

	observability.AuditCtx(ctx, "session.created", "user_id", userID, "session_id", sess.ID)
	observability.RecordSessionValidation(ctx, "create", "success")
	return sess, accessToken, refreshToken, nil
}

// ValidateSession implements spec.md §4.2's validateSession: cache path
// first, falling back to a bounded DB scan on a miss or hash mismatch.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (*domain.Session, error) {
	if !security.ValidFormat(token) {
		observability.RecordSessionValidation(ctx, "access", "invalid_format")
		return nil, ErrInvalidTokenFormat
	}
	prefix := security.Prefix(token)

	if sess, ok := s.validateViaCache(ctx, token, prefix); ok {
		observability.RecordSessionValidation(ctx, "access", "success")
		return sess, nil
	}

	observability.RecordSessionValidation(ctx, "access", "invalid_or_expired")
	return nil, ErrSessionInvalid
}

func (s *SessionService) validateViaCache(ctx context.Context, token, prefix string) (*domain.Session, bool) {
	if sessionIDRaw, err := s.cache.GetByAccessPrefix(ctx, prefix); err == nil {
		if id, parseErr := uuid.Parse(sessionIDRaw); parseErr == nil {
			if sess, err := s.sessions.FindByID(id); err == nil &&
				time.Now().Before(sess.ExpiresAt) &&
				security.VerifyToken(token, sess.AccessHash) {
				return sess, true
			}
		}
		_ = s.cache.PurgeAccessPrefix(ctx, prefix)
	}

	sessions, err := s.sessions.Recent(s.cfg.RecentLookupLimit)
	if err != nil {
		return nil, false
	}
	for i := range sessions {
		sess := sessions[i]
		if security.VerifyToken(token, sess.AccessHash) {
			ttl := time.Until(sess.ExpiresAt)
			if s.cfg.AccessTTL < ttl {
				ttl = s.cfg.AccessTTL
			}
			if ttl > 0 {
				_ = s.cache.PutAccessPrefix(ctx, prefix, sess.ID.String(), ttl)
			}
			return &sess, true
		}
	}
	return nil, false
}

// RefreshSession implements spec.md §4.2's refreshSession.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (newAccessToken string, err error) {
	if !security.ValidFormat(refreshToken) {
		observability.RecordSessionValidation(ctx, "refresh", "invalid_format")
		return "", ErrInvalidTokenFormat
	}
	prefix := security.Prefix(refreshToken)

	sess, err := s.locateByRefreshToken(ctx, refreshToken, prefix)
	if err != nil {
		observability.RecordSessionValidation(ctx, "refresh", "not_found")
		return "", ErrSessionInvalid
	}

	count, err := s.cache.IncrRefreshFrequency(ctx, sess.UserID.String())
	if err == nil {
		s.fraud.TrackRefreshFrequency(ctx, sess.UserID, count)
	}

	newAccessToken, newAccessHash, err := s.tokens.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("session: generate access token: %w", err)
	}
	if err := s.sessions.UpdateAccessHash(sess.ID, newAccessHash); err != nil {
		return "", fmt.Errorf("session: update access hash: %w", err)
	}
	if err := s.cache.PutAccessPrefix(ctx, security.Prefix(newAccessToken), sess.ID.String(), s.cfg.AccessTTL); err != nil {
		return "", fmt.Errorf("session: cache access prefix: %w", err)
	}

	observability.AuditCtx(ctx, "session.refreshed", "user_id", sess.UserID, "session_id", sess.ID)
	observability.RecordSessionValidation(ctx, "refresh", "success")
	return newAccessToken, nil
}

func (s *SessionService) locateByRefreshToken(ctx context.Context, refreshToken, prefix string) (*domain.Session, error) {
	if sessionIDRaw, err := s.cache.GetByRefreshPrefix(ctx, prefix); err == nil {
		if id, parseErr := uuid.Parse(sessionIDRaw); parseErr == nil {
			if sess, err := s.sessions.FindByID(id); err == nil &&
				time.Now().Before(sess.ExpiresAt) &&
				security.VerifyToken(refreshToken, sess.RefreshHash) {
				return sess, nil
			}
		}
		_ = s.cache.PurgeRefreshPrefix(ctx, prefix)
	}

	sessions, err := s.sessions.Recent(s.cfg.BulkRefreshLimit)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sess := sessions[i]
		if security.VerifyToken(refreshToken, sess.RefreshHash) {
			return &sess, nil
		}
	}
	return nil, ErrSessionInvalid
}

// DeleteSession implements spec.md §4.2's deleteSession: a hard delete
// scoped to the owning user. Cache entries are left to expire; the
// hash-verify step on validate makes a stale cache entry harmless.
func (s *SessionService) DeleteSession(ctx context.Context, userID, sessionID uuid.UUID) (bool, error) {
	deleted, err := s.sessions.DeleteByIDForUser(userID, sessionID)
	if err != nil {
		return false, fmt.Errorf("session: delete: %w", err)
	}
	if deleted {
		observability.AuditCtx(ctx, "session.deleted", "user_id", userID, "session_id", sessionID)
	}
	return deleted, nil
}

// DeleteAllUserSessions implements spec.md §4.2's deleteAllUserSessions.
func (s *SessionService) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.sessions.DeleteAllByUserID(userID)
	if err != nil {
		return 0, fmt.Errorf("session: delete all: %w", err)
	}
	observability.AuditCtx(ctx, "session.deleted_all", "user_id", userID, "count", n)
	return n, nil
}

// CleanupExpired implements spec.md §4.2's scheduled cleanup.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.CleanupExpired()
	if err != nil {
		return 0, fmt.Errorf("session: cleanup expired: %w", err)
	}
	observability.RecordSessionsCleaned(ctx, n)
	return n, nil
}

// ListActiveSessions implements spec.md §6's GET /auth/sessions.
func (s *SessionService) ListActiveSessions(userID uuid.UUID) ([]domain.Session, error) {
	return s.sessions.ListActiveByUserID(userID)
}
