package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists sessions for the bcrypt-hash bearer-token
// scheme (C7). Unlike the teacher's JWT-era model there is no rotation or
// family lineage: only accessHash is ever rewritten in place, on refresh,
// and deletion is always explicit and hard.
type SessionRepository interface {
	Create(s *domain.Session) error
	FindByID(id uuid.UUID) (*domain.Session, error)
	FindByIDForUser(userID, sessionID uuid.UUID) (*domain.Session, error)
	ListActiveByUserID(userID uuid.UUID) ([]domain.Session, error)
	RecentByUserID(userID uuid.UUID, limit int) ([]domain.Session, error)
	Recent(limit int) ([]domain.Session, error)
	UpdateAccessHash(sessionID uuid.UUID, accessHash string) error
	DeleteByID(sessionID uuid.UUID) error
	DeleteByIDForUser(userID, sessionID uuid.UUID) (bool, error)
	DeleteAllByUserID(userID uuid.UUID) (int64, error)
	CleanupExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(id uuid.UUID) (*domain.Session, error) {
	var s domain.Session
	err := r.db.First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(userID, sessionID uuid.UUID) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(userID uuid.UUID) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

// RecentByUserID returns one user's most recent non-expired sessions,
// newest first, bounded by limit. The DB-fallback path of ValidateSession
// and RefreshSession does not use it; that path scans across all users
// through Recent.
func (r *GormSessionRepository) RecentByUserID(userID uuid.UUID, limit int) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "recent_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "recent_by_user_id", "success")
	return sessions, nil
}

// Recent backs validateSession's and refreshSession's global DB-fallback
// scan, per spec.md §4.2: the token carries no user id, so the bounded
// scan runs across all users' most recent non-expired sessions rather
// than one user's.
func (r *GormSessionRepository) Recent(limit int) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("expires_at > ?", time.Now()).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "recent", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "recent", "success")
	return sessions, nil
}

// UpdateAccessHash rewrites the access-token hash under a row lock so two
// concurrent refreshes of the same session serialize instead of racing:
// the second transaction blocks on the SELECT ... FOR UPDATE until the
// first commits, rather than both reading a stale row and issuing
// independent blind updates.
func (r *GormSessionRepository) UpdateAccessHash(sessionID uuid.UUID, accessHash string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&s, "id = ?", sessionID).Error; err != nil {
			return err
		}
		return tx.Model(&s).Update("access_hash", accessHash).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "update_access_hash", "not_found")
			return ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "update_access_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "update_access_hash", "success")
	return nil
}

func (r *GormSessionRepository) DeleteByID(sessionID uuid.UUID) error {
	err := r.db.Delete(&domain.Session{}, "id = ?", sessionID).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "success")
	return nil
}

func (r *GormSessionRepository) DeleteByIDForUser(userID, sessionID uuid.UUID) (bool, error) {
	res := r.db.Where("user_id = ? AND id = ?", userID, sessionID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id_for_user", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id_for_user", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) DeleteAllByUserID(userID uuid.UUID) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_all_by_user_id", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_all_by_user_id", "success")
	return res.RowsAffected, nil
}

// CleanupExpired is invoked by the scheduled-cleanup cron surface; it
// hard-deletes any session past its expiry, per spec.md §4.2.
func (r *GormSessionRepository) CleanupExpired() (int64, error) {
	res := r.db.Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
