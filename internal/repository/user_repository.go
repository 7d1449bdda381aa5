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

var ErrUserNotFound = errors.New("user not found")

// UserRepository is deliberately narrow: the contest has no roles or
// per-user profile fields beyond phone identity, so the teacher's
// pagination/RBAC surface (ListPaged, SetRoles, AddRole) has no home here.
type UserRepository interface {
	FindByID(id uuid.UUID) (*domain.User, error)
	FindByPhone(phone string) (*domain.User, error)
	// UpsertByPhone creates a user on first successful OTP verification for
	// a phone, or refreshes lastLoginAt on subsequent ones.
	UpsertByPhone(phone string) (*domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.First(&u, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByPhone(phone string) (*domain.User, error) {
	var u domain.User
	err := r.db.Where("phone = ?", phone).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_phone", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_phone", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_phone", "success")
	return &u, nil
}

// UpsertByPhone implements spec.md §4.3 step 5: "upsert user by normalized
// phone (set lastLoginAt)". The unique index on phone makes the insert
// branch of the ON CONFLICT clause race-safe across concurrent verifies of
// the same number.
func (r *GormUserRepository) UpsertByPhone(phone string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{ID: uuid.New(), Phone: phone, LastLoginAt: &now}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_login_at", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "upsert_by_phone", "error")
		return nil, err
	}
	found, err := r.FindByPhone(phone)
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "upsert_by_phone", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "upsert_by_phone", "success")
	return found, nil
}
