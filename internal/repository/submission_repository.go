package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepository backs Submission Intake (C10) and is scanned by the
// Dispatcher (C11) for rows lacking a Result.
type SubmissionRepository interface {
	Create(s *domain.Submission) error
	FindByID(id uuid.UUID) (*domain.Submission, error)
	// Unscored returns submissions with no corresponding Result row, the
	// outer-anti-join spec.md §4.7 describes.
	Unscored(limit int) ([]domain.Submission, error)
}

type GormSubmissionRepository struct{ db *gorm.DB }

func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &GormSubmissionRepository{db: db}
}

func (r *GormSubmissionRepository) Create(s *domain.Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "submission", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "submission", "create", "success")
	return nil
}

func (r *GormSubmissionRepository) FindByID(id uuid.UUID) (*domain.Submission, error) {
	var s domain.Submission
	err := r.db.First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "submission", "find_by_id", "not_found")
			return nil, ErrSubmissionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "submission", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "submission", "find_by_id", "success")
	return &s, nil
}

func (r *GormSubmissionRepository) Unscored(limit int) ([]domain.Submission, error) {
	var subs []domain.Submission
	q := r.db.Where("id NOT IN (?)", r.db.Model(&domain.Result{}).Select("submission_id"))
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "submission", "unscored", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "submission", "unscored", "success")
	return subs, nil
}
