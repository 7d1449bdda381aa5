package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
)

var ErrResultNotFound = errors.New("result not found")

// ResultRepository backs the Worker (C12) and the leaderboard/result read
// endpoints. ExistsBySubmissionID plus the unique index on submission_id
// together give the at-most-once effective delivery spec.md §4.7 requires.
type ResultRepository interface {
	Create(r *domain.Result) error
	ExistsBySubmissionID(submissionID uuid.UUID) (bool, error)
	ListByUserID(userID uuid.UUID) ([]domain.Result, error)
	Leaderboard(limit int) ([]domain.Result, error)
}

type GormResultRepository struct{ db *gorm.DB }

func NewResultRepository(db *gorm.DB) ResultRepository { return &GormResultRepository{db: db} }

func (r *GormResultRepository) Create(res *domain.Result) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	err := r.db.Create(res).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "result", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "result", "create", "success")
	return nil
}

func (r *GormResultRepository) ExistsBySubmissionID(submissionID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&domain.Result{}).Where("submission_id = ?", submissionID).Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "result", "exists_by_submission_id", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "result", "exists_by_submission_id", "success")
	return count > 0, nil
}

func (r *GormResultRepository) ListByUserID(userID uuid.UUID) ([]domain.Result, error) {
	var results []domain.Result
	err := r.db.Where("user_id = ?", userID).Order("processed_at DESC").Find(&results).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "result", "list_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "result", "list_by_user_id", "success")
	return results, nil
}

func (r *GormResultRepository) Leaderboard(limit int) ([]domain.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	var results []domain.Result
	err := r.db.Order("total_score DESC, processed_at ASC").Limit(limit).Find(&results).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "result", "leaderboard", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "result", "leaderboard", "success")
	return results, nil
}
