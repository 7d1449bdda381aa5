package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/repository"
)

var ErrEmptySubmissionPayload = errors.New("EMPTY_SUBMISSION_PAYLOAD")

// SubmissionService implements C10: shape validation deferred to the
// framework layer, one row per submit call, no dedup at intake. Duplicate
// entities across groups and group-cardinality checks are deliberately
// left to the scoring kernel (C9), per spec.md §4.8.
type SubmissionService struct {
	submissions repository.SubmissionRepository
	results     repository.ResultRepository
}

func NewSubmissionService(submissions repository.SubmissionRepository, results repository.ResultRepository) *SubmissionService {
	return &SubmissionService{submissions: submissions, results: results}
}

// Submit persists payload as a new Submission row owned by userID. The
// design permits multiple submissions per user; each is scored
// independently, per spec.md §4.8.
func (s *SubmissionService) Submit(ctx context.Context, userID uuid.UUID, payload json.RawMessage) (uuid.UUID, error) {
	if len(payload) == 0 {
		return uuid.Nil, ErrEmptySubmissionPayload
	}

	sub := &domain.Submission{
		ID:      uuid.New(),
		UserID:  userID,
		Payload: payload,
	}
	if err := s.submissions.Create(sub); err != nil {
		return uuid.Nil, fmt.Errorf("submission: persist: %w", err)
	}

	observability.AuditCtx(ctx, "submission.created", "user_id", userID, "submission_id", sub.ID)
	return sub.ID, nil
}

// ListResults returns userID's results ordered by processedAt descending,
// backing GET /prediction/result.
func (s *SubmissionService) ListResults(ctx context.Context, userID uuid.UUID) ([]domain.Result, error) {
	return s.results.ListByUserID(userID)
}

// Leaderboard returns the top limit results ordered by totalScore
// descending, backing GET /prediction/leaderboard.
func (s *SubmissionService) Leaderboard(ctx context.Context, limit int) ([]domain.Result, error) {
	return s.results.Leaderboard(limit)
}
