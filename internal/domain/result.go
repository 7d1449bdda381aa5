package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Result is written at most once per submission. The unique constraint on
// SubmissionID plus a pre-insert existence check give the scoring worker
// at-most-once effective semantics over an at-least-once broker.
type Result struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SubmissionID uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"submission_id"`
	UserID       uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	TotalScore   int             `gorm:"index:idx_results_total_score,sort:desc;not null" json:"total_score"`
	Details      json.RawMessage `gorm:"type:jsonb" json:"details"`
	ProcessedAt  time.Time       `json:"processed_at"`
}
