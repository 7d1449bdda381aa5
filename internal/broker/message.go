package broker

import "github.com/google/uuid"

// ScoreJob is the wire body published for every unscored submission. It is
// intentionally minimal: the worker re-loads the submission and ground
// truth by id rather than shipping their payloads through the queue.
type ScoreJob struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	UserID       uuid.UUID `json:"userId"`
}
