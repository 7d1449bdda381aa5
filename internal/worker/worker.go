// Package worker implements the per-job consumer half of the scoring
// pipeline (C12): one process per instance, N processes scale horizontally
// behind the same durable queue, per spec.md §4.7.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/groupstage/predictor-backend/internal/broker"
	"github.com/groupstage/predictor-backend/internal/domain"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/repository"
	"github.com/groupstage/predictor-backend/internal/scoring"
)

// StatsIncrementer is the subset of cache.Cache the worker needs to advance
// the global stats:processed counter, kept narrow so tests can substitute a
// fake without standing up Redis.
type StatsIncrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// GroundTruthSource is satisfied by *service.TeamCache; declared here to
// avoid an import cycle between internal/worker and internal/service.
type GroundTruthSource interface {
	GroundTruth(ctx context.Context) (scoring.GroundTruth, error)
	DesignatedEntityID(ctx context.Context, englishName string) (string, bool, error)
}

const statsProcessedKey = "stats:processed"

// Config holds the per-job soft timeout and the designated entity's English
// name, defaulting to "Iran" upstream in internal/config.
type Config struct {
	DesignatedEntityName string
	JobTimeout           time.Duration
}

// Worker implements Consume's Handler over the ScoreJob payload: idempotent,
// side-effect-free on a duplicate or missing submission, and durable in the
// face of a mid-job crash since the Result row is the only side effect.
// Grounded on the teacher's repository-then-observability call shape; no
// example repo carries a message-consumer worker loop, so the shape here is
// new, built directly from spec.md §4.7's numbered algorithm.
type Worker struct {
	submissions repository.SubmissionRepository
	results     repository.ResultRepository
	truth       GroundTruthSource
	stats       StatsIncrementer
	cfg         Config
	logger      *slog.Logger
}

func New(submissions repository.SubmissionRepository, results repository.ResultRepository, truth GroundTruthSource, stats StatsIncrementer, cfg Config, logger *slog.Logger) *Worker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Worker{submissions: submissions, results: results, truth: truth, stats: stats, cfg: cfg, logger: logger}
}

// Handle implements broker.Handler. A returned error routes the delivery
// through the broker's retry/DLQ policy; a nil return acks it.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	ctx, cancel := broker.ConsumeContextTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	var job broker.ScoreJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("worker: decode job: %w", err)
	}
	if job.SubmissionID == uuid.Nil || job.UserID == uuid.Nil {
		return fmt.Errorf("worker: job missing submissionId or userId")
	}

	exists, err := w.results.ExistsBySubmissionID(job.SubmissionID)
	if err != nil {
		return fmt.Errorf("worker: check existing result: %w", err)
	}
	if exists {
		return nil
	}

	sub, err := w.submissions.FindByID(job.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil
		}
		return fmt.Errorf("worker: load submission: %w", err)
	}

	start := time.Now()
	score, err := w.score(ctx, sub)
	if err != nil {
		return err
	}

	details, err := json.Marshal(buildDetails(score))
	if err != nil {
		return fmt.Errorf("worker: marshal result details: %w", err)
	}

	result := &domain.Result{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		TotalScore:   score.Value,
		Details:      details,
		ProcessedAt:  time.Now(),
	}
	if err := w.results.Create(result); err != nil {
		return fmt.Errorf("worker: insert result: %w", err)
	}

	if _, err := w.stats.Incr(ctx, statsProcessedKey); err != nil {
		w.logger.WarnContext(ctx, "worker: failed to increment stats:processed", "error", err)
	}

	observability.RecordScoring(ctx, string(score.Rule), time.Since(start).Seconds())
	observability.AuditCtx(ctx, "worker.scored", "submissionId", sub.ID, "rule", score.Rule, "value", score.Value)
	return nil
}

func (w *Worker) score(ctx context.Context, sub *domain.Submission) (scoring.Score, error) {
	truth, err := w.truth.GroundTruth(ctx)
	if err != nil {
		return scoring.Score{}, fmt.Errorf("worker: load ground truth: %w", err)
	}

	designatedID, _, err := w.truth.DesignatedEntityID(ctx, w.cfg.DesignatedEntityName)
	if err != nil {
		return scoring.Score{}, fmt.Errorf("worker: resolve designated entity: %w", err)
	}

	submission, err := scoring.FlattenPayload(sub.Payload)
	if err != nil {
		return scoring.Score{}, fmt.Errorf("worker: flatten payload: %w", err)
	}

	return scoring.Evaluate(submission, truth, designatedID), nil
}

// resultDetails is the persisted shape of Result.Details, preserving the
// legacy field names spec.md §4.7 names explicitly.
type resultDetails struct {
	Rule             string           `json:"rule"`
	CorrectGroups    []string         `json:"correctGroups"`
	CorrectTeams     []string         `json:"correctTeams"`
	IranGroupCorrect bool             `json:"iranGroupCorrect"`
	PerfectGroups    []string         `json:"perfectGroups"`
	ScoringBreakdown scoringBreakdown `json:"scoringBreakdown"`
}

type scoringBreakdown struct {
	RuleTag   int      `json:"rule"`
	Misplaced []string `json:"misplaced,omitempty"`
}

func buildDetails(score scoring.Score) resultDetails {
	d := resultDetails{
		Rule:             string(score.Rule),
		PerfectGroups:    score.PerfectGroups,
		IranGroupCorrect: score.Rule == scoring.RuleIranGroupCorrect,
		ScoringBreakdown: scoringBreakdown{RuleTag: score.RuleTag, Misplaced: score.Misplaced},
	}
	if score.GroupLabel != "" {
		d.CorrectGroups = []string{score.GroupLabel}
		d.CorrectTeams = score.Teams
	} else if len(score.PerfectGroups) > 0 {
		d.CorrectGroups = score.PerfectGroups
	}
	return d
}
