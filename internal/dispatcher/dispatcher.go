// Package dispatcher implements the admin-triggered scan-and-publish half
// of the scoring pipeline (C11): find submissions with no result yet,
// initialize the global progress counters exactly once, and publish one
// job per submission.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/groupstage/predictor-backend/internal/broker"
	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/observability"
	"github.com/groupstage/predictor-backend/internal/repository"
)

const (
	statsTotalKey     = "stats:total"
	statsProcessedKey = "stats:processed"
	logProgressEvery  = 100
)

// Publisher is the subset of *broker.Broker the dispatcher depends on,
// letting tests substitute a fake without a live AMQP connection.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg any) error
	QueueMessageCount(queue string) int
}

// Dispatcher scans for unscored submissions and publishes one ScoreJob per
// row, grounded on the teacher's repository-then-observability call shape;
// the "first write wins" counter initialization is new — no example repo
// carries an admin-triggered batch scan — modeled after the fraud/OTP
// counter pattern already used in internal/service.
type Dispatcher struct {
	submissions repository.SubmissionRepository
	broker      Publisher
	cache       cache.Cache
	queue       string
	logger      *slog.Logger
}

func New(submissions repository.SubmissionRepository, b Publisher, c cache.Cache, queue string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{submissions: submissions, broker: b, cache: c, queue: queue, logger: logger}
}

// Trigger implements spec.md §4.7's dispatcher algorithm. limit bounds how
// many unscored submissions are scanned in a single trigger (0 = no
// bound). It returns the number of jobs queued.
func (d *Dispatcher) Trigger(ctx context.Context, limit int) (queued int, err error) {
	subs, err := d.submissions.Unscored(limit)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: scan unscored: %w", err)
	}

	if err := d.initStatsIfAbsent(ctx, int64(len(subs))); err != nil {
		d.logger.WarnContext(ctx, "dispatcher: failed to initialize stats counters", "error", err)
	}

	for _, sub := range subs {
		job := broker.ScoreJob{SubmissionID: sub.ID, UserID: sub.UserID}
		if err := d.broker.Publish(ctx, d.queue, job); err != nil {
			return queued, fmt.Errorf("dispatcher: publish job for submission %s: %w", sub.ID, err)
		}
		queued++
		if queued%logProgressEvery == 0 {
			d.logger.InfoContext(ctx, "dispatcher: progress", "queued", queued, "total", len(subs))
		}
	}

	observability.RecordDispatcherQueued(ctx, int64(queued))
	observability.AuditCtx(ctx, "dispatcher.triggered", "queued", queued, "scanned", len(subs))
	return queued, nil
}

// initStatsIfAbsent sets stats:total to scanned once, "first write wins",
// and zeroes stats:processed alongside it, per spec.md §4.7 step 2. A
// re-trigger while stats:total already exists is a deliberate no-op; an
// operator must reset the counters explicitly, per spec.md §9.
func (d *Dispatcher) initStatsIfAbsent(ctx context.Context, scanned int64) error {
	client := d.cache.Client()
	ok, err := client.SetNX(ctx, statsTotalKey, scanned, 0).Result()
	if err != nil {
		return fmt.Errorf("set stats:total: %w", err)
	}
	if ok {
		if err := client.Set(ctx, statsProcessedKey, 0, 0).Err(); err != nil {
			return fmt.Errorf("set stats:processed: %w", err)
		}
	}
	return nil
}

// ProcessingStatus backs GET /prediction/admin/processing-status.
type ProcessingStatus struct {
	Total      int64
	Processed  int64
	Pending    int64
	QueueDepth int
}

func (d *Dispatcher) Status(ctx context.Context) (ProcessingStatus, error) {
	client := d.cache.Client()
	total, err := readCounter(ctx, client, statsTotalKey)
	if err != nil {
		return ProcessingStatus{}, err
	}
	processed, err := readCounter(ctx, client, statsProcessedKey)
	if err != nil {
		return ProcessingStatus{}, err
	}
	pending := total - processed
	if pending < 0 {
		pending = 0
	}
	return ProcessingStatus{
		Total:      total,
		Processed:  processed,
		Pending:    pending,
		QueueDepth: d.broker.QueueMessageCount(d.queue),
	}, nil
}

func readCounter(ctx context.Context, client redis.UniversalClient, key string) (int64, error) {
	n, err := client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read counter %q: %w", key, err)
	}
	return n, nil
}
