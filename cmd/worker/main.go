// Command worker consumes ScoreJob messages published by the dispatcher
// (§4.7) and scores each submission. It runs WORKER_CONCURRENCY concurrent
// consumers, one AMQP channel per goroutine (the standard competing-
// consumers pattern), coordinated with golang.org/x/sync/errgroup so any
// consumer's fatal error tears down the whole group.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/groupstage/predictor-backend/internal/app"
	"github.com/groupstage/predictor-backend/internal/broker"
	"github.com/groupstage/predictor-backend/internal/config"
	"github.com/groupstage/predictor-backend/internal/tools/common"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume prediction scoring jobs from the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	if err := common.LoadEnvFile(".env"); err != nil {
		return fmt.Errorf("worker: load .env: %w", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("worker: load config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("worker: build app: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	group, gctx := errgroup.WithContext(sigCtx)
	brokers := make([]*broker.Broker, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		b, err := broker.Connect(cfg.RabbitMQURL, cfg.RabbitMQPrefetch, cfg.RabbitMQMaxRetries)
		if err != nil {
			return fmt.Errorf("worker: connect broker %d: %w", i, err)
		}
		if err := b.AssertQueue(cfg.RabbitMQQueue); err != nil {
			return fmt.Errorf("worker: assert queue %d: %w", i, err)
		}
		brokers = append(brokers, b)

		w := a.NewWorker()
		queue := cfg.RabbitMQQueue
		id := i
		group.Go(func() error {
			a.Logger.InfoContext(gctx, "worker consumer starting", "id", id, "queue", queue)
			return b.Consume(gctx, queue, w.Handle)
		})
	}

	err = group.Wait()
	for _, b := range brokers {
		_ = b.Close()
	}
	// errgroup.WithContext cancels gctx the instant any goroutine returns
	// an error, so gctx.Err() is always non-nil by the time Wait returns
	// one; check sigCtx instead to tell "a consumer crashed" apart from
	// "SIGINT/SIGTERM asked us to stop".
	if err != nil && sigCtx.Err() == nil {
		return fmt.Errorf("worker: consumer failed: %w", err)
	}
	return a.Shutdown(context.Background())
}
