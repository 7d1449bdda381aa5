// Command api runs the HTTP surface (§6): OTP auth, session management,
// prediction intake and read-back, and the admin trigger/status endpoints.
// Grounded on the teacher's tools cobra command style
// (internal/tools/obscheck.NewRootCommand).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groupstage/predictor-backend/internal/app"
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
		Use:   "api",
		Short: "Run the prediction contest HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	if err := common.LoadEnvFile(".env"); err != nil {
		return fmt.Errorf("api: load .env: %w", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("api: load config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("api: build app: %w", err)
	}

	if cfg.EnableAsync {
		b, err := a.ConnectBroker()
		if err != nil {
			return fmt.Errorf("api: connect broker: %w", err)
		}
		defer func() { _ = b.Close() }()
	}

	server := a.BuildServer()

	go a.RunSessionCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		a.Logger.InfoContext(ctx, "shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("api: server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(shutdownCtx, "graceful shutdown failed", "error", err)
	}
	return a.Shutdown(shutdownCtx)
}
