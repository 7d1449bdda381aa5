package observability

import (
	"context"
	"log/slog"

	"github.com/groupstage/predictor-backend/internal/config"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Runtime holds process-lifetime observability handles. Tracing is
// deliberately absent: no SPEC_FULL.md component consumes spans, and the
// teacher's tracer provider would sit unwired.
type Runtime struct {
	MeterProvider *sdkmetric.MeterProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Runtime{MeterProvider: mp}, nil
}

func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || r.MeterProvider == nil {
		return nil
	}
	return r.MeterProvider.Shutdown(ctx)
}
