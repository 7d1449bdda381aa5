package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/groupstage/predictor-backend/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// AppMetrics holds the counters and histograms every component records
// against. Instruments are created once in InitMetrics and read through
// package-level Record* helpers, following the teacher's
// internal/observability/metrics.go split between init and record.
type AppMetrics struct {
	repositoryOps      metric.Int64Counter
	brokerOps          metric.Int64Counter
	sessionValidations metric.Int64Counter
	otpOutcomes        metric.Int64Counter
	fraudSignals       metric.Int64Counter
	scoringOutcomes    metric.Int64Counter
	scoringDuration    metric.Float64Histogram
	dispatcherQueued   metric.Int64Counter
	sessionsCleaned    metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, registerInstruments(mp)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	if err := registerInstruments(mp); err != nil {
		return nil, err
	}

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func registerInstruments(mp *sdkmetric.MeterProvider) error {
	meter := mp.Meter("predictor-backend")

	repositoryOps, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return err
	}
	brokerOps, err := meter.Int64Counter("broker.operations")
	if err != nil {
		return err
	}
	sessionValidations, err := meter.Int64Counter("auth.session.validations")
	if err != nil {
		return err
	}
	otpOutcomes, err := meter.Int64Counter("auth.otp.outcomes")
	if err != nil {
		return err
	}
	fraudSignals, err := meter.Int64Counter("auth.fraud.signals")
	if err != nil {
		return err
	}
	scoringOutcomes, err := meter.Int64Counter("scoring.outcomes")
	if err != nil {
		return err
	}
	scoringDuration, err := meter.Float64Histogram("scoring.duration_seconds")
	if err != nil {
		return err
	}
	dispatcherQueued, err := meter.Int64Counter("dispatcher.queued")
	if err != nil {
		return err
	}
	sessionsCleaned, err := meter.Int64Counter("auth.session.cleaned")
	if err != nil {
		return err
	}
	rateLimitDecisions, err := meter.Int64Counter("http.rate_limit.decisions")
	if err != nil {
		return err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		repositoryOps:      repositoryOps,
		brokerOps:          brokerOps,
		sessionValidations: sessionValidations,
		otpOutcomes:        otpOutcomes,
		fraudSignals:       fraudSignals,
		scoringOutcomes:    scoringOutcomes,
		scoringDuration:    scoringDuration,
		dispatcherQueued:   dispatcherQueued,
		sessionsCleaned:    sessionsCleaned,
		rateLimitDecisions: rateLimitDecisions,
	}
	metricsMu.Unlock()
	return nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordRepositoryOperation is called by every repository method on
// completion, mirroring the teacher's per-method
// observability.RecordRepositoryOperation calls in
// internal/repository/session_repository.go, generalized across entities
// instead of being session-specific.
func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func RecordBrokerOperation(ctx context.Context, queue, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.brokerOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// RecordSessionValidation distinguishes the cache-hit fast path from the
// bounded database bcrypt-scan fallback, per spec.md's session-validation
// two-tier lookup.
func RecordSessionValidation(ctx context.Context, path, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	))
}

func RecordOTPOutcome(ctx context.Context, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.otpOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func RecordFraudSignal(ctx context.Context, signal string) {
	m := current()
	if m == nil {
		return
	}
	m.fraudSignals.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

func RecordScoring(ctx context.Context, rule string, seconds float64) {
	m := current()
	if m == nil {
		return
	}
	m.scoringOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
	m.scoringDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("rule", rule)))
}

func RecordDispatcherQueued(ctx context.Context, n int64) {
	m := current()
	if m == nil {
		return
	}
	m.dispatcherQueued.Add(ctx, n)
}

func RecordSessionsCleaned(ctx context.Context, n int64) {
	m := current()
	if m == nil {
		return
	}
	m.sessionsCleaned.Add(ctx, n)
}

// RecordRateLimitDecision is called once per request by the rate-limiting
// middleware; keyType distinguishes a per-principal key from the anonymous
// per-IP fallback.
func RecordRateLimitDecision(ctx context.Context, route, decision, keyType string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("decision", decision),
		attribute.String("key_type", keyType),
	))
}
