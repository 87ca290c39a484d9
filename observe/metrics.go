package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records resilience-layer telemetry.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRecovery records one recovery execution with its outcome.
	RecordRecovery(ctx context.Context, strategy string, duration time.Duration, degraded bool, err error)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, name, from, to string)

	// RecordDLQ records a dead-letter queue event ("enqueued", "retried",
	// "succeeded", "poisoned", "evicted").
	RecordDLQ(ctx context.Context, queue, event string)

	// RecordQuotaDecision records a quota admission decision.
	RecordQuotaDecision(ctx context.Context, window string, allowed bool)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	recoveryTotal    metric.Int64Counter
	recoveryDegraded metric.Int64Counter
	recoveryErrors   metric.Int64Counter
	recoveryDuration metric.Float64Histogram
	breakerChanges   metric.Int64Counter
	dlqEvents        metric.Int64Counter
	quotaDecisions   metric.Int64Counter
}

// NewMetrics creates a Metrics instance on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	recoveryTotal, err := meter.Int64Counter(
		"shield.recovery.total",
		metric.WithDescription("Total number of recovery executions"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	recoveryDegraded, err := meter.Int64Counter(
		"shield.recovery.degraded",
		metric.WithDescription("Recovery executions resolved with a fallback value"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	recoveryErrors, err := meter.Int64Counter(
		"shield.recovery.errors",
		metric.WithDescription("Recovery executions that surfaced an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	recoveryDuration, err := meter.Float64Histogram(
		"shield.recovery.duration_ms",
		metric.WithDescription("Recovery execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	breakerChanges, err := meter.Int64Counter(
		"shield.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	dlqEvents, err := meter.Int64Counter(
		"shield.dlq.events",
		metric.WithDescription("Dead-letter queue lifecycle events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	quotaDecisions, err := meter.Int64Counter(
		"shield.quota.decisions",
		metric.WithDescription("Quota admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		recoveryTotal:    recoveryTotal,
		recoveryDegraded: recoveryDegraded,
		recoveryErrors:   recoveryErrors,
		recoveryDuration: recoveryDuration,
		breakerChanges:   breakerChanges,
		dlqEvents:        dlqEvents,
		quotaDecisions:   quotaDecisions,
	}, nil
}

func (m *metricsImpl) RecordRecovery(ctx context.Context, strategy string, duration time.Duration, degraded bool, err error) {
	opt := metric.WithAttributes(attribute.String("strategy", strategy))

	m.recoveryTotal.Add(ctx, 1, opt)
	if degraded {
		m.recoveryDegraded.Add(ctx, 1, opt)
	}
	if err != nil {
		m.recoveryErrors.Add(ctx, 1, opt)
	}
	m.recoveryDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.breakerChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *metricsImpl) RecordDLQ(ctx context.Context, queue, event string) {
	m.dlqEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("event", event),
	))
}

func (m *metricsImpl) RecordQuotaDecision(ctx context.Context, window string, allowed bool) {
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("window", window),
		attribute.Bool("allowed", allowed),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (noopMetrics) RecordRecovery(context.Context, string, time.Duration, bool, error) {}
func (noopMetrics) RecordBreakerTransition(context.Context, string, string, string)    {}
func (noopMetrics) RecordDLQ(context.Context, string, string)                          {}
func (noopMetrics) RecordQuotaDecision(context.Context, string, bool)                  {}

// NopMetrics returns a Metrics that discards everything.
func NopMetrics() Metrics { return noopMetrics{} }
