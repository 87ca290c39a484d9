package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_RecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordRecovery(ctx, "database-recovery", 10*time.Millisecond, true, errors.New("boom"))
	m.RecordBreakerTransition(ctx, "database", "closed", "open")
	m.RecordDLQ(ctx, "email", "enqueued")
	m.RecordQuotaDecision(ctx, "hourly", false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	recorded := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			recorded[metric.Name] = true
		}
	}

	want := []string{
		"shield.recovery.total",
		"shield.recovery.degraded",
		"shield.recovery.errors",
		"shield.recovery.duration_ms",
		"shield.breaker.transitions",
		"shield.dlq.events",
		"shield.quota.decisions",
	}
	for _, name := range want {
		if !recorded[name] {
			t.Errorf("instrument %s recorded no data", name)
		}
	}
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	ctx := context.Background()

	// Must not panic.
	m.RecordRecovery(ctx, "s", time.Second, false, nil)
	m.RecordBreakerTransition(ctx, "b", "closed", "open")
	m.RecordDLQ(ctx, "q", "enqueued")
	m.RecordQuotaDecision(ctx, "hourly", true)
}
