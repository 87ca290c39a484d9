package observe

import (
	"context"
	"errors"
	"testing"
)

func TestConfigValidate_Valid(t *testing.T) {
	cfg := Config{
		ServiceName: "shield-test",
		Version:     "1.0.0",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "stdout",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "stdout",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestConfigValidate_MissingServiceName(t *testing.T) {
	cfg := Config{Version: "1.0.0"}

	if err := cfg.Validate(); !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("Validate() = %v, want ErrMissingServiceName", err)
	}
}

func TestConfigValidate_InvalidTracingExporter(t *testing.T) {
	cfg := Config{
		ServiceName: "shield-test",
		Tracing: TracingConfig{
			Enabled:  true,
			Exporter: "carrier-pigeon",
		},
	}

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidTracingExporter) {
		t.Errorf("Validate() = %v, want ErrInvalidTracingExporter", err)
	}
}

func TestConfigValidate_InvalidMetricsExporter(t *testing.T) {
	cfg := Config{
		ServiceName: "shield-test",
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "carrier-pigeon",
		},
	}

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidMetricsExporter) {
		t.Errorf("Validate() = %v, want ErrInvalidMetricsExporter", err)
	}
}

func TestConfigValidate_SamplePctOutOfRange(t *testing.T) {
	for _, pct := range []float64{-0.1, 1.5} {
		cfg := Config{
			ServiceName: "shield-test",
			Tracing: TracingConfig{
				Enabled:   true,
				Exporter:  "stdout",
				SamplePct: pct,
			},
		}
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidSamplePct) {
			t.Errorf("Validate() with SamplePct=%v = %v, want ErrInvalidSamplePct", pct, err)
		}
	}
}

func TestConfigValidate_InvalidLogLevel(t *testing.T) {
	cfg := Config{
		ServiceName: "shield-test",
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "shouty",
		},
	}

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("Validate() = %v, want ErrInvalidLogLevel", err)
	}
}

func TestNewObserver_DisabledNoop(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "shield-test"})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}

	// Disabled subsystems still hand out usable no-op primitives.
	if obs.Tracer() == nil {
		t.Error("Tracer() = nil, want noop tracer")
	}
	if obs.Meter() == nil {
		t.Error("Meter() = nil, want noop meter")
	}
	if obs.Logger() == nil {
		t.Error("Logger() = nil, want noop logger")
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v, want nil", err)
	}
}

func TestNewObserver_EnabledReturnsWorkingPrimitives(t *testing.T) {
	cfg := Config{
		ServiceName: "shield-test",
		Version:     "1.0.0",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "none",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "none",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "error",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	defer obs.Shutdown(context.Background())

	_, span := obs.Tracer().Start(context.Background(), "test-span")
	span.End()

	counter, err := obs.Meter().Int64Counter("test_counter")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	counter.Add(context.Background(), 1)

	obs.Logger().Error(context.Background(), "exercising the logger")
}

func TestNewObserver_InvalidConfigReturnsError(t *testing.T) {
	_, err := NewObserver(context.Background(), Config{})
	if !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("NewObserver() error = %v, want ErrMissingServiceName", err)
	}
}

func TestObserver_ShutdownIdempotent(t *testing.T) {
	cfg := Config{
		ServiceName: "shield-test",
		Tracing: TracingConfig{
			Enabled:   true,
			Exporter:  "none",
			SamplePct: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Exporter: "none",
		},
	}

	obs, err := NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}

	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() = %v, want nil", err)
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v, want nil", err)
	}
}
