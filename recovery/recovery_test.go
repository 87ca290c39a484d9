package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shieldops/shield/breaker"
	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/clock"
	"github.com/shieldops/shield/observe"
	"github.com/shieldops/shield/retry"
)

func fastStrategies() map[classify.Category]Strategy {
	fast := func(s Strategy) Strategy {
		s.Retry.BaseDelay = time.Millisecond
		s.Retry.MaxDelay = 2 * time.Millisecond
		s.Retry.Jitter = false
		return s
	}
	out := make(map[classify.Category]Strategy)
	for category, s := range DefaultStrategies() {
		out[category] = fast(s)
	}
	return out
}

func newTestOrchestrator() *Orchestrator {
	return New(Config{Strategies: fastStrategies()})
}

func TestExecute_Success(t *testing.T) {
	o := newTestOrchestrator()

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "result", nil
	}, Options{Operation: "load-user", Category: classify.CategoryDatabase})

	if !res.Success {
		t.Fatal("Success = false, want true")
	}
	if res.Value != "result" {
		t.Errorf("Value = %v, want result", res.Value)
	}
	if res.Strategy != "database-recovery" {
		t.Errorf("Strategy = %q, want database-recovery", res.Strategy)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("database connection lost")
		}
		return "recovered", nil
	}, Options{Operation: "load-user", Category: classify.CategoryDatabase})

	if !res.Success {
		t.Fatalf("Success = false, want true (Err = %v)", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if res.Value != "recovered" {
		t.Errorf("Value = %v, want recovered", res.Value)
	}
}

func TestExecute_CachedFallback(t *testing.T) {
	o := newTestOrchestrator()
	opts := Options{Operation: "load-user", Category: classify.CategoryDatabase}

	// A success primes the fallback cache for this operation name.
	o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "last-good", nil
	}, opts)

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("database connection lost")
	}, opts)

	if res.Success {
		t.Error("Success = true, want false for a degraded result")
	}
	if !res.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if res.Value != "last-good" {
		t.Errorf("Value = %v, want last-good", res.Value)
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil once a fallback resolved the failure", res.Err)
	}
	if res.Metadata["fallback_source"] != "cache" {
		t.Errorf("fallback_source = %v, want cache", res.Metadata["fallback_source"])
	}
}

func TestExecute_StaticFallback(t *testing.T) {
	o := newTestOrchestrator()

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream returned 503")
	}, Options{
		Operation: "fetch-rates",
		Category:  classify.CategoryExternalAPI,
		Fallback:  "stale-rates",
	})

	if !res.Degraded {
		t.Fatal("Degraded = false, want true")
	}
	if res.Value != "stale-rates" {
		t.Errorf("Value = %v, want stale-rates", res.Value)
	}
	if res.Metadata["fallback_source"] != "static" {
		t.Errorf("fallback_source = %v, want static", res.Metadata["fallback_source"])
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (external-api retry budget)", res.Attempts)
	}
}

func TestExecute_NonRetryableFailsFast(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("validation failed: name is required")
	}, Options{Operation: "create-user", Category: classify.CategoryDatabase})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable)", calls)
	}
	if res.Err == nil {
		t.Fatal("Err = nil, want classified failure")
	}
	if res.Err.Category != classify.CategoryValidation {
		t.Errorf("Err.Category = %v, want validation", res.Err.Category)
	}
	if res.Metadata["correlation_id"] == "" {
		t.Error("correlation_id should be present in metadata")
	}
}

func TestExecute_EscalatesToDLQ(t *testing.T) {
	o := newTestOrchestrator()

	payload := map[string]string{"url": "https://example.com/hook"}
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("dial tcp: connection refused")
	}, Options{
		Operation: "deliver-webhook",
		Category:  classify.CategoryNetwork,
		Payload:   payload,
	})

	if res.Err == nil {
		t.Fatal("Err = nil, want classified failure")
	}
	id, ok := res.Metadata["dlq_id"].(string)
	if !ok || id == "" {
		t.Fatal("dlq_id missing from metadata")
	}

	queue := o.Queues().Get("network")
	if queue == nil {
		t.Fatal("network queue was not created")
	}
	op, found := queue.Get(id)
	if !found {
		t.Fatal("escalated operation not found in queue")
	}
	if op.Type != "deliver-webhook" {
		t.Errorf("op.Type = %q, want deliver-webhook", op.Type)
	}
	if op.Payload == nil {
		t.Error("op.Payload should carry the original payload")
	}
}

func TestExecute_NoEscalationWithoutPayload(t *testing.T) {
	o := newTestOrchestrator()

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("dial tcp: connection refused")
	}, Options{Operation: "deliver-webhook", Category: classify.CategoryNetwork})

	if _, ok := res.Metadata["dlq_id"]; ok {
		t.Error("dlq_id present, want no escalation without a payload")
	}
}

func TestExecute_BackgroundDeferred(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("request timed out")
	}, Options{
		Operation:  "send-digest",
		Background: true,
		Payload:    map[string]string{"user": "42"},
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (deferred mode never retries inline)", calls)
	}
	if res.Strategy != "background-recovery" {
		t.Errorf("Strategy = %q, want background-recovery", res.Strategy)
	}
	if _, ok := res.Metadata["dlq_id"]; !ok {
		t.Error("deferred failure should escalate to the DLQ")
	}
	if o.Queues().Get("background") == nil {
		t.Error("background queue was not created")
	}
}

func TestExecute_CircuitOpenUsesFallback(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 0.5,
		MinimumCalls:     2,
		RecoveryTimeout:  time.Hour,
	})
	o := New(Config{
		Strategies: map[classify.Category]Strategy{
			classify.CategoryExternalAPI: {
				Name:          "external-api-recovery",
				Breaker:       "external-api",
				Retry:         retry.Policy{MaxAttempts: 1},
				AllowFallback: true,
			},
		},
		Breakers: breakers,
	})

	opts := Options{
		Operation: "fetch-rates",
		Category:  classify.CategoryExternalAPI,
		Fallback:  "stale-rates",
	}
	failing := func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream returned 503")
	}

	// Two failures open the circuit.
	o.Execute(context.Background(), failing, opts)
	o.Execute(context.Background(), failing, opts)

	calls := 0
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "live", nil
	}, opts)

	if calls != 0 {
		t.Errorf("calls = %d, want 0 (open circuit must not execute)", calls)
	}
	if !res.Degraded {
		t.Fatal("Degraded = false, want fallback while circuit is open")
	}
	if res.Value != "stale-rates" {
		t.Errorf("Value = %v, want stale-rates", res.Value)
	}
}

func TestExecute_UnknownCategoryPassthrough(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("something inexplicable")
	}, Options{Operation: "mystery"})

	if res.Strategy != "passthrough" {
		t.Errorf("Strategy = %q, want passthrough", res.Strategy)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if res.Err == nil {
		t.Fatal("Err = nil, want classified failure")
	}
	if res.Err.Category != classify.CategoryUnknown {
		t.Errorf("Err.Category = %v, want unknown", res.Err.Category)
	}
}

func TestExecute_StrategyFromClassifiedFailure(t *testing.T) {
	o := newTestOrchestrator()

	calls := 0
	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("database connection refused")
		}
		return "recovered", nil
	}, Options{Operation: "load-user"})

	if res.Strategy != "database-recovery" {
		t.Errorf("Strategy = %q, want database-recovery", res.Strategy)
	}
	if !res.Success {
		t.Fatalf("Success = false, want true (Err = %v)", res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (the classifying attempt counts)", res.Attempts)
	}
}

func TestExecute_NoCategorySuccessSkipsClassification(t *testing.T) {
	o := newTestOrchestrator()

	res := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "result", nil
	}, Options{Operation: "load-user"})

	if !res.Success {
		t.Fatal("Success = false, want true")
	}
	if res.Strategy != "passthrough" {
		t.Errorf("Strategy = %q, want passthrough", res.Strategy)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

type captureMetrics struct {
	observe.Metrics
	transitions []string
}

func (m *captureMetrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.transitions = append(m.transitions, name+":"+from+"->"+to)
}

func TestExecute_DefaultRegistryRecordsTransitions(t *testing.T) {
	metrics := &captureMetrics{Metrics: observe.NopMetrics()}
	o := New(Config{
		Strategies: map[classify.Category]Strategy{
			classify.CategoryExternalAPI: {
				Name:    "external-api-recovery",
				Breaker: "external-api",
				Retry:   retry.Policy{MaxAttempts: 1},
			},
		},
		Metrics: metrics,
	})

	opts := Options{Operation: "fetch-rates", Category: classify.CategoryExternalAPI}
	failing := func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream returned 503")
	}
	// The default breaker config opens after 10 observed calls.
	for range 10 {
		o.Execute(context.Background(), failing, opts)
	}

	if len(metrics.transitions) == 0 {
		t.Fatal("no breaker transitions recorded")
	}
	if got := metrics.transitions[0]; got != "external-api:closed->open" {
		t.Errorf("transition = %q, want external-api:closed->open", got)
	}
}

func TestFallbackCache(t *testing.T) {
	fc := clock.NewFake(time.Now())
	cache := newFallbackCache(5*time.Minute, fc)

	if _, ok := cache.get("load-user"); ok {
		t.Error("get on empty cache should miss")
	}

	cache.put("load-user", "v1")
	if v, ok := cache.get("load-user"); !ok || v != "v1" {
		t.Errorf("get = %v, %v, want v1, true", v, ok)
	}

	cache.put("load-user", "v2")
	if v, _ := cache.get("load-user"); v != "v2" {
		t.Errorf("get after overwrite = %v, want v2", v)
	}

	fc.Advance(6 * time.Minute)
	if _, ok := cache.get("load-user"); ok {
		t.Error("expired entry should miss")
	}
}
