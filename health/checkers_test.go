package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shieldops/shield/breaker"
	"github.com/shieldops/shield/clock"
	"github.com/shieldops/shield/dlq"
	"github.com/shieldops/shield/quota"
)

func openBreaker(t *testing.T, r *breaker.Registry, name string) {
	t.Helper()
	if err := r.ForceState(name, breaker.StateOpen, "test"); err != nil {
		t.Fatalf("forcing %s open: %v", name, err)
	}
}

func TestBreakerChecker(t *testing.T) {
	fc := clock.NewFake(time.Now())
	r := breaker.NewRegistry(breaker.Config{Clock: fc})
	checker := NewBreakerChecker(r)

	if got := checker.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("empty registry Status = %v, want healthy", got.Status)
	}

	r.GetOrCreate("database", breaker.Config{})
	r.GetOrCreate("email", breaker.Config{})
	if got := checker.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("all closed Status = %v, want healthy", got.Status)
	}

	openBreaker(t, r, "database")
	got := checker.Check(context.Background())
	if got.Status != StatusDegraded {
		t.Errorf("one open Status = %v, want degraded", got.Status)
	}
	if got.Details["database"] != "open" {
		t.Errorf("Details[database] = %v, want open", got.Details["database"])
	}

	openBreaker(t, r, "email")
	if got := checker.Check(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("all open Status = %v, want unhealthy", got.Status)
	}
}

func TestDLQChecker(t *testing.T) {
	fc := clock.NewFake(time.Now())
	r := dlq.NewRegistry(dlq.Config{
		PoisonThreshold: 1,
		Clock:           fc,
	})
	checker := NewDLQChecker(r, 3)

	if got := checker.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("empty registry Status = %v, want healthy", got.Status)
	}

	q := r.GetOrCreate("email", dlq.Config{})
	ctx := context.Background()

	// Poison one operation.
	q.RegisterHandler("send", func(ctx context.Context, op dlq.Operation) error {
		return errors.New("still broken")
	})
	_, _ = q.Add(ctx, "send", nil, nil, dlq.PriorityNormal)
	fc.Advance(time.Minute)
	q.ProcessDue(ctx)

	if got := checker.Check(context.Background()); got.Status != StatusDegraded {
		t.Errorf("poison present Status = %v, want degraded", got.Status)
	}

	// Backlog at the threshold is unhealthy.
	for range 3 {
		_, _ = q.Add(ctx, "later", nil, nil, dlq.PriorityNormal)
	}
	if got := checker.Check(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("backlog Status = %v, want unhealthy", got.Status)
	}
}

func TestQuotaChecker(t *testing.T) {
	fc := clock.NewFake(time.Now())
	l := quota.New(quota.Config{
		HourlyLimit: 1,
		DailyLimit:  100,
		Clock:       fc,
	})
	checker := NewQuotaChecker(l)
	ctx := context.Background()

	if got := checker.Check(ctx); got.Status != StatusHealthy {
		t.Errorf("no subjects Status = %v, want healthy", got.Status)
	}

	l.CheckAll(ctx, "user-1")
	got := checker.Check(ctx)
	if got.Status != StatusDegraded {
		t.Errorf("exhausted subject Status = %v, want degraded", got.Status)
	}
	if got.Details["exhausted"] != 1 {
		t.Errorf("Details[exhausted] = %v, want 1", got.Details["exhausted"])
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
