package health

import (
	"context"
	"fmt"

	"github.com/shieldops/shield/breaker"
	"github.com/shieldops/shield/dlq"
	"github.com/shieldops/shield/quota"
)

// BreakerChecker reports on a circuit breaker registry. Any open breaker
// degrades the result; all breakers open is unhealthy.
type BreakerChecker struct {
	registry *breaker.Registry
}

// NewBreakerChecker creates a checker over the given registry.
func NewBreakerChecker(registry *breaker.Registry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

// Name returns the checker's name.
func (c *BreakerChecker) Name() string { return "breakers" }

// Check reports the registry's aggregate state.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	stats := c.registry.AllStats()

	open := 0
	details := make(map[string]any, len(stats))
	for name, s := range stats {
		details[name] = s.State
		if s.State == breaker.StateOpen.String() {
			open++
		}
	}

	switch {
	case len(stats) == 0 || open == 0:
		return healthy("all circuits closed").withDetails(details)
	case open == len(stats):
		return unhealthy("all circuits open").withDetails(details)
	default:
		return degraded(fmt.Sprintf("%d of %d circuits open", open, len(stats))).withDetails(details)
	}
}

// DLQChecker reports on a dead-letter queue registry. Poison entries
// degrade the result; a pending backlog above the threshold is unhealthy.
type DLQChecker struct {
	registry         *dlq.Registry
	pendingThreshold int
}

// NewDLQChecker creates a checker over the given registry. A pending
// backlog of pendingThreshold or more across all queues reports
// unhealthy; zero means 100.
func NewDLQChecker(registry *dlq.Registry, pendingThreshold int) *DLQChecker {
	if pendingThreshold <= 0 {
		pendingThreshold = 100
	}
	return &DLQChecker{registry: registry, pendingThreshold: pendingThreshold}
}

// Name returns the checker's name.
func (c *DLQChecker) Name() string { return "dlq" }

// Check reports the registries' aggregate backlog.
func (c *DLQChecker) Check(ctx context.Context) Result {
	stats := c.registry.AllStats()

	pending, poison := 0, 0
	details := make(map[string]any, len(stats))
	for name, s := range stats {
		pending += s.Pending + s.Retrying
		poison += s.Poison
		details[name] = s
	}

	switch {
	case pending >= c.pendingThreshold:
		return unhealthy(fmt.Sprintf("%d operations backed up", pending)).withDetails(details)
	case poison > 0:
		return degraded(fmt.Sprintf("%d poison operations quarantined", poison)).withDetails(details)
	default:
		return healthy("queues draining").withDetails(details)
	}
}

// QuotaChecker reports per-subject quota usage. Quota pressure is a
// normal operating condition, so this checker never reports worse than
// degraded.
type QuotaChecker struct {
	limiter *quota.Limiter
}

// NewQuotaChecker creates a checker over the given limiter.
func NewQuotaChecker(limiter *quota.Limiter) *QuotaChecker {
	return &QuotaChecker{limiter: limiter}
}

// Name returns the checker's name.
func (c *QuotaChecker) Name() string { return "quota" }

// Check reports how many subjects have exhausted a window.
func (c *QuotaChecker) Check(ctx context.Context) Result {
	stats := c.limiter.AllStats()

	exhausted := 0
	for _, u := range stats {
		if u.HourlyCount >= u.HourlyLimit || u.DailyCount >= u.DailyLimit {
			exhausted++
		}
	}

	details := map[string]any{
		"subjects":  len(stats),
		"exhausted": exhausted,
	}
	if exhausted > 0 {
		return degraded(fmt.Sprintf("%d subjects at quota", exhausted)).withDetails(details)
	}
	return healthy("quota headroom available").withDetails(details)
}
