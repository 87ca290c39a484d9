package recovery

import (
	"time"

	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/retry"
)

// Mode selects how a strategy handles the operation.
type Mode int

const (
	// ModeSync retries inline and returns the outcome to the caller.
	ModeSync Mode = iota
	// ModeDeferred attempts once and escalates failures straight to the
	// DLQ without inline retry. For background-safe operations only.
	ModeDeferred
)

// Strategy is a named recovery recipe: which breaker guards the
// dependency, how hard to retry, and what to do when retries are
// exhausted.
type Strategy struct {
	// Name identifies the strategy in results, logs, and metrics.
	Name string

	// Mode selects sync or deferred handling.
	Mode Mode

	// Breaker is the name of the circuit breaker guarding this
	// dependency; empty means no breaker.
	Breaker string

	// Retry is the inline retry policy. Ignored in deferred mode.
	Retry retry.Policy

	// AllowFallback permits resolving exhausted failures with a fallback
	// value (degraded mode).
	AllowFallback bool

	// CacheFallback remembers the last good value per operation name and
	// prefers it over the caller's static fallback.
	CacheFallback bool

	// EscalateToDLQ enqueues retryable exhausted failures for deferred
	// processing.
	EscalateToDLQ bool

	// Queue is the DLQ name used when escalating. Default: "recovery".
	Queue string
}

// DefaultStrategies maps failure categories to the stock recovery
// recipes: database operations get a breaker, eager retry, and a cached
// fallback; external-API calls get a breaker, limited retry, and a static
// fallback; resource exhaustion gets long, jittered backoff.
func DefaultStrategies() map[classify.Category]Strategy {
	return map[classify.Category]Strategy{
		classify.CategoryDatabase: {
			Name:    "database-recovery",
			Breaker: "database",
			Retry: retry.Policy{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    2 * time.Second,
				Multiplier:  2.0,
				Jitter:      true,
			},
			AllowFallback: true,
			CacheFallback: true,
			EscalateToDLQ: true,
			Queue:         "database",
		},
		classify.CategoryExternalAPI: {
			Name:    "external-api-recovery",
			Breaker: "external-api",
			Retry: retry.Policy{
				MaxAttempts: 2,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2.0,
				Jitter:      true,
			},
			AllowFallback: true,
		},
		classify.CategoryNetwork: {
			Name:    "network-recovery",
			Breaker: "network",
			Retry: retry.Policy{
				MaxAttempts: 3,
				BaseDelay:   250 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2.0,
				Jitter:      true,
			},
			AllowFallback: true,
			EscalateToDLQ: true,
			Queue:         "network",
		},
		classify.CategoryResourceExhausted: {
			Name:    "backpressure-recovery",
			Breaker: "external-api",
			Retry: retry.Policy{
				MaxAttempts: 3,
				BaseDelay:   2 * time.Second,
				MaxDelay:    60 * time.Second,
				Multiplier:  3.0,
				Jitter:      true,
			},
			AllowFallback: true,
		},
	}
}

// BackgroundStrategy is the stock deferred strategy for operations whose
// completion is guaranteed by the DLQ rather than the caller.
func BackgroundStrategy() Strategy {
	return Strategy{
		Name:          "background-recovery",
		Mode:          ModeDeferred,
		EscalateToDLQ: true,
		Queue:         "background",
	}
}

// defaultStrategy handles categories with no dedicated recipe: one
// attempt, no fallback, the failure surfaces classified.
func defaultStrategy() Strategy {
	return Strategy{
		Name:  "passthrough",
		Retry: retry.Policy{MaxAttempts: 1},
	}
}
