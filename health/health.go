// Package health derives readiness signals from the resilience registries:
// open circuit breakers, poison backlogs, and quota pressure. Monitoring
// surfaces poll these checkers; the package holds no state of its own.
package health

import (
	"context"
	"time"
)

// Status represents the health of a component.
type Status int

const (
	// StatusHealthy indicates the component is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the component is functioning but with issues.
	StatusDegraded
	// StatusUnhealthy indicates the component is not functioning properly.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a health check.
type Result struct {
	// Status is the health status.
	Status Status

	// Message provides additional context about the status.
	Message string

	// Details contains arbitrary metadata about the check.
	Details map[string]any

	// Timestamp is when the check was performed.
	Timestamp time.Time
}

// Checker performs a single health check.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Check should honor cancellation/deadlines and return quickly.
type Checker interface {
	// Name returns the checker's unique name.
	Name() string

	// Check performs the health check.
	Check(ctx context.Context) Result
}

func healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

func degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

func unhealthy(message string) Result {
	return Result{Status: StatusUnhealthy, Message: message, Timestamp: time.Now()}
}

// withDetails attaches details to a result.
func (r Result) withDetails(details map[string]any) Result {
	r.Details = details
	return r
}
