// Package classify normalizes raw failures into a category, severity,
// retryability, and fallback availability, so the retry orchestrator and
// recovery strategies can make policy decisions without inspecting error
// strings themselves.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category identifies the kind of failure.
type Category int

const (
	// CategoryUnknown is the fallback for failures no rule matched.
	CategoryUnknown Category = iota
	// CategoryDatabase covers database and connection-pool failures.
	CategoryDatabase
	// CategoryNetwork covers network and timeout failures.
	CategoryNetwork
	// CategoryAuthorization covers authentication and permission failures.
	CategoryAuthorization
	// CategoryValidation covers rejected input.
	CategoryValidation
	// CategoryExternalAPI covers failures from third-party service calls.
	CategoryExternalAPI
	// CategoryResourceExhausted covers upstream rate limits and quota errors.
	CategoryResourceExhausted
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryDatabase:
		return "database"
	case CategoryNetwork:
		return "network"
	case CategoryAuthorization:
		return "authorization"
	case CategoryValidation:
		return "validation"
	case CategoryExternalAPI:
		return "external-api"
	case CategoryResourceExhausted:
		return "resource-exhausted"
	default:
		return "unknown"
	}
}

// ParseCategory parses a category name as produced by Category.String.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "database":
		return CategoryDatabase, true
	case "network":
		return CategoryNetwork, true
	case "authorization":
		return CategoryAuthorization, true
	case "validation":
		return CategoryValidation, true
	case "external-api":
		return CategoryExternalAPI, true
	case "resource-exhausted":
		return CategoryResourceExhausted, true
	case "unknown":
		return CategoryUnknown, true
	default:
		return CategoryUnknown, false
	}
}

// Severity grades how serious a failure is for alerting purposes.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ManagedError is the normalized form of a raw failure. It is created once
// per failure and never mutated afterwards.
type ManagedError struct {
	// Category is the failure category.
	Category Category

	// Severity grades the failure for alerting.
	Severity Severity

	// Retryable reports whether retrying the operation may succeed.
	Retryable bool

	// FallbackAvailable reports whether a degraded fallback result is an
	// acceptable substitute for this failure.
	FallbackAvailable bool

	// Operation is the logical name of the operation that failed.
	Operation string

	// CorrelationID ties log lines and metrics for one failure together.
	CorrelationID string

	// Timestamp is when the failure was classified.
	Timestamp time.Time

	original error
}

// Error returns the original failure message prefixed with the category.
// Intended for logs, not for end users; see UserMessage.
func (e *ManagedError) Error() string {
	if e.original == nil {
		return e.Category.String() + " error"
	}
	return e.Category.String() + ": " + e.original.Error()
}

// Unwrap returns the original failure so errors.Is/As keep working.
func (e *ManagedError) Unwrap() error { return e.original }

// UserMessage returns a short, safe message suitable for end callers. Raw
// internal detail is never included.
func (e *ManagedError) UserMessage() string {
	switch e.Category {
	case CategoryDatabase:
		return "a storage problem occurred, please try again shortly"
	case CategoryNetwork:
		return "the service took too long to respond, please try again"
	case CategoryAuthorization:
		return "you are not authorized to perform this action"
	case CategoryValidation:
		return "the request was invalid"
	case CategoryExternalAPI:
		return "an upstream service is unavailable, please try again later"
	case CategoryResourceExhausted:
		return "too many requests, please slow down"
	default:
		return "an unexpected error occurred"
	}
}

// Categorized is implemented by failures that carry their own category,
// assigned at the boundary that produced them. Classification prefers this
// over message heuristics.
type Categorized interface {
	error
	FailureCategory() Category
}

// tagged wraps an error with an explicit category.
type tagged struct {
	err      error
	category Category
}

func (t *tagged) Error() string             { return t.err.Error() }
func (t *tagged) Unwrap() error             { return t.err }
func (t *tagged) FailureCategory() Category { return t.category }

// Tag attaches an explicit category to err. Boundaries that know what kind
// of failure they produce (the database client, the API client) should tag
// their errors instead of relying on message matching.
func Tag(err error, category Category) error {
	if err == nil {
		return nil
	}
	return &tagged{err: err, category: category}
}

// rule maps message substrings to a category. Rules are evaluated in order;
// the first match wins.
type rule struct {
	substrings []string
	category   Category
}

// profile is the classification assigned per category when a failure is
// tagged rather than matched by message.
type profile struct {
	severity          Severity
	retryable         bool
	fallbackAvailable bool
}

// Classifier normalizes raw failures into ManagedErrors. It is pure: the
// same failure and context always produce the same classification, and
// classification has no side effects.
type Classifier struct {
	rules    []rule
	profiles map[Category]profile
}

// New creates a Classifier with the default rule table.
//
// The message rules are a heuristic, not a contract: upstream libraries
// reword messages. Prefer Tag at the failure's producing boundary.
func New() *Classifier {
	return &Classifier{
		rules: []rule{
			{[]string{"rate limit", "429", "too many requests", "quota exceeded"}, CategoryResourceExhausted},
			{[]string{"unauthorized", "forbidden", "token", "permission denied", "401", "403"}, CategoryAuthorization},
			{[]string{"validation", "invalid", "required", "malformed", "400"}, CategoryValidation},
			{[]string{"database", "sql", "connection pool", "deadlock", "pg:"}, CategoryDatabase},
			{[]string{"timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host", "broken pipe"}, CategoryNetwork},
			{[]string{"api error", "bad gateway", "service unavailable", "502", "503", "504", "upstream"}, CategoryExternalAPI},
		},
		profiles: map[Category]profile{
			CategoryDatabase:          {SeverityHigh, true, true},
			CategoryNetwork:           {SeverityMedium, true, false},
			CategoryAuthorization:     {SeverityMedium, false, false},
			CategoryValidation:        {SeverityLow, false, false},
			CategoryExternalAPI:       {SeverityMedium, true, true},
			CategoryResourceExhausted: {SeverityMedium, true, false},
			CategoryUnknown:           {SeverityMedium, false, false},
		},
	}
}

// Classify inspects err and produces a ManagedError for the named operation.
//
// Resolution order: an explicit Categorized tag, well-known error values
// (context deadline, net errors), then the ordered message rule table.
// Anything unmatched classifies as Unknown and is not retried.
func (c *Classifier) Classify(err error, operation string) *ManagedError {
	if err == nil {
		return nil
	}

	// Already classified; keep the original classification.
	var managed *ManagedError
	if errors.As(err, &managed) {
		return managed
	}

	me := &ManagedError{
		Operation:     operation,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		original:      err,
	}

	category, ok := c.typedCategory(err)
	if !ok {
		category, ok = c.matchMessage(err.Error())
	}
	if !ok {
		category = CategoryUnknown
	}

	p := c.profiles[category]
	me.Category = category
	me.Severity = p.severity
	me.Retryable = p.retryable
	me.FallbackAvailable = p.fallbackAvailable
	return me
}

// typedCategory resolves categories that can be determined without looking
// at the message.
func (c *Classifier) typedCategory(err error) (Category, bool) {
	var categorized Categorized
	if errors.As(err, &categorized) {
		return categorized.FailureCategory(), true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork, true
	}
	return CategoryUnknown, false
}

func (c *Classifier) matchMessage(msg string) (Category, bool) {
	msg = strings.ToLower(msg)
	for _, r := range c.rules {
		for _, s := range r.substrings {
			if strings.Contains(msg, s) {
				return r.category, true
			}
		}
	}
	return CategoryUnknown, false
}
