// Package dlq implements a named, process-lifetime dead-letter queue for
// operations whose failure must not be silently dropped.
//
// Failed operations are enqueued with a classified error and retried by a
// background processor using the same exponential-backoff formula as the
// retry package. Operations that exhaust their retry budget are quarantined
// as poison and retained for inspection until cleanup.
package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/clock"
	"github.com/shieldops/shield/observe"
	"github.com/shieldops/shield/retry"
)

// Status is the lifecycle state of a queued operation.
type Status int

const (
	// StatusPending means the operation is waiting for its first retry.
	StatusPending Status = iota
	// StatusRetrying means at least one retry has failed.
	StatusRetrying
	// StatusSucceeded means a retry completed; kept until cleanup.
	StatusSucceeded
	// StatusPoison means the retry budget is exhausted. Terminal.
	StatusPoison
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRetrying:
		return "retrying"
	case StatusSucceeded:
		return "succeeded"
	case StatusPoison:
		return "poison"
	default:
		return "unknown"
	}
}

// Priority bounds for queued operations.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

// Operation is one queued unit of work. The payload is opaque to the queue;
// only the registered handler for the operation's type interprets it.
type Operation struct {
	ID          string
	Type        string
	Payload     any
	Error       *classify.ManagedError
	Attempts    int
	Status      Status
	Priority    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	NextRetryAt time.Time
	LastError   string
}

// Handler retries one operation. Returning nil marks the operation
// succeeded; returning an error schedules another retry.
type Handler func(ctx context.Context, op Operation) error

// Config configures a queue.
type Config struct {
	// RetryDelay is the delay before the first retry.
	// Default: 1s
	RetryDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 5m
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// PoisonThreshold is the number of failed retries after which an
	// operation is quarantined.
	// Default: 5
	PoisonThreshold int

	// MaxQueueSize bounds the number of entries; the lowest-priority
	// oldest entries are evicted beyond it.
	// Default: 1000
	MaxQueueSize int

	// Retention is how long succeeded and poison entries are kept for
	// inspection before cleanup removes them.
	// Default: 24h
	Retention time.Duration

	// ScanInterval is how often the background processor scans for due
	// operations.
	// Default: 5s
	ScanInterval time.Duration

	// CleanupInterval is how often the cleanup pass runs.
	// Default: 10m
	CleanupInterval time.Duration

	// Clock supplies time. Default: the real clock.
	Clock clock.Clock

	// Logger logs processing activity. Default: discard.
	Logger observe.Logger

	// Metrics records queue events. Default: discard.
	Metrics observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.PoisonThreshold <= 0 {
		c.PoisonThreshold = 5
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observe.NopMetrics()
	}
	return c
}

// isZero reports whether the config was left entirely unset. Config holds
// interface fields, so it cannot be compared with ==.
func (c Config) isZero() bool {
	return c.RetryDelay == 0 && c.MaxDelay == 0 && c.Multiplier == 0 &&
		c.PoisonThreshold == 0 && c.MaxQueueSize == 0 && c.Retention == 0 &&
		c.ScanInterval == 0 && c.CleanupInterval == 0 &&
		c.Clock == nil && c.Logger == nil && c.Metrics == nil
}

// backoff returns the policy the queue shares with inline retry for delay
// computation.
func (c Config) backoff() retry.Policy {
	return retry.Policy{
		BaseDelay:  c.RetryDelay,
		MaxDelay:   c.MaxDelay,
		Multiplier: c.Multiplier,
		// MaxAttempts is irrelevant here; the poison threshold bounds
		// processing instead.
		MaxAttempts: c.PoisonThreshold,
	}
}

// Queue is a single named dead-letter queue.
type Queue struct {
	name   string
	config Config
	logger observe.Logger

	mu       sync.Mutex
	ops      map[string]*Operation
	handlers map[string]Handler

	lifecycle sync.Mutex
	stop      context.CancelFunc
	done      chan struct{}
}

// New creates a queue with the given name, applying config defaults.
func New(name string, config Config) *Queue {
	config = config.withDefaults()
	return &Queue{
		name:     name,
		config:   config,
		logger:   config.Logger.WithComponent("dlq"),
		ops:      make(map[string]*Operation),
		handlers: make(map[string]Handler),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// RegisterHandler registers the retry handler for an operation type.
// Operations of a type with no handler stay pending until one is
// registered.
func (q *Queue) RegisterHandler(opType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[opType] = h
}

// Add enqueues a failed operation and returns its id. The first retry is
// scheduled one base delay from now.
func (q *Queue) Add(ctx context.Context, opType string, payload any, merr *classify.ManagedError, priority int) (string, error) {
	if opType == "" {
		return "", ErrMissingType
	}
	if priority < PriorityLow || priority > PriorityHigh {
		priority = PriorityNormal
	}

	now := q.config.Clock.Now()
	op := &Operation{
		ID:          uuid.NewString(),
		Type:        opType,
		Payload:     payload,
		Error:       merr,
		Status:      StatusPending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: now.Add(q.config.backoff().Delay(1)),
	}
	if merr != nil {
		op.LastError = merr.Error()
	}

	q.mu.Lock()
	q.ops[op.ID] = op
	evicted := q.enforceSizeLocked()
	q.mu.Unlock()

	q.config.Metrics.RecordDLQ(ctx, q.name, "enqueued")
	for range evicted {
		q.config.Metrics.RecordDLQ(ctx, q.name, "evicted")
	}
	q.logger.Info(ctx, "operation enqueued",
		observe.F("queue", q.name),
		observe.F("id", op.ID),
		observe.F("type", opType),
		observe.F("priority", priority),
	)
	return op.ID, nil
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// ProcessDue retries every due pending or retrying operation once. It is
// called periodically by the background processor and may be called
// directly by tests or operators. Returns the number of operations
// processed.
func (q *Queue) ProcessDue(ctx context.Context) int {
	now := q.config.Clock.Now()

	q.mu.Lock()
	due := make([]*Operation, 0)
	for _, op := range q.ops {
		if op.Status != StatusPending && op.Status != StatusRetrying {
			continue
		}
		if op.NextRetryAt.After(now) {
			continue
		}
		if _, ok := q.handlers[op.Type]; !ok {
			continue
		}
		due = append(due, op)
	}
	// Urgent first, then longest-waiting.
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	snapshots := make([]Operation, len(due))
	for i, op := range due {
		op.Status = StatusRetrying
		snapshots[i] = *op
	}
	handlers := make([]Handler, len(due))
	for i, op := range due {
		handlers[i] = q.handlers[op.Type]
	}
	q.mu.Unlock()

	for i, snap := range snapshots {
		q.processOne(ctx, handlers[i], snap)
	}
	return len(snapshots)
}

// processOne invokes the handler outside the queue lock and records the
// outcome.
func (q *Queue) processOne(ctx context.Context, h Handler, snap Operation) {
	err := h(ctx, snap)
	now := q.config.Clock.Now()

	q.mu.Lock()
	op, ok := q.ops[snap.ID]
	if !ok {
		q.mu.Unlock()
		return
	}
	op.UpdatedAt = now

	if err == nil {
		op.Status = StatusSucceeded
		attempts := op.Attempts
		q.mu.Unlock()
		q.config.Metrics.RecordDLQ(ctx, q.name, "succeeded")
		q.logger.Info(ctx, "operation recovered",
			observe.F("queue", q.name),
			observe.F("id", snap.ID),
			observe.F("attempts", attempts+1),
		)
		return
	}

	op.Attempts++
	op.LastError = err.Error()
	attempts := op.Attempts
	if attempts >= q.config.PoisonThreshold {
		op.Status = StatusPoison
		q.mu.Unlock()
		q.config.Metrics.RecordDLQ(ctx, q.name, "poisoned")
		q.logger.Error(ctx, "operation quarantined as poison",
			observe.F("queue", q.name),
			observe.F("id", snap.ID),
			observe.F("type", snap.Type),
			observe.F("attempts", attempts),
			observe.F("error", err.Error()),
		)
		return
	}

	nextRetryAt := now.Add(q.config.backoff().Delay(attempts + 1))
	op.NextRetryAt = nextRetryAt
	q.mu.Unlock()
	q.config.Metrics.RecordDLQ(ctx, q.name, "retried")
	q.logger.Warn(ctx, "operation retry failed",
		observe.F("queue", q.name),
		observe.F("id", snap.ID),
		observe.F("attempts", attempts),
		observe.F("next_retry_at", nextRetryAt),
		observe.F("error", err.Error()),
	)
}

// Requeue returns a poison or succeeded operation to pending with a fresh
// retry budget. Operator action.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return ErrUnknownOperation
	}
	now := q.config.Clock.Now()
	op.Status = StatusPending
	op.Attempts = 0
	op.UpdatedAt = now
	op.NextRetryAt = now.Add(q.config.backoff().Delay(1))
	return nil
}

// Cleanup removes succeeded and poison entries older than the retention
// window and enforces the size bound. Returns the number of removed
// entries.
func (q *Queue) Cleanup() int {
	now := q.config.Clock.Now()
	cutoff := now.Add(-q.config.Retention)

	q.mu.Lock()
	removed := 0
	for id, op := range q.ops {
		if (op.Status == StatusSucceeded || op.Status == StatusPoison) && op.UpdatedAt.Before(cutoff) {
			delete(q.ops, id)
			removed++
		}
	}
	removed += len(q.enforceSizeLocked())
	q.mu.Unlock()
	return removed
}

// enforceSizeLocked evicts lowest-priority oldest entries beyond
// MaxQueueSize and returns the evicted ids.
func (q *Queue) enforceSizeLocked() []string {
	if len(q.ops) <= q.config.MaxQueueSize {
		return nil
	}

	all := make([]*Operation, 0, len(q.ops))
	for _, op := range q.ops {
		all = append(all, op)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority < all[j].Priority
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	var evicted []string
	for _, op := range all {
		if len(q.ops) <= q.config.MaxQueueSize {
			break
		}
		delete(q.ops, op.ID)
		evicted = append(evicted, op.ID)
	}
	return evicted
}

// Stats is a point-in-time snapshot of the queue, consumed by monitoring.
type Stats struct {
	Name             string        `json:"name"`
	Total            int           `json:"total"`
	Pending          int           `json:"pending"`
	Retrying         int           `json:"retrying"`
	Succeeded        int           `json:"succeeded"`
	Poison           int           `json:"poison"`
	AverageAttempts  float64       `json:"average_attempts"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.config.Clock.Now()
	s := Stats{Name: q.name, Total: len(q.ops)}

	attempts := 0
	var oldest time.Time
	for _, op := range q.ops {
		attempts += op.Attempts
		switch op.Status {
		case StatusPending:
			s.Pending++
		case StatusRetrying:
			s.Retrying++
		case StatusSucceeded:
			s.Succeeded++
		case StatusPoison:
			s.Poison++
		}
		if op.Status == StatusPending || op.Status == StatusRetrying {
			if oldest.IsZero() || op.CreatedAt.Before(oldest) {
				oldest = op.CreatedAt
			}
		}
	}
	if s.Total > 0 {
		s.AverageAttempts = float64(attempts) / float64(s.Total)
	}
	if !oldest.IsZero() {
		s.OldestPendingAge = now.Sub(oldest)
	}
	return s
}
