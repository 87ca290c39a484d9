// Package breaker implements a named circuit breaker per external
// dependency, with a registry for lookup and operational control.
//
// A breaker observes call outcomes inside a rolling monitoring window and
// fails fast once the observed failure fraction crosses the configured
// threshold, giving the dependency time to recover.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shieldops/shield/clock"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls pass through normally.
	StateClosed State = iota
	// StateOpen means calls are rejected without execution.
	StateOpen
	// StateHalfOpen means a limited number of trial calls are allowed.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the failure fraction within the monitoring
	// window that opens the circuit.
	// Default: 0.5
	FailureThreshold float64

	// MinimumCalls is the minimum number of calls in the window before
	// the threshold is evaluated.
	// Default: 10
	MinimumCalls int

	// RecoveryTimeout is how long the circuit stays open before a trial
	// call is allowed.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// MonitoringWindow is the rolling window over which call outcomes
	// are counted.
	// Default: 60 seconds
	MonitoringWindow time.Duration

	// SuccessThreshold is the number of consecutive trial successes in
	// half-open state required to close the circuit.
	// Default: 2
	SuccessThreshold int

	// SlowCallThreshold, when positive, counts calls that take longer
	// than this as failures even if they eventually succeed.
	SlowCallThreshold time.Duration

	// Clock supplies time. Default: the real clock.
	Clock clock.Clock

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = 0.5
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = 10
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}

// isZero reports whether the config was left entirely unset. Config holds
// func fields, so it cannot be compared with ==.
func (c Config) isZero() bool {
	return c.FailureThreshold == 0 && c.MinimumCalls == 0 &&
		c.RecoveryTimeout == 0 && c.MonitoringWindow == 0 &&
		c.SuccessThreshold == 0 && c.SlowCallThreshold == 0 &&
		c.Clock == nil && c.OnStateChange == nil
}

// outcome is one completed call inside the monitoring window.
type outcome struct {
	at      time.Time
	failure bool
}

// Breaker is a single named circuit breaker. All state is guarded by one
// mutex per breaker, so concurrent calls for the same dependency serialize
// their state decisions.
type Breaker struct {
	name   string
	config Config

	mu            sync.Mutex
	state         State
	window        []outcome
	trialInFlight int
	trialSuccess  int
	lastFailure   time.Time
	nextRetry     time.Time
	forcedReason  string
}

// New creates a breaker with the given name, applying config defaults.
func New(name string, config Config) *Breaker {
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Execute runs op through the breaker. In the open state op is not invoked
// and ErrOpen is returned. Otherwise op's error is returned as-is and its
// outcome updates the breaker's counters.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	start := b.config.Clock.Now()
	err := op(ctx)
	b.afterCall(err, b.config.Clock.Since(start))
	return err
}

// State returns the current state, applying the open-to-half-open timeout
// transition if it is due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateOpen:
		return fmt.Errorf("%w: %s until %s", ErrOpen, b.name, b.nextRetry.Format(time.RFC3339))
	case StateHalfOpen:
		// Only admit as many trial calls as could still close the circuit.
		if b.trialInFlight+b.trialSuccess >= b.config.SuccessThreshold {
			return fmt.Errorf("%w: %s (half-open, trial in progress)", ErrOpen, b.name)
		}
		b.trialInFlight++
	}
	return nil
}

func (b *Breaker) afterCall(err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Clock.Now()
	failure := err != nil
	if !failure && b.config.SlowCallThreshold > 0 && elapsed > b.config.SlowCallThreshold {
		failure = true
	}

	switch b.state {
	case StateClosed:
		b.window = append(b.window, outcome{at: now, failure: failure})
		b.pruneLocked(now)
		if failure {
			b.lastFailure = now
		}
		total, failures := b.countsLocked()
		if total >= b.config.MinimumCalls &&
			float64(failures)/float64(total) >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen, now)
		}

	case StateHalfOpen:
		if b.trialInFlight > 0 {
			b.trialInFlight--
		}
		if failure {
			b.lastFailure = now
			b.transitionLocked(StateOpen, now)
			return
		}
		b.trialSuccess++
		if b.trialSuccess >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed, now)
		}

	case StateOpen:
		// A call admitted just before the state flipped; count failures
		// so the reopen timeout stays honest.
		if failure {
			b.lastFailure = now
		}
	}
}

// stateLocked resolves the open-to-half-open transition lazily, on the
// first observation at or after nextRetry.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && !b.config.Clock.Now().Before(b.nextRetry) {
		b.transitionLocked(StateHalfOpen, b.config.Clock.Now())
	}
	return b.state
}

func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.forcedReason = ""

	switch to {
	case StateOpen:
		b.nextRetry = now.Add(b.config.RecoveryTimeout)
		b.trialInFlight = 0
		b.trialSuccess = 0
	case StateHalfOpen:
		b.trialInFlight = 0
		b.trialSuccess = 0
	case StateClosed:
		b.window = b.window[:0]
		b.trialInFlight = 0
		b.trialSuccess = 0
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.MonitoringWindow)
	i := 0
	for i < len(b.window) && !b.window[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

func (b *Breaker) countsLocked() (total, failures int) {
	for _, o := range b.window {
		total++
		if o.failure {
			failures++
		}
	}
	return total, failures
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	TotalCalls   int       `json:"total_calls"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	FailureRate  float64   `json:"failure_rate"`
	LastFailure  time.Time `json:"last_failure,omitzero"`
	NextRetry    time.Time `json:"next_retry,omitzero"`
	ForcedReason string    `json:"forced_reason,omitempty"`
}

// Stats returns a snapshot of the breaker's counters within the current
// monitoring window.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked()
	b.pruneLocked(b.config.Clock.Now())
	total, failures := b.countsLocked()

	s := Stats{
		Name:         b.name,
		State:        state.String(),
		TotalCalls:   total,
		FailureCount: failures,
		SuccessCount: total - failures,
		LastFailure:  b.lastFailure,
		ForcedReason: b.forcedReason,
	}
	if total > 0 {
		s.FailureRate = float64(failures) / float64(total)
	}
	if state == StateOpen {
		s.NextRetry = b.nextRetry
	}
	return s
}

// Reset returns the breaker to closed with all counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Clock.Now()
	if b.state != StateClosed {
		b.transitionLocked(StateClosed, now)
		return
	}
	b.window = b.window[:0]
	b.trialInFlight = 0
	b.trialSuccess = 0
}

// forceState is the admin override used by the registry.
func (b *Breaker) forceState(to State, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(to, b.config.Clock.Now())
	b.forcedReason = reason
}
