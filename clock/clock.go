// Package clock abstracts time so that window pruning, retry scheduling, and
// quota resets can be tested deterministically. Production code uses the
// zero-value Real clock; tests substitute a Fake and step it explicitly.
package clock

import "time"

// Clock provides the time operations the resilience components depend on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// NewTimer creates a Timer that fires after d.
	NewTimer(d time.Duration) Timer
	// NewTicker creates a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Timer abstracts time.Timer so fake clocks can provide controllable timers.
type Timer interface {
	// C returns the channel on which the firing time is delivered.
	C() <-chan time.Time
	// Stop prevents the timer from firing and reports whether it was stopped
	// before it fired.
	Stop() bool
}

// Ticker abstracts time.Ticker. Like time.Ticker, slow receivers see ticks
// coalesce rather than queue.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time
	// Stop prevents further ticks from being delivered.
	Stop()
}

// Real is a zero-value Clock backed by the time package. It holds no state
// and is safe for concurrent use.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTimer creates a real timer that fires after d.
func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{inner: time.NewTimer(d)}
}

// NewTicker creates a real ticker that fires every d.
func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{inner: time.NewTicker(d)}
}

type realTimer struct {
	inner *time.Timer
}

func (t *realTimer) C() <-chan time.Time { return t.inner.C }
func (t *realTimer) Stop() bool          { return t.inner.Stop() }

type realTicker struct {
	inner *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.inner.C }
func (t *realTicker) Stop()               { t.inner.Stop() }
