// Package quota enforces per-subject request ceilings over fixed hourly
// and daily windows, admitting or rejecting a unit of work before it
// reaches the rest of the pipeline.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/shieldops/shield/clock"
	"github.com/shieldops/shield/observe"
)

// Window identifies a quota window type.
type Window int

const (
	// WindowHourly resets 60 minutes after first use in the window.
	WindowHourly Window = iota
	// WindowDaily resets at the next UTC midnight.
	WindowDaily
)

// String returns the string representation of the window.
func (w Window) String() string {
	switch w {
	case WindowHourly:
		return "hourly"
	case WindowDaily:
		return "daily"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a quota check.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Window is the window that produced this decision.
	Window Window

	// Limit is the configured ceiling for the window.
	Limit int

	// Remaining is the number of requests left in the window.
	Remaining int

	// ResetAt is when the window resets.
	ResetAt time.Time

	// RetryAfter is the whole seconds until ResetAt; zero when allowed.
	RetryAfter int
}

// Config configures the limiter.
type Config struct {
	// HourlyLimit is the per-subject hourly ceiling.
	// Default: 100
	HourlyLimit int

	// DailyLimit is the per-subject daily ceiling.
	// Default: 1000
	DailyLimit int

	// IdleTTL is how long after both windows have reset a zero-count
	// subject is kept before idle cleanup removes it.
	// Default: 1h
	IdleTTL time.Duration

	// CleanupInterval is how often the background cleanup runs.
	// Default: 15m
	CleanupInterval time.Duration

	// Clock supplies time. Default: the real clock.
	Clock clock.Clock

	// Logger logs admission activity. Default: discard.
	Logger observe.Logger

	// Metrics records admission decisions. Default: discard.
	Metrics observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.HourlyLimit <= 0 {
		c.HourlyLimit = 100
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 1000
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 15 * time.Minute
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

// windowCount is one subject's counter for one window.
type windowCount struct {
	count   int
	resetAt time.Time
}

// entry is one subject's counters. Created lazily on first check.
type entry struct {
	hourly windowCount
	daily  windowCount
}

// Limiter tracks per-subject request counts. All entries share one mutex;
// counter updates never block on I/O so contention stays low.
type Limiter struct {
	config Config
	logger observe.Logger

	mu      sync.Mutex
	entries map[string]*entry

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Limiter, applying config defaults.
func New(config Config) *Limiter {
	config = config.withDefaults()
	return &Limiter{
		config:  config,
		logger:  config.Logger.WithComponent("quota"),
		entries: make(map[string]*entry),
	}
}

// Check admits or rejects one request for the subject against a single
// window, incrementing the window's count when admitted.
func (l *Limiter) Check(ctx context.Context, subject string, window Window) Decision {
	l.mu.Lock()
	d := l.checkLocked(subject, window)
	l.mu.Unlock()

	l.config.Metrics.RecordQuotaDecision(ctx, window.String(), d.Allowed)
	if !d.Allowed {
		l.logger.Debug(ctx, "quota exceeded",
			observe.F("subject", subject),
			observe.F("window", window.String()),
			observe.F("retry_after_s", d.RetryAfter),
		)
	}
	return d
}

// CheckAll checks the hourly window first, then the daily window. When the
// daily check rejects, the hourly increment is rolled back so a rejected
// request never partially consumes quota. On success the hourly decision
// (the tighter window) is returned.
func (l *Limiter) CheckAll(ctx context.Context, subject string) Decision {
	l.mu.Lock()
	hourly := l.checkLocked(subject, WindowHourly)
	if !hourly.Allowed {
		l.mu.Unlock()
		l.config.Metrics.RecordQuotaDecision(ctx, WindowHourly.String(), false)
		return hourly
	}

	daily := l.checkLocked(subject, WindowDaily)
	if !daily.Allowed {
		l.entries[subject].hourly.count--
		l.mu.Unlock()
		l.config.Metrics.RecordQuotaDecision(ctx, WindowDaily.String(), false)
		return daily
	}
	l.mu.Unlock()

	l.config.Metrics.RecordQuotaDecision(ctx, WindowHourly.String(), true)
	return hourly
}

func (l *Limiter) checkLocked(subject string, window Window) Decision {
	now := l.config.Clock.Now()

	e, ok := l.entries[subject]
	if !ok {
		e = &entry{}
		l.entries[subject] = e
	}

	var wc *windowCount
	var limit int
	switch window {
	case WindowDaily:
		wc = &e.daily
		limit = l.config.DailyLimit
	default:
		wc = &e.hourly
		limit = l.config.HourlyLimit
	}

	// Lazily start or roll the window.
	if wc.resetAt.IsZero() || !now.Before(wc.resetAt) {
		wc.count = 0
		wc.resetAt = nextReset(window, now)
	}

	d := Decision{
		Window:  window,
		Limit:   limit,
		ResetAt: wc.resetAt,
	}
	if wc.count >= limit {
		d.RetryAfter = retryAfter(wc.resetAt, now)
		return d
	}

	wc.count++
	d.Allowed = true
	d.Remaining = limit - wc.count
	return d
}

// nextReset computes a fresh window boundary: one hour from first use for
// the hourly window, the next UTC midnight for the daily window.
func nextReset(window Window, now time.Time) time.Time {
	if window == WindowDaily {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	return now.Add(time.Hour)
}

// retryAfter is the whole seconds until reset, rounded up, never below 1.
func retryAfter(resetAt, now time.Time) int {
	s := int((resetAt.Sub(now) + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Reset clears both window counts for a subject immediately.
func (l *Limiter) Reset(subject string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[subject]; ok {
		e.hourly.count = 0
		e.daily.count = 0
	}
}

// Usage reports a subject's current consumption, for dashboards.
type Usage struct {
	Subject     string    `json:"subject"`
	HourlyCount int       `json:"hourly_count"`
	HourlyLimit int       `json:"hourly_limit"`
	HourlyReset time.Time `json:"hourly_reset,omitzero"`
	DailyCount  int       `json:"daily_count"`
	DailyLimit  int       `json:"daily_limit"`
	DailyReset  time.Time `json:"daily_reset,omitzero"`
}

// Usage returns the subject's current usage. Expired windows read as zero.
func (l *Limiter) Usage(subject string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.Clock.Now()
	u := Usage{
		Subject:     subject,
		HourlyLimit: l.config.HourlyLimit,
		DailyLimit:  l.config.DailyLimit,
	}
	e, ok := l.entries[subject]
	if !ok {
		return u
	}
	if now.Before(e.hourly.resetAt) {
		u.HourlyCount = e.hourly.count
		u.HourlyReset = e.hourly.resetAt
	}
	if now.Before(e.daily.resetAt) {
		u.DailyCount = e.daily.count
		u.DailyReset = e.daily.resetAt
	}
	return u
}

// AllStats returns the usage of every tracked subject, keyed by subject.
func (l *Limiter) AllStats() map[string]Usage {
	l.mu.Lock()
	subjects := make([]string, 0, len(l.entries))
	for s := range l.entries {
		subjects = append(subjects, s)
	}
	l.mu.Unlock()

	stats := make(map[string]Usage, len(subjects))
	for _, s := range subjects {
		stats[s] = l.Usage(s)
	}
	return stats
}

// CleanupIdle removes subjects whose windows have long since reset,
// bounding memory growth. Returns the number of removed subjects.
func (l *Limiter) CleanupIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.Clock.Now()
	cutoff := now.Add(-l.config.IdleTTL)
	removed := 0
	for subject, e := range l.entries {
		if e.hourly.resetAt.Before(cutoff) && e.daily.resetAt.Before(cutoff) {
			delete(l.entries, subject)
			removed++
		}
	}
	return removed
}

// Start launches the idle-entry cleanup loop. Tests call CleanupIdle
// directly instead.
func (l *Limiter) Start() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := l.config.Clock.NewTicker(l.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				l.CleanupIdle()
			}
		}
	}(l.stop, l.done)
}

// Stop halts the cleanup loop. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop = nil
	l.done = nil
}
