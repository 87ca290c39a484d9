// Package retry executes operations with bounded exponential-backoff retry.
//
// The orchestrator consults a classifier to decide whether a failure is
// worth retrying; validation and authorization failures stop immediately.
// The wrapped operation may run multiple times, so callers are responsible
// for idempotency.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/clock"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// Jitter randomizes each delay by up to ±25% to avoid synchronized
	// retry storms.
	// Default: false
	Jitter bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the pre-jitter delay before retry attempt n (n >= 1):
// min(MaxDelay, BaseDelay * Multiplier^(n-1)).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

// Attempt records the outcome of a single try. Attempts are accumulated for
// the duration of one Execute call and returned to the caller; they are
// never stored.
type Attempt struct {
	// Number is the 1-based attempt number.
	Number int

	// Delay is the wait that preceded this attempt (zero for the first).
	Delay time.Duration

	// Err is the failure, nil on success.
	Err error
}

// Result summarizes an Execute call.
type Result struct {
	// Success reports whether any attempt succeeded.
	Success bool

	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the wall time spent, including backoff waits.
	TotalDuration time.Duration

	// History records every attempt in order.
	History []Attempt
}

// Config configures the Orchestrator.
type Config struct {
	// Policy is the retry policy.
	Policy Policy

	// Classifier decides whether a failure is retryable. Default: a
	// classifier with the default rule table.
	Classifier *classify.Classifier

	// Clock supplies time. Default: the real clock.
	Clock clock.Clock

	// OnRetry is called before each wait, with the attempt that just
	// failed and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Orchestrator retries operations according to a Policy.
type Orchestrator struct {
	config Config
}

// New creates an Orchestrator, applying defaults.
func New(config Config) *Orchestrator {
	config.Policy = config.Policy.withDefaults()
	if config.Classifier == nil {
		config.Classifier = classify.New()
	}
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	return &Orchestrator{config: config}
}

// Policy returns the effective policy after defaults.
func (o *Orchestrator) Policy() Policy { return o.config.Policy }

// Execute runs op until it succeeds, fails with a non-retryable
// classification, exhausts the policy's attempts, or ctx is cancelled.
// The returned error is the last failure, classified; the Result carries
// the full attempt history either way.
func (o *Orchestrator) Execute(ctx context.Context, operation string, op func(context.Context) error) (Result, error) {
	var res Result
	start := o.config.Clock.Now()
	defer func() { res.TotalDuration = o.config.Clock.Since(start) }()

	var delay time.Duration
	var lastErr *classify.ManagedError

	for attempt := 1; attempt <= o.config.Policy.MaxAttempts; attempt++ {
		err := op(ctx)
		res.Attempts = attempt
		res.History = append(res.History, Attempt{Number: attempt, Delay: delay, Err: err})

		if err == nil {
			res.Success = true
			return res, nil
		}

		lastErr = o.config.Classifier.Classify(err, operation)
		if !lastErr.Retryable {
			return res, lastErr
		}
		if attempt >= o.config.Policy.MaxAttempts {
			break
		}

		delay = o.nextDelay(attempt)
		if o.config.OnRetry != nil {
			o.config.OnRetry(attempt, err, delay)
		}
		if err := o.sleep(ctx, delay); err != nil {
			return res, err
		}
	}

	return res, lastErr
}

func (o *Orchestrator) nextDelay(attempt int) time.Duration {
	delay := o.config.Policy.Delay(attempt)
	if half := int64(delay / 2); o.config.Policy.Jitter && half > 0 {
		// ±25% jitter.
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(half) - int64(delay/4))
	}
	return delay
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := o.config.Clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
