// Package recovery composes the classifier, retry orchestrator, circuit
// breakers, and dead-letter queues into named recovery strategies selected
// by failure category. It is the primary entry point for wrapping any
// fallible unit of work.
package recovery

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/shieldops/shield/breaker"
	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/clock"
	"github.com/shieldops/shield/dlq"
	"github.com/shieldops/shield/observe"
	"github.com/shieldops/shield/retry"
)

// Operation is a fallible unit of work. It may run multiple times under a
// sync strategy, so it must be idempotent or tolerate re-execution.
type Operation func(ctx context.Context) (any, error)

// Options describe the unit of work being protected.
type Options struct {
	// Operation is the logical operation name. Required.
	Operation string

	// Category selects the recovery strategy. Callers that know which
	// dependency they are touching should set it; zero means the
	// strategy is chosen from the classified failure instead.
	Category classify.Category

	// Priority is the DLQ priority used if the operation escalates.
	Priority int

	// Payload is handed to the DLQ verbatim when escalating, so the
	// registered handler can re-execute the work later.
	Payload any

	// Fallback is the static degraded value returned when retries are
	// exhausted and the strategy allows fallback.
	Fallback any

	// Background marks the operation as background-safe: one attempt,
	// then straight to the DLQ on failure.
	Background bool
}

// Result is the outcome of one recovery execution.
type Result struct {
	// Success reports whether a genuine result was produced.
	Success bool

	// Value is the operation's result, or the fallback value when
	// Degraded is true.
	Value any

	// Strategy is the name of the strategy that handled the operation.
	Strategy string

	// Attempts is the number of times the operation ran.
	Attempts int

	// TotalDuration is the wall time spent, including backoff waits.
	TotalDuration time.Duration

	// Degraded reports that Value is a fallback, not a genuine result.
	// Callers must treat this as a reduced-confidence outcome.
	Degraded bool

	// Metadata carries auxiliary detail: fallback source, DLQ id,
	// correlation id.
	Metadata map[string]any

	// Err is the classified terminal failure, nil when the operation
	// succeeded or resolved to a fallback.
	Err *classify.ManagedError
}

// Config configures the Orchestrator. Breakers and Queues are shared with
// the rest of the application so dashboards and admin actions see the
// same instances.
type Config struct {
	// Classifier normalizes failures. Default: the default rule table.
	Classifier *classify.Classifier

	// Breakers is the circuit breaker registry. Default: a fresh
	// registry with default breaker config.
	Breakers *breaker.Registry

	// Queues is the DLQ registry. Default: a fresh registry with
	// default queue config.
	Queues *dlq.Registry

	// Strategies maps failure categories to recipes.
	// Default: DefaultStrategies.
	Strategies map[classify.Category]Strategy

	// Background is the strategy for background-safe operations.
	// Default: BackgroundStrategy.
	Background Strategy

	// FallbackCacheTTL is how long last-good values are usable as cached
	// fallbacks.
	// Default: 5m
	FallbackCacheTTL time.Duration

	// Clock supplies time. Default: the real clock.
	Clock clock.Clock

	// Logger logs recovery activity. Default: discard.
	Logger observe.Logger

	// Metrics records executions. Default: discard.
	Metrics observe.Metrics

	// Tracer records a span per execution. Default: no-op tracer.
	Tracer trace.Tracer
}

// Orchestrator executes operations under named recovery strategies.
type Orchestrator struct {
	config Config
	logger observe.Logger
	cache  *fallbackCache
}

// New creates an Orchestrator, applying defaults.
func New(config Config) *Orchestrator {
	if config.Classifier == nil {
		config.Classifier = classify.New()
	}
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	if config.Breakers == nil {
		metrics := config.Metrics
		logger := config.Logger.WithComponent("breaker")
		config.Breakers = breaker.NewRegistry(breaker.Config{
			Clock: config.Clock,
			OnStateChange: func(name string, from, to breaker.State) {
				ctx := context.Background()
				metrics.RecordBreakerTransition(ctx, name, from.String(), to.String())
				logger.Warn(ctx, "circuit state changed",
					observe.F("breaker", name),
					observe.F("from", from.String()),
					observe.F("to", to.String()),
				)
			},
		})
	}
	if config.Queues == nil {
		config.Queues = dlq.NewRegistry(dlq.Config{
			Clock:   config.Clock,
			Logger:  config.Logger,
			Metrics: config.Metrics,
		})
	}
	if config.Strategies == nil {
		config.Strategies = DefaultStrategies()
	}
	if config.Background.Name == "" {
		config.Background = BackgroundStrategy()
	}
	if config.FallbackCacheTTL <= 0 {
		config.FallbackCacheTTL = 5 * time.Minute
	}
	if config.Tracer == nil {
		config.Tracer = tracenoop.NewTracerProvider().Tracer("noop")
	}
	return &Orchestrator{
		config: config,
		logger: config.Logger.WithComponent("recovery"),
		cache:  newFallbackCache(config.FallbackCacheTTL, config.Clock),
	}
}

// Breakers returns the breaker registry, for monitoring surfaces.
func (o *Orchestrator) Breakers() *breaker.Registry { return o.config.Breakers }

// Queues returns the DLQ registry, for monitoring surfaces.
func (o *Orchestrator) Queues() *dlq.Registry { return o.config.Queues }

// strategyFor picks the strategy registered for the category, falling
// back to passthrough.
func (o *Orchestrator) strategyFor(category classify.Category) Strategy {
	if s, ok := o.config.Strategies[category]; ok {
		return s
	}
	return defaultStrategy()
}

// Execute runs op under the strategy selected by opts. Failures resolve,
// in order of preference, to a genuine result, a degraded fallback value,
// a DLQ escalation, or a classified error.
func (o *Orchestrator) Execute(ctx context.Context, op Operation, opts Options) Result {
	if opts.Operation == "" {
		opts.Operation = "unnamed"
	}

	ctx, span := o.config.Tracer.Start(ctx, "recover",
		trace.WithAttributes(
			attribute.String("operation", opts.Operation),
			attribute.String("category", opts.Category.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	start := o.config.Clock.Now()
	res := o.execute(ctx, op, opts)
	res.TotalDuration = o.config.Clock.Since(start)

	span.SetName("recover." + res.Strategy)
	o.config.Metrics.RecordRecovery(ctx, res.Strategy, res.TotalDuration, res.Degraded, res.Err)
	o.endSpan(span, res)
	return res
}

func (o *Orchestrator) execute(ctx context.Context, op Operation, opts Options) Result {
	if opts.Background {
		res := o.executeDeferred(ctx, op, opts, o.config.Background)
		res.Strategy = o.config.Background.Name
		return res
	}
	if opts.Category != classify.CategoryUnknown {
		strategy := o.strategyFor(opts.Category)
		res := o.executeSync(ctx, op, opts, strategy)
		res.Strategy = strategy.Name
		return res
	}
	return o.executeClassified(ctx, op, opts)
}

// executeClassified handles operations with no declared category: the
// first attempt runs bare, and a failure is classified to pick the
// strategy that governs the remaining attempts.
func (o *Orchestrator) executeClassified(ctx context.Context, op Operation, opts Options) Result {
	value, err := op(ctx)
	if err == nil {
		return Result{
			Success:  true,
			Value:    value,
			Attempts: 1,
			Strategy: defaultStrategy().Name,
		}
	}

	merr := o.config.Classifier.Classify(err, opts.Operation)
	strategy, ok := o.config.Strategies[merr.Category]
	if !ok {
		return Result{
			Attempts: 1,
			Strategy: defaultStrategy().Name,
			Err:      merr,
			Metadata: map[string]any{"correlation_id": merr.CorrelationID},
		}
	}

	o.logger.Debug(ctx, "category classified from failure",
		observe.F("operation", opts.Operation),
		observe.F("category", merr.Category.String()),
		observe.F("strategy", strategy.Name),
	)

	opts.Category = merr.Category
	res := o.executeSync(ctx, op, opts, strategy)
	res.Strategy = strategy.Name
	res.Attempts++
	return res
}

func (o *Orchestrator) executeSync(ctx context.Context, op Operation, opts Options, strategy Strategy) Result {
	var value any
	wrapped := func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			value = v
		}
		return err
	}

	execute := wrapped
	if strategy.Breaker != "" {
		br := o.config.Breakers.GetOrCreate(strategy.Breaker, breaker.Config{})
		execute = func(ctx context.Context) error {
			return br.Execute(ctx, wrapped)
		}
	}

	retrier := retry.New(retry.Config{
		Policy:     strategy.Retry,
		Classifier: o.config.Classifier,
		Clock:      o.config.Clock,
	})
	retryRes, err := retrier.Execute(ctx, opts.Operation, execute)

	res := Result{Attempts: retryRes.Attempts}
	if err == nil {
		res.Success = true
		res.Value = value
		if strategy.CacheFallback {
			o.cache.put(opts.Operation, value)
		}
		return res
	}

	merr := o.config.Classifier.Classify(err, opts.Operation)
	res.Err = merr
	res.Metadata = map[string]any{"correlation_id": merr.CorrelationID}

	o.logger.Warn(ctx, "operation failed after retries",
		observe.F("operation", opts.Operation),
		observe.F("strategy", strategy.Name),
		observe.F("category", merr.Category.String()),
		observe.F("attempts", res.Attempts),
		observe.F("correlation_id", merr.CorrelationID),
	)

	// An open circuit is exactly the moment a fallback earns its keep.
	circuitOpen := errors.Is(err, breaker.ErrOpen)

	if strategy.AllowFallback && (merr.FallbackAvailable || circuitOpen) {
		if strategy.CacheFallback {
			if cached, ok := o.cache.get(opts.Operation); ok {
				res.Degraded = true
				res.Err = nil
				res.Value = cached
				res.Metadata["fallback_source"] = "cache"
				return res
			}
		}
		if opts.Fallback != nil {
			res.Degraded = true
			res.Err = nil
			res.Value = opts.Fallback
			res.Metadata["fallback_source"] = "static"
			return res
		}
	}

	if strategy.EscalateToDLQ && merr.Retryable && opts.Payload != nil {
		if id := o.escalate(ctx, opts, strategy, merr); id != "" {
			res.Metadata["dlq_id"] = id
		}
	}
	return res
}

// executeDeferred attempts the operation once and hands failures to the
// DLQ; the caller gets no inline retry.
func (o *Orchestrator) executeDeferred(ctx context.Context, op Operation, opts Options, strategy Strategy) Result {
	value, err := op(ctx)
	res := Result{Attempts: 1}
	if err == nil {
		res.Success = true
		res.Value = value
		return res
	}

	merr := o.config.Classifier.Classify(err, opts.Operation)
	res.Err = merr
	res.Metadata = map[string]any{"correlation_id": merr.CorrelationID}
	if id := o.escalate(ctx, opts, strategy, merr); id != "" {
		res.Metadata["dlq_id"] = id
	}
	return res
}

// escalate enqueues the failed operation for deferred processing and
// returns the DLQ id, or "" when enqueueing was not possible.
func (o *Orchestrator) escalate(ctx context.Context, opts Options, strategy Strategy, merr *classify.ManagedError) string {
	queueName := strategy.Queue
	if queueName == "" {
		queueName = "recovery"
	}
	queue := o.config.Queues.GetOrCreate(queueName, dlq.Config{})

	id, err := queue.Add(ctx, opts.Operation, opts.Payload, merr, opts.Priority)
	if err != nil {
		o.logger.Error(ctx, "dlq escalation failed",
			observe.F("operation", opts.Operation),
			observe.F("queue", queueName),
			observe.F("error", err.Error()),
		)
		return ""
	}
	return id
}

func (o *Orchestrator) endSpan(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.Int("attempts", res.Attempts),
		attribute.Bool("degraded", res.Degraded),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Category.String())
		span.RecordError(res.Err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
