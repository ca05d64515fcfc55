// Package engine wires all Central subsystems together. It creates the
// hook registry, job registry, middleware chain, checker, runner, and
// worker pool, and exposes the application-level Register and Record
// operations.
//
// This package exists to break the import cycle: the root central
// package defines Entity (imported by audit, job, and the stores) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/backoff"
	"github.com/kakavi/central-backend/deadletter"
	"github.com/kakavi/central-backend/hook"
	"github.com/kakavi/central-backend/job"
	mw "github.com/kakavi/central-backend/middleware"
	"github.com/kakavi/central-backend/observability"
	"github.com/kakavi/central-backend/reporter"
	"github.com/kakavi/central-backend/txn"
	"github.com/kakavi/central-backend/worker"
)

// scoper is implemented by stores that supply their own transactional
// scope provider (store/postgres).
type scoper interface {
	Scopes() txn.Provider
}

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d           *central.Dispatcher
	hooks       *hook.Registry
	registry    *job.Registry
	store       audit.Store
	recorder    *audit.Recorder
	deadLetters *deadletter.Service
	policy      audit.ClaimPolicy
	pool        *worker.Pool
	logger      *slog.Logger

	// Build-time configuration collected from options.
	bo         backoff.Strategy
	scopes     txn.Provider
	reporter   reporter.Reporter
	mws        []mw.Middleware
	claimLimit rate.Limit
	claimBurst int

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook extension with the engine.
func WithHook(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.hooks.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's handler chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, a constant
// strategy built from the Dispatcher's RetryBackoff config is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithScopes sets the transactional scope provider. If not set, the
// engine asks the store for one and falls back to txn.Nop.
func WithScopes(p txn.Provider) Option {
	return func(eng *Engine) {
		eng.scopes = p
	}
}

// WithReporter sets the error reporter handler failures are surfaced
// through. If not set, failures are logged at ERROR level.
func WithReporter(r reporter.Reporter) Option {
	return func(eng *Engine) {
		eng.reporter = r
	}
}

// WithClaimRateLimit caps the rate at which the pool's workers attempt
// claims, shared across all workers.
func WithClaimRateLimit(limit rate.Limit, burst int) Option {
	return func(eng *Engine) {
		eng.claimLimit = limit
		eng.claimBurst = burst
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability hook use
// this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement audit.Store.
func Build(d *central.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()

	if store == nil {
		return nil, central.ErrNoStore
	}
	as, ok := store.(audit.Store)
	if !ok {
		return nil, fmt.Errorf("central: store does not implement audit.Store")
	}

	eng := &Engine{
		d:        d,
		hooks:    hook.NewRegistry(logger),
		registry: job.NewRegistry(),
		store:    as,
		recorder: audit.NewRecorder(as),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := d.Config()

	// Default backoff: a constant interval from config.
	if eng.bo == nil {
		eng.bo = backoff.NewConstant(config.RetryBackoff)
	}
	eng.policy = audit.ClaimPolicy{
		RetryCap:   config.RetryCap,
		Retry:      eng.bo,
		StaleClaim: config.StaleClaim,
	}

	// Default scopes: the store's own provider when it has one.
	if eng.scopes == nil {
		if sc, ok := store.(scoper); ok {
			eng.scopes = sc.Scopes()
		} else {
			eng.scopes = txn.Nop{}
		}
	}

	if eng.reporter == nil {
		eng.reporter = reporter.Slog(logger)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/kakavi/central-backend")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/kakavi/central-backend")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics hook.
	var obs *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/kakavi/central-backend/observability")
		obs = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obs = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obs)

	// Default chain: recover → tracing → metrics → logging → timeout,
	// then any user middleware innermost.
	allMws := make([]mw.Middleware, 0, 5+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.HandlerTimeout),
	)
	allMws = append(allMws, eng.mws...)

	runner := worker.NewRunner(eng.registry, as, eng.scopes, eng.reporter, eng.hooks, eng.policy, logger, allMws...)
	checker := worker.NewChecker(as, eng.policy)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
	}
	if eng.claimLimit > 0 {
		poolOpts = append(poolOpts, worker.WithClaimRateLimit(eng.claimLimit, eng.claimBurst))
	}
	eng.pool = worker.NewPool(checker, runner, eng.hooks, logger, poolOpts...)

	eng.deadLetters = deadletter.NewService(as, eng.hooks, eng.policy)

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Record appends a new audit event. Details are marshaled to JSON.
func (eng *Engine) Record(ctx context.Context, action, actorID string, details any) (*audit.Event, error) {
	return eng.recorder.Record(ctx, action, actorID, details)
}

// Start begins event processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Recorder returns the audit event recorder.
func (eng *Engine) Recorder() *audit.Recorder { return eng.recorder }

// Store returns the audit event store.
func (eng *Engine) Store() audit.Store { return eng.store }

// DeadLetters returns the dead letter service for inspection and replay.
func (eng *Engine) DeadLetters() *deadletter.Service { return eng.deadLetters }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *central.Dispatcher { return eng.d }

// Policy returns the claim policy the engine was built with.
func (eng *Engine) Policy() audit.ClaimPolicy { return eng.policy }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
