package central

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only. The full audit.Store contract is
// used by the subsystem layers that do not create import cycles;
// implementations satisfy both.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown hooks.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central coordinator for audit event processing.
//
// Create one with New() and functional options, then wire the subsystems
// with engine.Build(). The Dispatcher holds subsystem components via
// internal interfaces to avoid import cycles.
type Dispatcher struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (d *Dispatcher) SetHooks(h hookEmitter) { d.hooks = h }

// Start begins event processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the dispatcher.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", "error", err)
		}
	}
	if d.hooks != nil {
		d.hooks.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of polling worker goroutines.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how long an idle worker waits between checks.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = interval
		return nil
	}
}

// WithHandlerTimeout bounds a single event's handler execution.
// Zero or negative disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) error {
		dp.config.HandlerTimeout = d
		return nil
	}
}

// WithRetryCap sets the failure count at which events stop being retried.
func WithRetryCap(n int) Option {
	return func(d *Dispatcher) error {
		d.config.RetryCap = n
		return nil
	}
}

// WithRetryBackoff sets the minimum wait after a failure before an event
// becomes claimable again.
func WithRetryBackoff(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RetryBackoff = interval
		return nil
	}
}

// WithStaleClaim sets how old a claim must be before it may be reclaimed.
func WithStaleClaim(age time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.StaleClaim = age
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; typically it will also
// implement audit.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
