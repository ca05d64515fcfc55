package central

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the number of worker goroutines polling for events.
	// Each worker claims and dispatches one event at a time.
	Concurrency int

	// PollInterval is how long an idle worker waits before checking for
	// eligible events again.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HandlerTimeout bounds a single event's handler execution. Zero or
	// negative disables the bound.
	HandlerTimeout time.Duration

	// RetryCap is the failure count at which an event stops being
	// eligible for claiming. An event with Failures >= RetryCap is dead
	// and only an operator replay can revive it.
	RetryCap int

	// RetryBackoff is the minimum wait after a failure before the event
	// becomes claimable again. Used to build the default constant backoff
	// strategy; engine.WithBackoff overrides it.
	RetryBackoff time.Duration

	// StaleClaim is how old a claim must be before the claimant is
	// presumed dead and the event may be reclaimed by another worker.
	StaleClaim time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     1,
		PollInterval:    5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		HandlerTimeout:  time.Minute,
		RetryCap:        5,
		RetryBackoff:    10 * time.Minute,
		StaleClaim:      2 * time.Hour,
	}
}
