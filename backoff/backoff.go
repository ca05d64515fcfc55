// Package backoff provides pluggable retry delay strategies for audit
// event processing. All strategies are stateless and safe for concurrent
// use.
//
// A strategy must be deterministic: the claim eligibility predicate
// evaluates Delay at claim time, on every worker, and all workers must
// agree on whether an event is eligible. Jittered strategies do not
// belong here.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the minimum wait after a failure before the event
// becomes claimable again.
type Strategy interface {
	// Delay returns how long to wait after the nth failure (1-indexed).
	// Delay(0) must return 0: an event that has never failed waits for
	// nothing.
	Delay(failures int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of failure count.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval, or zero for zero failures.
func (c *Constant) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the failure count.
// Delay = min(Initial * failures, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * failures, capped at Max.
func (l *Linear) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := l.Initial * time.Duration(failures)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay with each failure.
// Delay = min(Initial * 2^(failures-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(failures-1), capped at Max.
func (e *Exponential) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(failures-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the claim policy:
// a constant ten minute wait after every failure.
func DefaultStrategy() Strategy {
	return NewConstant(10 * time.Minute)
}
