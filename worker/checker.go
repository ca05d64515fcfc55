// Package worker provides the event execution engine — a Checker that
// claims eligible events, a Runner that invokes matched handlers inside
// a transactional scope, and a Pool that manages concurrent worker
// goroutines polling for events.
package worker

import (
	"context"

	"github.com/kakavi/central-backend/audit"
)

// Checker claims the next eligible event from the store. It is safe to
// call concurrently from multiple goroutines and multiple processes;
// claim atomicity is the store's responsibility, not the checker's.
type Checker struct {
	store  audit.Store
	policy audit.ClaimPolicy
}

// NewChecker creates a Checker over the given store and policy.
func NewChecker(store audit.Store, policy audit.ClaimPolicy) *Checker {
	return &Checker{store: store, policy: policy}
}

// Claim atomically selects and claims the oldest eligible event.
// Returns nil when no event is eligible. Store errors propagate to the
// caller uninterpreted; the checker performs no retries itself.
func (c *Checker) Claim(ctx context.Context) (*audit.Event, error) {
	return c.store.ClaimNextEvent(ctx, c.policy)
}

// Policy returns the claim policy the checker passes on each claim.
func (c *Checker) Policy() audit.ClaimPolicy { return c.policy }
