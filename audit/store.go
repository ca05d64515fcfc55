package audit

import (
	"context"
	"time"

	"github.com/kakavi/central-backend/id"
)

// ListOpts controls filtering and pagination for event list queries.
type ListOpts struct {
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Offset is the number of events to skip.
	Offset int
	// Action filters by action name. Empty means all actions.
	Action string
	// Processed filters by completion state when non-nil.
	Processed *bool
	// MinFailures filters to events with at least this many failures.
	MinFailures int
}

// CountOpts controls filtering for event count queries.
type CountOpts struct {
	// Action filters by action name. Empty means all actions.
	Action string
	// Processed filters by completion state when non-nil.
	Processed *bool
	// MinFailures filters to events with at least this many failures.
	MinFailures int
}

// Store defines the persistence contract for audit events.
type Store interface {
	// AppendEvent persists a new event.
	AppendEvent(ctx context.Context, e *Event) error

	// ClaimNextEvent atomically selects the single oldest event eligible
	// under the policy, stamps its Claimed field with the current time as
	// part of the same operation, and returns it. Returns nil when no
	// eligible event exists. Two concurrent callers can never claim the
	// same event.
	ClaimNextEvent(ctx context.Context, policy ClaimPolicy) (*Event, error)

	// MarkEventProcessed records terminal success: sets Processed to the
	// given time. Backends that support transactional scopes must honor a
	// transaction carried by ctx so the mark commits or rolls back with
	// the jobs' own writes.
	MarkEventProcessed(ctx context.Context, eventID id.EventID, at time.Time) error

	// MarkEventFailed records a failed attempt: sets Failures to the
	// given count, LastFailure to the given time, and clears Claimed so
	// the event becomes eligible for re-claiming after backoff.
	MarkEventFailed(ctx context.Context, eventID id.EventID, failures int, at time.Time) error

	// ReviveEvent resets an event's retry bookkeeping (Failures,
	// LastFailure, Claimed) so an exhausted event becomes claimable
	// again. Operator-driven; fails on processed events.
	ReviveEvent(ctx context.Context, eventID id.EventID) error

	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)

	// ListEvents returns events matching the given options, oldest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// CountEvents returns the number of events matching the given options.
	CountEvents(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeEvents removes unprocessed events logged before the given
	// time with at least minFailures failures. Returns the number of
	// events removed.
	PurgeEvents(ctx context.Context, before time.Time, minFailures int) (int64, error)
}
