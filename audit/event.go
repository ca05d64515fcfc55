package audit

import (
	"time"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/id"
)

// Event is a durable record of a domain occurrence that may trigger
// asynchronous side-effect jobs. Events are append-only: domain code
// writes them via [Recorder] and the dispatcher mutates only the
// processing bookkeeping fields (Claimed, Processed, Failures,
// LastFailure).
type Event struct {
	central.Entity

	ID      id.EventID `json:"id"`
	Action  string     `json:"action"`
	ActorID string     `json:"actor_id,omitempty"`
	Details []byte     `json:"details,omitempty"`

	// LoggedAt is the creation time of the event and defines FIFO claim
	// order; ties are broken by ID.
	LoggedAt time.Time `json:"logged_at"`

	// Claimed is set when a worker takes ownership of the event.
	// Nil means unclaimed. A failed attempt clears it.
	Claimed *time.Time `json:"claimed,omitempty"`

	// Processed is set exactly once, when every registered job for the
	// event's action has succeeded. It is never cleared.
	Processed *time.Time `json:"processed,omitempty"`

	// Failures counts failed processing attempts. Monotonic.
	Failures int `json:"failures"`

	// LastFailure is the time of the most recent failed attempt.
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// IsProcessed reports whether the event has completed successfully.
func (e *Event) IsProcessed() bool { return e.Processed != nil }

// IsDead reports whether the event has exhausted the given retry budget
// and will never be claimed again without an operator replay.
func (e *Event) IsDead(retryCap int) bool {
	return e.Processed == nil && e.Failures >= retryCap
}
