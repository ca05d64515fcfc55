package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kakavi/central-backend/id"
	"github.com/kakavi/central-backend/scope"
)

// Recorder is the append side of the audit log. Domain code records
// events through it; the dispatcher never does.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record marshals details to JSON and persists a new audit event for the
// given action and actor. An empty actorID falls back to the actor
// carried by ctx (scope.WithActor). The returned event carries the
// assigned ID and LoggedAt timestamp.
func (r *Recorder) Record(ctx context.Context, action, actorID string, details any) (*Event, error) {
	if actorID == "" {
		actorID = scope.Actor(ctx)
	}
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("audit: marshal details for action %q: %w", action, err)
		}
	}

	now := time.Now().UTC()
	e := &Event{
		ID:       id.NewEventID(),
		Action:   action,
		ActorID:  actorID,
		Details:  payload,
		LoggedAt: now,
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	if err := r.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Store returns the underlying event store.
func (r *Recorder) Store() Store { return r.store }
