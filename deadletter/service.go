// Package deadletter provides inspection, replay, and purging of audit
// events that have exhausted their retry budget.
//
// Dead events stay in the event store: the checker simply never selects
// an event whose failure count reached the retry cap, so the backlog of
// dead events is the set of unprocessed events at or above the cap.
// This package is the operator surface over that set.
//
//	svc := deadletter.NewService(store, hooks, policy)
//
//	svc.List(ctx, deadletter.ListOpts{Limit: 50})
//	svc.Replay(ctx, eventID) // clear retry bookkeeping, back into rotation
//	svc.Purge(ctx, time.Now().AddDate(0, 0, -30))
package deadletter

import (
	"context"
	"time"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/hook"
	"github.com/kakavi/central-backend/id"
)

// ListOpts controls pagination of dead event listings.
type ListOpts struct {
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Offset is the number of events to skip.
	Offset int
	// Action filters by action name. Empty means all actions.
	Action string
}

// Service provides high-level dead letter operations over the event
// store.
type Service struct {
	store  audit.Store
	hooks  *hook.Registry
	policy audit.ClaimPolicy
}

// NewService creates a dead letter service. The policy supplies the
// retry cap that defines which events count as dead.
func NewService(store audit.Store, hooks *hook.Registry, policy audit.ClaimPolicy) *Service {
	return &Service{store: store, hooks: hooks, policy: policy}
}

// List returns dead events matching the options, oldest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*audit.Event, error) {
	unprocessed := false
	return s.store.ListEvents(ctx, audit.ListOpts{
		Limit:       opts.Limit,
		Offset:      opts.Offset,
		Action:      opts.Action,
		Processed:   &unprocessed,
		MinFailures: s.policy.RetryCap,
	})
}

// Get retrieves a single dead event by ID. Returns ErrEventNotDead when
// the event exists but still has retry budget, and ErrEventProcessed
// when it already completed.
func (s *Service) Get(ctx context.Context, eventID id.EventID) (*audit.Event, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.IsProcessed() {
		return nil, central.ErrEventProcessed
	}
	if !e.IsDead(s.policy.RetryCap) {
		return nil, central.ErrEventNotDead
	}
	return e, nil
}

// Replay resets a dead event's retry bookkeeping so the checker will
// claim it again, and returns the refreshed event.
func (s *Service) Replay(ctx context.Context, eventID id.EventID) (*audit.Event, error) {
	if _, err := s.Get(ctx, eventID); err != nil {
		return nil, err
	}
	if err := s.store.ReviveEvent(ctx, eventID); err != nil {
		return nil, err
	}

	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.hooks.EmitEventRevived(ctx, e)
	return e, nil
}

// Purge removes dead events logged before the given time. Returns the
// number of events removed.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeEvents(ctx, before, s.policy.RetryCap)
}

// Count returns the number of dead events.
func (s *Service) Count(ctx context.Context) (int64, error) {
	unprocessed := false
	return s.store.CountEvents(ctx, audit.CountOpts{
		Processed:   &unprocessed,
		MinFailures: s.policy.RetryCap,
	})
}
