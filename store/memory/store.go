// Package memory provides a fully in-memory audit event store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/id"
)

var _ audit.Store = (*Store)(nil)

// Store is a map-backed implementation of audit.Store.
type Store struct {
	mu     sync.RWMutex
	events map[string]*audit.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{events: make(map[string]*audit.Event)}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists a new event.
func (m *Store) AppendEvent(_ context.Context, e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.events[key]; exists {
		return central.ErrEventAlreadyExists
	}
	cp := *e
	m.events[key] = &cp
	return nil
}

// ClaimNextEvent claims the single oldest eligible event under the
// policy. The whole selection and claim stamp happens under one lock,
// so concurrent callers never claim the same event.
func (m *Store) ClaimNextEvent(_ context.Context, policy audit.ClaimPolicy) (*audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	var oldest *audit.Event
	for _, e := range m.events {
		if !policy.Eligible(e, now) {
			continue
		}
		if oldest == nil || claimBefore(e, oldest) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}

	claimed := now
	oldest.Claimed = &claimed
	oldest.UpdatedAt = now

	cp := *oldest
	return &cp, nil
}

// claimBefore reports whether a should be claimed before b: older
// LoggedAt first, ID as the tiebreaker.
func claimBefore(a, b *audit.Event) bool {
	if !a.LoggedAt.Equal(b.LoggedAt) {
		return a.LoggedAt.Before(b.LoggedAt)
	}
	return a.ID.String() < b.ID.String()
}

// MarkEventProcessed records terminal success for the event.
func (m *Store) MarkEventProcessed(_ context.Context, eventID id.EventID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID.String()]
	if !ok {
		return central.ErrEventNotFound
	}
	processed := at
	e.Processed = &processed
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkEventFailed records a failed attempt and releases the claim.
func (m *Store) MarkEventFailed(_ context.Context, eventID id.EventID, failures int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID.String()]
	if !ok {
		return central.ErrEventNotFound
	}
	lastFailure := at
	e.Failures = failures
	e.LastFailure = &lastFailure
	e.Claimed = nil
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// ReviveEvent resets retry bookkeeping so the event is claimable again.
func (m *Store) ReviveEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID.String()]
	if !ok {
		return central.ErrEventNotFound
	}
	if e.Processed != nil {
		return central.ErrEventProcessed
	}
	e.Failures = 0
	e.LastFailure = nil
	e.Claimed = nil
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// GetEvent retrieves an event by ID.
func (m *Store) GetEvent(_ context.Context, eventID id.EventID) (*audit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[eventID.String()]
	if !ok {
		return nil, central.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEvents returns events matching the options, oldest first.
func (m *Store) ListEvents(_ context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*audit.Event, 0, len(m.events))
	for _, e := range m.events {
		if !matchesList(e, opts) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return claimBefore(matched[i], matched[j])
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func matchesList(e *audit.Event, opts audit.ListOpts) bool {
	if opts.Action != "" && e.Action != opts.Action {
		return false
	}
	if opts.Processed != nil && e.IsProcessed() != *opts.Processed {
		return false
	}
	if e.Failures < opts.MinFailures {
		return false
	}
	return true
}

// CountEvents returns the number of events matching the options.
func (m *Store) CountEvents(_ context.Context, opts audit.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.events {
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.Processed != nil && e.IsProcessed() != *opts.Processed {
			continue
		}
		if e.Failures < opts.MinFailures {
			continue
		}
		n++
	}
	return n, nil
}

// PurgeEvents removes unprocessed events logged before the given time
// with at least minFailures failures.
func (m *Store) PurgeEvents(_ context.Context, before time.Time, minFailures int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.events {
		if e.Processed != nil {
			continue
		}
		if !e.LoggedAt.Before(before) {
			continue
		}
		if e.Failures < minFailures {
			continue
		}
		delete(m.events, key)
		n++
	}
	return n, nil
}
