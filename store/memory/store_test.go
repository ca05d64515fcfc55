package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/id"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Event store tests
// ──────────────────────────────────────────────────

func newEvent(action string, loggedAt time.Time) *audit.Event {
	return &audit.Event{
		Entity:   central.NewEntity(),
		ID:       id.NewEventID(),
		Action:   action,
		ActorID:  "actor_test",
		Details:  []byte(`{"test":true}`),
		LoggedAt: loggedAt,
	}
}

func ptr(tm time.Time) *time.Time { return &tm }

func TestAppendAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newEvent("submission.create", time.Now().UTC())
	if err := s.AppendEvent(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Duplicate append is rejected.
	if err := s.AppendEvent(ctx, e); !errors.Is(err, central.ErrEventAlreadyExists) {
		t.Fatalf("expected ErrEventAlreadyExists, got %v", err)
	}

	got, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Action != "submission.create" {
		t.Errorf("Action = %q, want submission.create", got.Action)
	}

	if _, err := s.GetEvent(ctx, id.NewEventID()); !errors.Is(err, central.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestClaimNextEvent_OldestFirst(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	newer := newEvent("form.update", now.Add(-time.Minute))
	older := newEvent("form.create", now.Add(-time.Hour))
	if err := s.AppendEvent(ctx, newer); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent(ctx, older); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimNextEvent(ctx, audit.DefaultClaimPolicy())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claim, got nil")
	}
	if claimed.ID != older.ID {
		t.Errorf("claimed %s, want oldest %s", claimed.ID, older.ID)
	}
	if claimed.Claimed == nil {
		t.Error("claimed event should carry a claim timestamp")
	}
}

func TestClaimNextEvent_TieBreakByID(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	loggedAt := time.Now().UTC().Add(-time.Minute)

	a := newEvent("form.update", loggedAt)
	b := newEvent("form.update", loggedAt)
	if err := s.AppendEvent(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent(ctx, b); err != nil {
		t.Fatal(err)
	}

	want := a.ID.String()
	if b.ID.String() < want {
		want = b.ID.String()
	}

	claimed, err := s.ClaimNextEvent(ctx, audit.DefaultClaimPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID.String() != want {
		t.Errorf("claimed %s, want smaller id %s", claimed.ID, want)
	}
}

func TestClaimNextEvent_SkipsIneligible(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	policy := audit.DefaultClaimPolicy()

	processed := newEvent("a.processed", now.Add(-3*time.Hour))
	processed.Processed = ptr(now.Add(-time.Hour))

	claimed := newEvent("b.claimed", now.Add(-3*time.Hour))
	claimed.Claimed = ptr(now.Add(-time.Minute))

	exhausted := newEvent("c.exhausted", now.Add(-3*time.Hour))
	exhausted.Failures = policy.RetryCap

	backingOff := newEvent("d.backoff", now.Add(-3*time.Hour))
	backingOff.Failures = 1
	backingOff.LastFailure = ptr(now.Add(-time.Minute))

	for _, e := range []*audit.Event{processed, claimed, exhausted, backingOff} {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ClaimNextEvent(ctx, policy)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected no eligible event, claimed %s (%s)", got.ID, got.Action)
	}
}

func TestClaimNextEvent_StaleClaimReclaimable(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEvent("submission.create", now.Add(-4*time.Hour))
	e.Claimed = ptr(now.Add(-3 * time.Hour))
	if err := s.AppendEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := s.ClaimNextEvent(ctx, audit.DefaultClaimPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected stale claim to be reclaimable")
	}
	if got.ID != e.ID {
		t.Errorf("claimed %s, want %s", got.ID, e.ID)
	}
}

func TestClaimNextEvent_NoDoubleClaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newEvent("form.create", time.Now().UTC().Add(-time.Minute))
	if err := s.AppendEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	results := make([]*audit.Event, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.ClaimNextEvent(ctx, audit.DefaultClaimPolicy())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	var wins int
	for _, r := range results {
		if r != nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", wins)
	}
}

func TestMarkEventProcessed(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEvent("user.create", now.Add(-time.Minute))
	if err := s.AppendEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	at := now
	if err := s.MarkEventProcessed(ctx, e.ID, at); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	got, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsProcessed() {
		t.Error("event should be processed")
	}
	if !got.Processed.Equal(at) {
		t.Errorf("Processed = %v, want %v", got.Processed, at)
	}

	// Processed events are never claimed again.
	claimed, err := s.ClaimNextEvent(ctx, audit.DefaultClaimPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Fatal("processed event must not be claimable")
	}

	if err := s.MarkEventProcessed(ctx, id.NewEventID(), at); !errors.Is(err, central.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMarkEventFailed_ReleasesClaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEvent("user.update", now.Add(-time.Minute))
	if err := s.AppendEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimNextEvent(ctx, audit.DefaultClaimPolicy())
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v %v", claimed, err)
	}

	if err := s.MarkEventFailed(ctx, e.ID, claimed.Failures+1, now); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := s.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Failures != 1 {
		t.Errorf("Failures = %d, want 1", got.Failures)
	}
	if got.LastFailure == nil || !got.LastFailure.Equal(now) {
		t.Errorf("LastFailure = %v, want %v", got.LastFailure, now)
	}
	if got.Claimed != nil {
		t.Error("claim should be released on failure")
	}
}

func TestReviveEvent(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	policy := audit.DefaultClaimPolicy()

	e := newEvent("submission.update", now.Add(-time.Hour))
	e.Failures = policy.RetryCap
	e.LastFailure = ptr(now.Add(-time.Minute))
	if err := s.AppendEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	// Exhausted: not claimable.
	if got, _ := s.ClaimNextEvent(ctx, policy); got != nil {
		t.Fatal("exhausted event must not be claimable")
	}

	if err := s.ReviveEvent(ctx, e.ID); err != nil {
		t.Fatalf("revive: %v", err)
	}

	got, err := s.ClaimNextEvent(ctx, policy)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != e.ID {
		t.Fatal("revived event should be claimable again")
	}
	if got.Failures != 0 {
		t.Errorf("Failures = %d, want 0 after revive", got.Failures)
	}

	// Reviving a processed event fails.
	done := newEvent("form.delete", now)
	done.Processed = ptr(now)
	if err := s.AppendEvent(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := s.ReviveEvent(ctx, done.ID); !errors.Is(err, central.ErrEventProcessed) {
		t.Fatalf("expected ErrEventProcessed, got %v", err)
	}
}

func TestListEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	first := newEvent("form.create", now.Add(-3*time.Hour))
	second := newEvent("form.update", now.Add(-2*time.Hour))
	third := newEvent("form.update", now.Add(-time.Hour))
	third.Processed = ptr(now)

	for _, e := range []*audit.Event{second, third, first} {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListEvents(ctx, audit.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].ID != first.ID || all[2].ID != third.ID {
		t.Error("events not ordered oldest first")
	}

	updates, err := s.ListEvents(ctx, audit.ListOpts{Action: "form.update"})
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 form.update events, got %d", len(updates))
	}

	unprocessed := false
	pending, err := s.ListEvents(ctx, audit.ListOpts{Processed: &unprocessed})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 unprocessed events, got %d", len(pending))
	}

	paged, err := s.ListEvents(ctx, audit.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != second.ID {
		t.Error("pagination should return the second oldest event")
	}
}

func TestCountEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	a := newEvent("form.create", now.Add(-time.Hour))
	b := newEvent("form.create", now.Add(-time.Hour))
	b.Failures = 3
	c := newEvent("form.delete", now.Add(-time.Hour))
	c.Processed = ptr(now)

	for _, e := range []*audit.Event{a, b, c} {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	total, err := s.CountEvents(ctx, audit.CountOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	failed, err := s.CountEvents(ctx, audit.CountOpts{MinFailures: 1})
	if err != nil {
		t.Fatal(err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	processed := true
	done, err := s.CountEvents(ctx, audit.CountOpts{Processed: &processed})
	if err != nil {
		t.Fatal(err)
	}
	if done != 1 {
		t.Errorf("processed = %d, want 1", done)
	}
}

func TestPurgeEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	dead := newEvent("form.create", now.Add(-48*time.Hour))
	dead.Failures = 5
	recent := newEvent("form.create", now.Add(-time.Hour))
	recent.Failures = 5
	healthy := newEvent("form.update", now.Add(-48*time.Hour))
	done := newEvent("form.delete", now.Add(-48*time.Hour))
	done.Failures = 5
	done.Processed = ptr(now)

	for _, e := range []*audit.Event{dead, recent, healthy, done} {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PurgeEvents(ctx, now.Add(-24*time.Hour), 5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	// Only the old, unprocessed, exhausted event is gone.
	if _, err := s.GetEvent(ctx, dead.ID); !errors.Is(err, central.ErrEventNotFound) {
		t.Error("dead event should have been purged")
	}
	for _, e := range []*audit.Event{recent, healthy, done} {
		if _, err := s.GetEvent(ctx, e.ID); err != nil {
			t.Errorf("event %s should survive purge: %v", e.Action, err)
		}
	}
}
