package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/hook"
	"github.com/kakavi/central-backend/id"
	"github.com/kakavi/central-backend/job"
	"github.com/kakavi/central-backend/middleware"
	"github.com/kakavi/central-backend/reporter"
	"github.com/kakavi/central-backend/store/memory"
	"github.com/kakavi/central-backend/txn"
	"github.com/kakavi/central-backend/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	policy := audit.DefaultClaimPolicy()

	runner := worker.NewRunner(
		reg, s, txn.Nop{}, reporter.Slog(logger), hooks, policy, logger,
		middleware.Recover(logger),
	)
	checker := worker.NewChecker(s, policy)

	pool := worker.NewPool(checker, runner, hooks, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	)

	return pool, s, reg
}

func logTestEvent(t *testing.T, s *memory.Store, action string, details any) *audit.Event {
	t.Helper()
	payload, err := json.Marshal(details)
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	e := &audit.Event{
		Entity:   central.NewEntity(),
		ID:       id.NewEventID(),
		Action:   action,
		ActorID:  "actor_test",
		Details:  payload,
		LoggedAt: time.Now().UTC().Add(-time.Second),
	}
	if err := s.AppendEvent(context.Background(), e); err != nil {
		t.Fatalf("append error: %v", err)
	}
	return e
}

func TestChecker_PropagatesStoreResult(t *testing.T) {
	s := memory.New()
	checker := worker.NewChecker(s, audit.DefaultClaimPolicy())

	// Empty store: no event, no error.
	e, err := checker.Claim(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Fatal("expected nil event from an empty store")
	}

	logged := logTestEvent(t, s, "form.create", struct{}{})
	e, err = checker.Claim(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || e.ID != logged.ID {
		t.Fatal("expected the logged event to be claimed")
	}
	if e.Claimed == nil {
		t.Fatal("claimed event should carry a claim timestamp")
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	err := pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	err = pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesEvent(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("submission.create", func(_ context.Context, _ *audit.Event, d struct{ FormID string }) error {
		if d.FormID != "household_survey" {
			t.Errorf("details.FormID = %q, want %q", d.FormID, "household_survey")
		}
		processed.Store(true)
		return nil
	}))

	e := logTestEvent(t, s, "submission.create", struct{ FormID string }{FormID: "household_survey"})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !processed.Load() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event to be processed")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("get event error: %v", err)
	}
	if !got.IsProcessed() {
		t.Error("expected event to be processed")
	}
	if got.Failures != 0 {
		t.Errorf("failures = %d, want 0", got.Failures)
	}
}

func TestPool_FailedEvent(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var attempted atomic.Bool
	reg.Register("submission.update", func(_ context.Context, _ *audit.Event) error {
		attempted.Store(true)
		return errors.New("webhook endpoint down")
	})

	e := logTestEvent(t, s, "submission.update", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !attempted.Load() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event to be attempted")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	// The failure bookkeeping lands just after the handler returns.
	checkDeadline := time.After(5 * time.Second)
	for {
		got, err := s.GetEvent(context.Background(), e.ID)
		if err != nil {
			t.Fatalf("get event error: %v", err)
		}
		if got.Failures >= 1 {
			if got.IsProcessed() {
				t.Error("failed event must not be processed")
			}
			if got.LastFailure == nil {
				t.Error("expected LastFailure to be set")
			}
			break
		}
		select {
		case <-checkDeadline:
			t.Fatal("timed out waiting for failure bookkeeping")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := pool.Stop(ctx)
	if err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

func TestPool_HookFires(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	policy := audit.DefaultClaimPolicy()

	tracker := &lifecycleTracker{}
	hooks.Register(tracker)

	runner := worker.NewRunner(reg, s, txn.Nop{}, reporter.Slog(logger), hooks, policy, logger)
	checker := worker.NewChecker(s, policy)
	pool := worker.NewPool(checker, runner, hooks, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	reg.Register("form.delete", func(_ context.Context, _ *audit.Event) error {
		return nil
	})

	logTestEvent(t, s, "form.delete", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !tracker.processed.Load() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for EventProcessed hook")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if !tracker.claimed.Load() {
		t.Error("EventClaimed hook should fire")
	}
	// Shutdown notification belongs to the dispatcher, not the pool.
	if tracker.shutdown.Load() {
		t.Error("Pool.Stop must not emit the shutdown hook")
	}
}

type lifecycleTracker struct {
	claimed   atomic.Bool
	processed atomic.Bool
	shutdown  atomic.Bool
}

func (l *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (l *lifecycleTracker) OnEventClaimed(_ context.Context, _ *audit.Event) error {
	l.claimed.Store(true)
	return nil
}

func (l *lifecycleTracker) OnEventProcessed(_ context.Context, _ *audit.Event, _ time.Duration) error {
	l.processed.Store(true)
	return nil
}

func (l *lifecycleTracker) OnShutdown(_ context.Context) error {
	l.shutdown.Store(true)
	return nil
}
