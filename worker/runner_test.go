package worker_test

import (
	"context"
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
	"github.com/kakavi/central-backend/reporter"
	"github.com/kakavi/central-backend/store/memory"
	"github.com/kakavi/central-backend/txn"
	"github.com/kakavi/central-backend/worker"
)

// ──────────────────────────────────────────────────
// Test doubles
// ──────────────────────────────────────────────────

// trackingScopes is a txn.Provider that counts protocol calls and tags
// the derived context so handlers can prove they ran inside the scope.
type trackingScopes struct {
	begins    atomic.Int32
	commits   atomic.Int32
	rollbacks atomic.Int32
}

type scopeKey struct{}

func (p *trackingScopes) Begin(ctx context.Context) (txn.Scope, error) {
	p.begins.Add(1)
	return &trackingScope{provider: p, ctx: context.WithValue(ctx, scopeKey{}, true)}, nil
}

type trackingScope struct {
	provider *trackingScopes
	ctx      context.Context
	released atomic.Bool
}

func (s *trackingScope) Context() context.Context { return s.ctx }

func (s *trackingScope) Commit(context.Context) error {
	if s.released.CompareAndSwap(false, true) {
		s.provider.commits.Add(1)
	}
	return nil
}

func (s *trackingScope) Rollback(context.Context) error {
	if s.released.CompareAndSwap(false, true) {
		s.provider.rollbacks.Add(1)
	}
	return nil
}

// capturingReporter records every reported error.
type capturingReporter struct {
	mu   chan struct{}
	errs []error
}

func newCapturingReporter() *capturingReporter {
	r := &capturingReporter{mu: make(chan struct{}, 1)}
	r.mu <- struct{}{}
	return r
}

func (r *capturingReporter) Report(_ context.Context, err error) error {
	<-r.mu
	r.errs = append(r.errs, err)
	r.mu <- struct{}{}
	return nil
}

func (r *capturingReporter) reported() []error {
	<-r.mu
	out := append([]error(nil), r.errs...)
	r.mu <- struct{}{}
	return out
}

type runnerFixture struct {
	store    *memory.Store
	registry *job.Registry
	scopes   *trackingScopes
	reporter *capturingReporter
	runner   *worker.Runner
}

func setupRunner(t *testing.T) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		store:    memory.New(),
		registry: job.NewRegistry(),
		scopes:   &trackingScopes{},
		reporter: newCapturingReporter(),
	}
	f.runner = worker.NewRunner(
		f.registry, f.store, f.scopes, f.reporter,
		hook.NewRegistry(slog.Default()),
		audit.DefaultClaimPolicy(),
		slog.Default(),
	)
	return f
}

func appendEvent(t *testing.T, s *memory.Store, action string) *audit.Event {
	t.Helper()
	now := time.Now().UTC()
	e := &audit.Event{
		Entity:   central.NewEntity(),
		ID:       id.NewEventID(),
		Action:   action,
		ActorID:  "actor_test",
		Details:  []byte(`{}`),
		LoggedAt: now.Add(-time.Minute),
	}
	if err := s.AppendEvent(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	return e
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for continuation")
	}
}

// ──────────────────────────────────────────────────
// Pre-check tests
// ──────────────────────────────────────────────────

func TestDispatch_NilEvent(t *testing.T) {
	f := setupRunner(t)

	var invoked atomic.Bool
	accepted := f.runner.Dispatch(context.Background(), nil, func() { invoked.Store(true) })
	if accepted {
		t.Fatal("expected false for nil event")
	}

	time.Sleep(50 * time.Millisecond)
	if invoked.Load() {
		t.Fatal("continuation must not fire for a rejected dispatch")
	}
}

func TestDispatch_NoRegisteredHandlers(t *testing.T) {
	f := setupRunner(t)
	e := appendEvent(t, f.store, "unmatched.action")

	var invoked atomic.Bool
	accepted := f.runner.Dispatch(context.Background(), e, func() { invoked.Store(true) })
	if accepted {
		t.Fatal("expected false for an action with no handlers")
	}

	time.Sleep(50 * time.Millisecond)
	if invoked.Load() {
		t.Fatal("continuation must not fire for a rejected dispatch")
	}
	if f.scopes.begins.Load() != 0 {
		t.Fatal("no scope should be opened for a rejected dispatch")
	}
}

// ──────────────────────────────────────────────────
// Success path tests
// ──────────────────────────────────────────────────

func TestDispatch_AllHandlersRunBeforeContinuation(t *testing.T) {
	f := setupRunner(t)

	const n = 4
	var ran atomic.Int32
	for range n {
		f.registry.Register("submission.create", func(_ context.Context, _ *audit.Event) error {
			ran.Add(1)
			return nil
		})
	}

	e := appendEvent(t, f.store, "submission.create")

	done := make(chan struct{})
	var fires atomic.Int32
	accepted := f.runner.Dispatch(context.Background(), e, func() {
		fires.Add(1)
		close(done)
	})
	if !accepted {
		t.Fatal("expected dispatch to be accepted")
	}
	waitDone(t, done)

	if got := ran.Load(); got != n {
		t.Errorf("handlers run = %d, want %d", got, n)
	}
	if got := fires.Load(); got != 1 {
		t.Errorf("continuation fired %d times, want exactly 1", got)
	}
}

func TestDispatch_Success_MarksProcessedAndCommits(t *testing.T) {
	f := setupRunner(t)

	f.registry.Register("form.create", func(ctx context.Context, _ *audit.Event) error {
		if ctx.Value(scopeKey{}) == nil {
			t.Error("handler should run with the transactional context")
		}
		return nil
	})

	e := appendEvent(t, f.store, "form.create")

	done := make(chan struct{})
	before := time.Now().UTC()
	if !f.runner.Dispatch(context.Background(), e, func() { close(done) }) {
		t.Fatal("expected dispatch to be accepted")
	}
	waitDone(t, done)

	got, err := f.store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsProcessed() {
		t.Fatal("event should be processed")
	}
	if got.Processed.Before(before) {
		t.Errorf("Processed = %v, should be recent", got.Processed)
	}
	if got.Failures != 0 {
		t.Errorf("Failures = %d, want 0", got.Failures)
	}

	if f.scopes.commits.Load() != 1 {
		t.Errorf("commits = %d, want 1", f.scopes.commits.Load())
	}
	if f.scopes.rollbacks.Load() != 0 {
		t.Errorf("rollbacks = %d, want 0", f.scopes.rollbacks.Load())
	}
	if len(f.reporter.reported()) != 0 {
		t.Error("nothing should be reported on success")
	}
}

// ──────────────────────────────────────────────────
// Failure path tests
// ──────────────────────────────────────────────────

func TestDispatch_HandlerFailure_Bookkeeping(t *testing.T) {
	f := setupRunner(t)

	handlerErr := errors.New("downstream unavailable")
	f.registry.Register("form.update", func(_ context.Context, _ *audit.Event) error {
		return nil
	})
	f.registry.Register("form.update", func(_ context.Context, _ *audit.Event) error {
		return handlerErr
	})

	e := appendEvent(t, f.store, "form.update")

	done := make(chan struct{})
	before := time.Now().UTC()
	if !f.runner.Dispatch(context.Background(), e, func() { close(done) }) {
		t.Fatal("expected dispatch to be accepted")
	}
	waitDone(t, done)

	got, err := f.store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsProcessed() {
		t.Fatal("event must not be processed after a handler failure")
	}
	if got.Failures != 1 {
		t.Errorf("Failures = %d, want 1", got.Failures)
	}
	if got.LastFailure == nil || got.LastFailure.Before(before) {
		t.Errorf("LastFailure = %v, should be recent", got.LastFailure)
	}
	if got.Claimed != nil {
		t.Error("claim should be released after a failure")
	}

	if f.scopes.rollbacks.Load() != 1 {
		t.Errorf("rollbacks = %d, want 1", f.scopes.rollbacks.Load())
	}
	if f.scopes.commits.Load() != 0 {
		t.Errorf("commits = %d, want 0", f.scopes.commits.Load())
	}

	reported := f.reporter.reported()
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
	if !errors.Is(reported[0], handlerErr) {
		t.Errorf("reported %v, want %v", reported[0], handlerErr)
	}
}

func TestDispatch_ReporterPanic_BookkeepingStillCompletes(t *testing.T) {
	f := setupRunner(t)
	panicking := reporter.Func(func(_ context.Context, _ error) error {
		panic("reporter exploded")
	})
	f.runner = worker.NewRunner(
		f.registry, f.store, f.scopes, panicking,
		hook.NewRegistry(slog.Default()),
		audit.DefaultClaimPolicy(),
		slog.Default(),
	)

	f.registry.Register("user.delete", func(_ context.Context, _ *audit.Event) error {
		return errors.New("boom")
	})

	e := appendEvent(t, f.store, "user.delete")

	done := make(chan struct{})
	if !f.runner.Dispatch(context.Background(), e, func() { close(done) }) {
		t.Fatal("expected dispatch to be accepted")
	}
	waitDone(t, done)

	got, err := f.store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Failures != 1 {
		t.Errorf("Failures = %d, want 1 despite reporter panic", got.Failures)
	}
	if got.Claimed != nil {
		t.Error("claim should be released despite reporter panic")
	}
}

func TestDispatch_HandlerPanic_TreatedAsFailure(t *testing.T) {
	// No middleware: the runner itself must contain a handler panic and
	// run the failure bookkeeping.
	f := setupRunner(t)

	f.registry.Register("submission.create", func(_ context.Context, _ *audit.Event) error {
		panic("handler exploded")
	})

	e := appendEvent(t, f.store, "submission.create")

	done := make(chan struct{})
	if !f.runner.Dispatch(context.Background(), e, func() { close(done) }) {
		t.Fatal("expected dispatch to be accepted")
	}
	waitDone(t, done)

	got, err := f.store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsProcessed() {
		t.Fatal("event must not be processed after a handler panic")
	}
	if got.Failures != 1 {
		t.Errorf("Failures = %d, want 1", got.Failures)
	}
	if got.Claimed != nil {
		t.Error("claim should be released after a handler panic")
	}

	if f.scopes.rollbacks.Load() != 1 {
		t.Errorf("rollbacks = %d, want 1", f.scopes.rollbacks.Load())
	}
	if f.scopes.commits.Load() != 0 {
		t.Errorf("commits = %d, want 0", f.scopes.commits.Load())
	}

	reported := f.reporter.reported()
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
}

func TestDispatch_ExhaustionFiresHook(t *testing.T) {
	f := setupRunner(t)
	policy := audit.DefaultClaimPolicy()

	hooks := hook.NewRegistry(slog.Default())
	tracker := &exhaustionTracker{}
	hooks.Register(tracker)
	f.runner = worker.NewRunner(
		f.registry, f.store, f.scopes, f.reporter, hooks, policy, slog.Default(),
	)

	f.registry.Register("submission.update", func(_ context.Context, _ *audit.Event) error {
		return errors.New("still broken")
	})

	e := appendEvent(t, f.store, "submission.update")
	// One failure away from the cap.
	if err := f.store.MarkEventFailed(context.Background(), e.ID, policy.RetryCap-1, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	e.Failures = policy.RetryCap - 1

	done := make(chan struct{})
	if !f.runner.Dispatch(context.Background(), e, func() { close(done) }) {
		t.Fatal("expected dispatch to be accepted")
	}
	waitDone(t, done)

	if !tracker.failed.Load() {
		t.Error("EventFailed hook should fire")
	}
	if !tracker.exhausted.Load() {
		t.Error("EventExhausted hook should fire at the retry cap")
	}

	got, err := f.store.GetEvent(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsDead(policy.RetryCap) {
		t.Errorf("event with %d failures should be dead at cap %d", got.Failures, policy.RetryCap)
	}
}

type exhaustionTracker struct {
	failed    atomic.Bool
	exhausted atomic.Bool
}

func (x *exhaustionTracker) Name() string { return "exhaustion-tracker" }

func (x *exhaustionTracker) OnEventFailed(_ context.Context, _ *audit.Event, _ error) error {
	x.failed.Store(true)
	return nil
}

func (x *exhaustionTracker) OnEventExhausted(_ context.Context, _ *audit.Event, _ error) error {
	x.exhausted.Store(true)
	return nil
}
