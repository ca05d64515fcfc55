package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/hook"
	"github.com/kakavi/central-backend/job"
	"github.com/kakavi/central-backend/middleware"
	"github.com/kakavi/central-backend/reporter"
	"github.com/kakavi/central-backend/txn"
)

// Runner executes a claimed event's handlers inside one transactional
// scope, then handles the processed/failed bookkeeping and lifecycle
// events.
type Runner struct {
	registry *job.Registry
	store    audit.Store
	scopes   txn.Provider
	reporter reporter.Reporter
	hooks    *hook.Registry
	policy   audit.ClaimPolicy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewRunner creates a Runner with the given dependencies.
func NewRunner(
	registry *job.Registry,
	store audit.Store,
	scopes txn.Provider,
	rep reporter.Reporter,
	hooks *hook.Registry,
	policy audit.ClaimPolicy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Runner {
	return &Runner{
		registry: registry,
		store:    store,
		scopes:   scopes,
		reporter: rep,
		hooks:    hooks,
		policy:   policy,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Dispatch schedules asynchronous execution of the event's handlers.
//
// The pre-check runs synchronously: a nil event or an action with no
// registered handlers returns false and done is never invoked. On true,
// done is guaranteed to be invoked exactly once after the asynchronous
// work completes, whatever the outcome — that is the caller's signal to
// poll for more work.
func (r *Runner) Dispatch(ctx context.Context, e *audit.Event, done func()) bool {
	if e == nil {
		return false
	}
	handlers, ok := r.registry.Get(e.Action)
	if !ok {
		return false
	}

	go func() {
		defer done()
		r.run(ctx, e, handlers)
	}()
	return true
}

// run executes all handlers in one transactional scope and reconciles
// the event's state from the outcome.
func (r *Runner) run(ctx context.Context, e *audit.Event, handlers []job.HandlerFunc) {
	start := time.Now()

	scope, err := r.scopes.Begin(ctx)
	if err != nil {
		r.handleFailure(ctx, e, err)
		return
	}

	handlerErr := r.runHandlers(scope.Context(), e, handlers)
	if handlerErr != nil {
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			r.logger.Error("rollback failed",
				slog.String("event_id", e.ID.String()),
				slog.String("error", rbErr.Error()),
			)
		}
		r.handleFailure(ctx, e, handlerErr)
		return
	}

	now := time.Now().UTC()
	if markErr := r.store.MarkEventProcessed(scope.Context(), e.ID, now); markErr != nil {
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			r.logger.Error("rollback failed",
				slog.String("event_id", e.ID.String()),
				slog.String("error", rbErr.Error()),
			)
		}
		r.handleFailure(ctx, e, markErr)
		return
	}
	if commitErr := scope.Commit(ctx); commitErr != nil {
		// Rollback after a failed commit releases the scope.
		_ = scope.Rollback(ctx)
		r.handleFailure(ctx, e, commitErr)
		return
	}

	e.Processed = &now
	e.UpdatedAt = now
	r.hooks.EmitEventProcessed(ctx, e, time.Since(start))
}

// runHandlers invokes every handler through the middleware chain,
// concurrently, and waits for all of them. Any single failure fails the
// attempt.
func (r *Runner) runHandlers(ctx context.Context, e *audit.Event, handlers []job.HandlerFunc) error {
	if len(handlers) == 1 {
		return r.callHandler(ctx, e, handlers[0])
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h job.HandlerFunc) {
			defer wg.Done()
			errs[i] = r.callHandler(ctx, e, h)
		}(i, h)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// callHandler runs one handler through the middleware chain. A panic
// that escapes the chain becomes an error so the failure bookkeeping
// still runs; the chain may recover earlier for richer logging.
func (r *Runner) callHandler(ctx context.Context, e *audit.Event, h job.HandlerFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic handling %s: %v", e.Action, rec)
		}
	}()
	return r.mw(ctx, e, func(ctx context.Context) error { return h(ctx, e) })
}

// handleFailure reports the error, then persists the failure
// bookkeeping outside the rolled-back scope: failure count up one, last
// failure stamped, claim released.
func (r *Runner) handleFailure(ctx context.Context, e *audit.Event, handlerErr error) {
	r.report(ctx, handlerErr)

	now := time.Now().UTC()
	failures := e.Failures + 1

	if markErr := r.store.MarkEventFailed(ctx, e.ID, failures, now); markErr != nil {
		r.logger.Error("failed to record event failure",
			slog.String("event_id", e.ID.String()),
			slog.String("action", e.Action),
			slog.String("error", markErr.Error()),
		)
	} else {
		e.Failures = failures
		e.LastFailure = &now
		e.Claimed = nil
		e.UpdatedAt = now
	}

	r.hooks.EmitEventFailed(ctx, e, handlerErr)

	if e.Failures >= r.policy.RetryCap {
		r.hooks.EmitEventExhausted(ctx, e, handlerErr)
		r.logger.Warn("event exhausted its retry budget",
			slog.String("event_id", e.ID.String()),
			slog.String("action", e.Action),
			slog.Int("failures", e.Failures),
			slog.String("error", handlerErr.Error()),
		)
		return
	}

	r.logger.Info("event failed, eligible for retry after backoff",
		slog.String("event_id", e.ID.String()),
		slog.String("action", e.Action),
		slog.Int("failures", e.Failures),
		slog.String("error", handlerErr.Error()),
	)
}

// report sends the error to the exception reporter. The reporter's own
// errors and panics are swallowed so they can never short-circuit the
// failure bookkeeping.
func (r *Runner) report(ctx context.Context, handlerErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("exception reporter panicked",
				slog.Any("panic", rec),
			)
		}
	}()
	if repErr := r.reporter.Report(ctx, handlerErr); repErr != nil {
		r.logger.Warn("exception reporter failed",
			slog.String("error", repErr.Error()),
		)
	}
}
