// Package reporter defines the best-effort sink for unexpected errors.
// The runner reports every handler failure through a Reporter; a
// reporter's own error or panic is swallowed by the caller and must
// never block the failure bookkeeping that follows.
package reporter

import (
	"context"
	"log/slog"
)

// Reporter receives unexpected errors for external surfacing (an error
// tracker, a pager, a log aggregator). Implementations should be fast;
// the runner calls Report before persisting failure bookkeeping.
type Reporter interface {
	Report(ctx context.Context, err error) error
}

// Func adapts a plain function to a Reporter.
type Func func(ctx context.Context, err error) error

// Report implements Reporter.
func (f Func) Report(ctx context.Context, err error) error {
	return f(ctx, err)
}

// Slog returns a Reporter that logs errors at ERROR level. It is the
// default when no external reporter is configured.
func Slog(logger *slog.Logger) Reporter {
	return Func(func(_ context.Context, err error) error {
		logger.Error("unexpected error reported", slog.String("error", err.Error()))
		return nil
	})
}

// Multi fans a report out to several reporters. Each reporter is called
// even if an earlier one fails; the first error is returned.
func Multi(reporters ...Reporter) Reporter {
	return Func(func(ctx context.Context, err error) error {
		var first error
		for _, r := range reporters {
			if rErr := r.Report(ctx, err); rErr != nil && first == nil {
				first = rErr
			}
		}
		return first
	})
}
