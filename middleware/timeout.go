package middleware

import (
	"context"
	"time"

	"github.com/kakavi/central-backend/audit"
)

// Timeout returns middleware that enforces an execution deadline on every
// handler call. Events carry no per-action deadline, so a single duration
// applies uniformly. When the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded.
//
// A non-positive duration disables the deadline and the middleware becomes
// a pass-through.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *audit.Event, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
