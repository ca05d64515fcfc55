package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/kakavi/central-backend/audit"
)

// Logging returns middleware that logs handler start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, e *audit.Event, next Handler) error {
		logger.Info("event handler started",
			slog.String("action", e.Action),
			slog.String("event_id", e.ID.String()),
			slog.Int("failures", e.Failures),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("event handler failed",
				slog.String("action", e.Action),
				slog.String("event_id", e.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("event handler completed",
				slog.String("action", e.Action),
				slog.String("event_id", e.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
