// Package hook defines the lifecycle hook system for the audit pipeline.
// Hooks are notified as events move through their lifecycle (claimed,
// processed, failed, exhausted) and can react to them for logging,
// metrics, alerting, and similar cross-cutting concerns.
//
// Each lifecycle notification is a separate interface so an extension
// opts in only to the notifications it cares about.
package hook

import (
	"context"
	"time"

	"github.com/kakavi/central-backend/audit"
)

// Extension is the base interface all hook extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Event lifecycle hooks
// ──────────────────────────────────────────────────

// EventClaimed is called after a worker claims an event for processing.
type EventClaimed interface {
	OnEventClaimed(ctx context.Context, e *audit.Event) error
}

// EventProcessed is called after every handler for an event ran and the
// outcome was committed.
type EventProcessed interface {
	OnEventProcessed(ctx context.Context, e *audit.Event, elapsed time.Duration) error
}

// EventFailed is called when an event's handlers fail and the event is
// returned to the backlog for retry.
type EventFailed interface {
	OnEventFailed(ctx context.Context, e *audit.Event, err error) error
}

// EventExhausted is called when a failure pushes an event to its retry
// cap, removing it from further automatic processing.
type EventExhausted interface {
	OnEventExhausted(ctx context.Context, e *audit.Event, err error) error
}

// EventRevived is called when an operator replays an exhausted event.
type EventRevived interface {
	OnEventRevived(ctx context.Context, e *audit.Event) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
