package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/kakavi/central-backend/audit"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type eventClaimedEntry struct {
	name string
	hook EventClaimed
}

type eventProcessedEntry struct {
	name string
	hook EventProcessed
}

type eventFailedEntry struct {
	name string
	hook EventFailed
}

type eventExhaustedEntry struct {
	name string
	hook EventExhausted
}

type eventRevivedEntry struct {
	name string
	hook EventRevived
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	eventClaimed   []eventClaimedEntry
	eventProcessed []eventProcessedEntry
	eventFailed    []eventFailedEntry
	eventExhausted []eventExhaustedEntry
	eventRevived   []eventRevivedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(EventClaimed); ok {
		r.eventClaimed = append(r.eventClaimed, eventClaimedEntry{name, h})
	}
	if h, ok := e.(EventProcessed); ok {
		r.eventProcessed = append(r.eventProcessed, eventProcessedEntry{name, h})
	}
	if h, ok := e.(EventFailed); ok {
		r.eventFailed = append(r.eventFailed, eventFailedEntry{name, h})
	}
	if h, ok := e.(EventExhausted); ok {
		r.eventExhausted = append(r.eventExhausted, eventExhaustedEntry{name, h})
	}
	if h, ok := e.(EventRevived); ok {
		r.eventRevived = append(r.eventRevived, eventRevivedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions in registration order.
func (r *Registry) Extensions() []Extension {
	return r.extensions
}

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitEventClaimed notifies all extensions that implement EventClaimed.
func (r *Registry) EmitEventClaimed(ctx context.Context, e *audit.Event) {
	for _, entry := range r.eventClaimed {
		r.invoke("OnEventClaimed", entry.name, func() error {
			return entry.hook.OnEventClaimed(ctx, e)
		})
	}
}

// EmitEventProcessed notifies all extensions that implement EventProcessed.
func (r *Registry) EmitEventProcessed(ctx context.Context, e *audit.Event, elapsed time.Duration) {
	for _, entry := range r.eventProcessed {
		r.invoke("OnEventProcessed", entry.name, func() error {
			return entry.hook.OnEventProcessed(ctx, e, elapsed)
		})
	}
}

// EmitEventFailed notifies all extensions that implement EventFailed.
func (r *Registry) EmitEventFailed(ctx context.Context, e *audit.Event, evErr error) {
	for _, entry := range r.eventFailed {
		r.invoke("OnEventFailed", entry.name, func() error {
			return entry.hook.OnEventFailed(ctx, e, evErr)
		})
	}
}

// EmitEventExhausted notifies all extensions that implement EventExhausted.
func (r *Registry) EmitEventExhausted(ctx context.Context, e *audit.Event, evErr error) {
	for _, entry := range r.eventExhausted {
		r.invoke("OnEventExhausted", entry.name, func() error {
			return entry.hook.OnEventExhausted(ctx, e, evErr)
		})
	}
}

// EmitEventRevived notifies all extensions that implement EventRevived.
func (r *Registry) EmitEventRevived(ctx context.Context, e *audit.Event) {
	for _, entry := range r.eventRevived {
		r.invoke("OnEventRevived", entry.name, func() error {
			return entry.hook.OnEventRevived(ctx, e)
		})
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, entry := range r.shutdown {
		r.invoke("OnShutdown", entry.name, func() error {
			return entry.hook.OnShutdown(ctx)
		})
	}
}

// invoke runs a single hook, logging any returned error or recovered
// panic. Extensions can never break the event pipeline.
func (r *Registry) invoke(hook, extName string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("extension hook panicked",
				slog.String("hook", hook),
				slog.String("extension", extName),
				slog.Any("panic", rec),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, extName, err)
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
