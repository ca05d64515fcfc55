package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kakavi/central-backend/audit"
)

// HandlerFunc is a type-erased job handler. It receives the context of
// the transactional scope the runner opened for the event, and the
// event itself. Returning a non-nil error fails the whole attempt.
type HandlerFunc func(ctx context.Context, e *audit.Event) error

// Registry maps action names to ordered lists of job handlers.
// It is safe for concurrent use, though in practice registration
// happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]HandlerFunc),
	}
}

// Register appends a handler to the list for the given action.
// Handlers registered for the same action are independent jobs: the
// runner awaits all of them and each one must succeed for the event to
// be marked processed.
func (r *Registry) Register(action string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = append(r.handlers[action], h)
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the event's
// Details into T before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, e *audit.Event) error {
		var t T
		if len(e.Details) > 0 {
			if err := json.Unmarshal(e.Details, &t); err != nil {
				return fmt.Errorf("unmarshal details for action %q: %w", def.Action, err)
			}
		}
		return def.Handler(ctx, e, t)
	}

	r.Register(def.Action, handler)
}

// Get returns the ordered handler list for the given action.
// Returns false if no handler is registered.
func (r *Registry) Get(action string) ([]HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs, ok := r.handlers[action]
	return hs, ok && len(hs) > 0
}

// Actions returns all action names with at least one registered handler.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	return actions
}
