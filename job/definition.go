package job

import (
	"context"

	"github.com/kakavi/central-backend/audit"
)

// Definition is a typed job definition. T is the shape of the event
// Details payload the handler expects (must be JSON-deserializable).
type Definition[T any] struct {
	// Action is the audit action name this job listens on.
	Action string

	// Handler is the function that performs the side effect. It runs
	// inside the transactional scope the runner opened for the event.
	Handler func(ctx context.Context, e *audit.Event, details T) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](action string, handler func(ctx context.Context, e *audit.Event, details T) error) *Definition[T] {
	return &Definition[T]{
		Action:  action,
		Handler: handler,
	}
}
