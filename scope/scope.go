// Package scope carries actor identity through context.Context.
//
// Request-handling layers attach the acting user once; everything
// downstream (the audit recorder in particular) reads it back instead
// of threading an actor parameter through every call.
package scope

import "context"

// actorKey is the context key carrying the actor identifier.
type actorKey struct{}

// WithActor attaches an actor identifier to the context.
// An empty id returns the context unchanged.
func WithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

// Actor extracts the actor identifier from the context.
// Returns the empty string if none is present.
func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}
