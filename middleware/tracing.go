package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kakavi/central-backend/audit"
)

// tracerName is the instrumentation scope name for audit pipeline tracing.
const tracerName = "github.com/kakavi/central-backend"

// Tracing returns middleware that wraps handler execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: audit.event.id, audit.event.action,
// audit.event.actor_id, audit.event.failures.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *audit.Event, next Handler) error {
		ctx, span := tracer.Start(ctx, "audit.event.process",
			trace.WithAttributes(
				attribute.String("audit.event.id", e.ID.String()),
				attribute.String("audit.event.action", e.Action),
				attribute.String("audit.event.actor_id", e.ActorID),
				attribute.Int("audit.event.failures", e.Failures),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
