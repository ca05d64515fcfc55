// Package engine wires all Central subsystems together and provides
// the primary application-level API for recording audit events and
// registering the jobs that react to them.
//
// The engine package exists to break a fundamental import cycle: the
// root central package defines Entity (imported by audit, job, and the
// stores) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	d, err := central.New(
//	    central.WithStore(pgStore),
//	    central.WithConcurrency(4),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithHook(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithBackoff(backoff.NewConstant(10*time.Minute)),
//	)
//
// # Registering Jobs
//
//	engine.Register(eng, job.NewDefinition("submission.create",
//	    func(ctx context.Context, e *audit.Event, d SubmissionDetails) error {
//	        ...
//	    }))
//
// # Recording Events
//
//	eng.Record(ctx, "submission.create", actor.ID, details)
//
// # Options
//
//   - [WithHook] — register a lifecycle hook extension
//   - [WithMiddleware] — add a middleware to the handler chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithScopes] — set the transactional scope provider
//   - [WithReporter] — set the error reporter
//   - [WithClaimRateLimit] — cap the pool's claim rate
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
