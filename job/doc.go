// Package job defines the side-effect job handlers that run against
// audit events, and the registry that maps action names to them.
//
// # Defining a Job
//
// A job is an ordinary Go function. Use [Definition] with a typed input
// when the handler cares about the event's Details payload — it is
// JSON-decoded before the handler runs:
//
//	var SubmissionAttachmentCreated = job.NewDefinition("submission.attachment.create",
//	    func(ctx context.Context, e *audit.Event, input AttachmentDetails) error {
//	        return notifier.AttachmentCreated(ctx, e.ActorID, input.BlobID)
//	    },
//	)
//
// Handlers that only need the raw event register a [HandlerFunc]
// directly via [Registry.Register].
//
// # Registry
//
// [Registry] maps each action name to an ordered list of handlers.
// Several independent jobs may listen on the same action; the runner
// executes all of them and the event is marked processed only when
// every one succeeds. The mapping is assembled at startup and is
// immutable for the process lifetime as far as the dispatcher is
// concerned — an action with no registered handlers is a defined
// "no match", not an error.
package job
