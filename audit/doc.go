// Package audit defines the durable audit event model, the store
// contract that backends implement, and the claim policy that decides
// when an unprocessed event is eligible for dispatch.
//
// An [Event] is written once by domain code (via [Recorder]) and then
// driven through its lifecycle by the worker package: claimed by the
// checker, processed or failed by the runner. The event row is the unit
// of mutual exclusion — the Claimed timestamp acts as an advisory,
// time-bounded lock, and [Store.ClaimNextEvent] must be atomic with its
// eligibility read so two concurrent workers can never claim the same
// event.
package audit
