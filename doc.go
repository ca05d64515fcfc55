// Package central provides the asynchronous side-effect layer of the
// Central record-keeping backend. Domain actions are appended as durable
// audit events, and a background dispatcher later runs registered job
// handlers against those events — sending notifications, materializing
// derived state — without blocking the request that created the event.
//
// Central is designed as a library, not a service. Import it, configure a
// store, register jobs against audit actions, and start the dispatcher.
//
// # Quick Start
//
//	d, err := central.New(
//	    central.WithStore(pgStore),
//	    central.WithConcurrency(2),
//	)
//
// # Architecture
//
// The audit package defines the event model and the store contract; a
// single backend (store/memory, store/postgres, store/redis) implements
// it. The worker package holds the Checker, which atomically claims the
// oldest eligible unprocessed event under a retry/backoff policy, and the
// Runner, which executes all jobs registered for the event's action
// inside one transactional scope and reconciles the outcome back into the
// event's persisted state. The engine package wires everything together.
//
// Delivery semantics are exactly-once-effective over an at-least-once
// polling substrate: a claim is atomic with its eligibility read, a
// processed event is never claimed again, and a failed attempt unclaims
// the event so another worker can retry it after the backoff interval.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package central
