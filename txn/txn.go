// Package txn defines the transactional scope contract the runner uses
// to isolate job side effects. A Scope derives a context bound to a new
// data-store transaction; everything a job writes through that context
// commits or rolls back as one unit, together with the event's
// processed mark.
//
// store/postgres provides the production implementation over pgx
// transactions. [Nop] is for backends without transactions and for
// tests that only observe the commit/rollback protocol.
package txn

import "context"

// Scope is one open transaction. Exactly one of Commit or Rollback must
// be called on every Scope, on every exit path.
type Scope interface {
	// Context returns the derived context carrying the transaction.
	// Store and job writes made with it join the transaction.
	Context() context.Context

	// Commit makes the scope's writes durable.
	Commit(ctx context.Context) error

	// Rollback discards the scope's writes. Safe to call after a failed
	// Commit; implementations must tolerate double release.
	Rollback(ctx context.Context) error
}

// Provider opens transactional scopes.
type Provider interface {
	// Begin derives a new scope from the base context.
	Begin(ctx context.Context) (Scope, error)
}

// Nop is a Provider whose scopes carry no transaction: the derived
// context is the base context and Commit/Rollback are no-ops. Use it
// with store backends that apply writes immediately (memory, redis).
type Nop struct{}

// Begin implements Provider.
func (Nop) Begin(ctx context.Context) (Scope, error) {
	return nopScope{ctx: ctx}, nil
}

type nopScope struct {
	ctx context.Context
}

func (s nopScope) Context() context.Context        { return s.ctx }
func (nopScope) Commit(context.Context) error      { return nil }
func (nopScope) Rollback(context.Context) error    { return nil }
