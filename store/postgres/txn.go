package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kakavi/central-backend/txn"
)

// txKey is the context key carrying an open pgx transaction.
type txKey struct{}

// Scopes is a txn.Provider backed by pgx transactions. The derived
// context carries the transaction; Store methods called with it join
// the transaction, so job writes and the processed mark commit or roll
// back together.
type Scopes struct {
	pool *pgxpool.Pool
}

var _ txn.Provider = (*Scopes)(nil)

// NewScopes creates a transactional scope provider over the pool.
func NewScopes(pool *pgxpool.Pool) *Scopes {
	return &Scopes{pool: pool}
}

// Scopes returns a scope provider over the store's own pool.
func (s *Store) Scopes() txn.Provider { return NewScopes(s.pool) }

// Begin implements txn.Provider.
func (s *Scopes) Begin(ctx context.Context) (txn.Scope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("central/postgres: begin: %w", err)
	}
	return &scope{
		tx:  tx,
		ctx: context.WithValue(ctx, txKey{}, tx),
	}, nil
}

type scope struct {
	tx  pgx.Tx
	ctx context.Context
}

func (s *scope) Context() context.Context { return s.ctx }

func (s *scope) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

// Rollback tolerates an already-closed transaction so it is safe to
// call after a failed Commit.
func (s *scope) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// querier is the subset of pool/transaction operations the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db returns the transaction carried by ctx, or the pool when ctx has
// none.
func (s *Store) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}
