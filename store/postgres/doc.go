// Package postgres implements the audit event store using pgx/v5 with
// raw SQL. Features: SKIP LOCKED atomic claim, transactional scopes
// shared with job handlers, embedded SQL migrations.
package postgres
