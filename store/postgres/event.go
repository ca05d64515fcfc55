package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/id"
)

// eventColumns is the column list shared by every event query.
const eventColumns = `id, action, actor_id, details, logged_at, claimed, processed, failures, last_failure, created_at, updated_at`

// AppendEvent persists a new event.
func (s *Store) AppendEvent(ctx context.Context, e *audit.Event) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO central_audits (
			id, action, actor_id, details, logged_at, claimed, processed,
			failures, last_failure, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11
		)`,
		e.ID.String(), e.Action, e.ActorID, e.Details, e.LoggedAt,
		e.Claimed, e.Processed, e.Failures, e.LastFailure,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return central.ErrEventAlreadyExists
		}
		return fmt.Errorf("central/postgres: append event: %w", err)
	}
	return nil
}

// ClaimNextEvent atomically claims the single oldest eligible event.
// The eligibility predicate, the oldest-first selection, and the claim
// stamp all execute in one statement; SKIP LOCKED keeps concurrent
// claimants from blocking on or double-claiming the same row. The
// per-failure-count backoff cutoffs arrive as a timestamptz array
// indexed by the row's own failure count.
func (s *Store) ClaimNextEvent(ctx context.Context, policy audit.ClaimPolicy) (*audit.Event, error) {
	now := time.Now().UTC()

	row := s.db(ctx).QueryRow(ctx, `
		WITH next AS (
			UPDATE central_audits
			SET claimed = $1, updated_at = $1
			WHERE id IN (
				SELECT id FROM central_audits
				WHERE processed IS NULL
				  AND (claimed IS NULL OR claimed <= $2)
				  AND failures < $3
				  AND (last_failure IS NULL OR last_failure <= ($4::timestamptz[])[failures + 1])
				ORDER BY logged_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+eventColumns+`
		)
		SELECT `+eventColumns+` FROM next`,
		now, policy.StaleCutoff(now), policy.RetryCap, policy.RetryCutoffs(now),
	)

	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("central/postgres: claim next event: %w", err)
	}
	return e, nil
}

// MarkEventProcessed records terminal success. Called with a scope
// context it joins the open transaction, so the mark commits or rolls
// back with the handlers' own writes.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID id.EventID, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE central_audits
		SET processed = $2, updated_at = $2
		WHERE id = $1`,
		eventID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("central/postgres: mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return central.ErrEventNotFound
	}
	return nil
}

// MarkEventFailed records a failed attempt and releases the claim.
func (s *Store) MarkEventFailed(ctx context.Context, eventID id.EventID, failures int, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE central_audits
		SET failures = $2, last_failure = $3, claimed = NULL, updated_at = $3
		WHERE id = $1`,
		eventID.String(), failures, at,
	)
	if err != nil {
		return fmt.Errorf("central/postgres: mark event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return central.ErrEventNotFound
	}
	return nil
}

// ReviveEvent resets retry bookkeeping so the event is claimable again.
func (s *Store) ReviveEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE central_audits
		SET failures = 0, last_failure = NULL, claimed = NULL, updated_at = NOW()
		WHERE id = $1 AND processed IS NULL`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("central/postgres: revive event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already processed.
		if _, getErr := s.GetEvent(ctx, eventID); getErr != nil {
			return getErr
		}
		return central.ErrEventProcessed
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*audit.Event, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM central_audits
		WHERE id = $1`,
		eventID.String(),
	)

	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, central.ErrEventNotFound
		}
		return nil, fmt.Errorf("central/postgres: get event: %w", err)
	}
	return e, nil
}

// ListEvents returns events matching the options, oldest first.
func (s *Store) ListEvents(ctx context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	where, args := eventFilter(opts.Action, opts.Processed, opts.MinFailures)

	query := `SELECT ` + eventColumns + ` FROM central_audits` + where +
		` ORDER BY logged_at ASC, id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(opts.Offset)
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("central/postgres: list events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountEvents returns the number of events matching the options.
func (s *Store) CountEvents(ctx context.Context, opts audit.CountOpts) (int64, error) {
	where, args := eventFilter(opts.Action, opts.Processed, opts.MinFailures)

	var n int64
	err := s.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM central_audits`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("central/postgres: count events: %w", err)
	}
	return n, nil
}

// PurgeEvents removes unprocessed events logged before the given time
// with at least minFailures failures.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time, minFailures int) (int64, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		DELETE FROM central_audits
		WHERE processed IS NULL
		  AND logged_at < $1
		  AND failures >= $2`,
		before, minFailures,
	)
	if err != nil {
		return 0, fmt.Errorf("central/postgres: purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// eventFilter builds the shared WHERE clause for list and count.
func eventFilter(action string, processed *bool, minFailures int) (string, []any) {
	var conds []string
	var args []any

	if action != "" {
		args = append(args, action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if processed != nil {
		if *processed {
			conds = append(conds, "processed IS NOT NULL")
		} else {
			conds = append(conds, "processed IS NULL")
		}
	}
	if minFailures > 0 {
		args = append(args, minFailures)
		conds = append(conds, fmt.Sprintf("failures >= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// scanEvent scans a single event row.
func scanEvent(row pgx.Row) (*audit.Event, error) {
	var (
		e     audit.Event
		idStr string
	)
	err := row.Scan(
		&idStr, &e.Action, &e.ActorID, &e.Details, &e.LoggedAt,
		&e.Claimed, &e.Processed, &e.Failures, &e.LastFailure,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseEventID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("central/postgres: parse event id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}

// collectEvents collects all events from query rows.
func collectEvents(rows pgx.Rows) ([]*audit.Event, error) {
	var events []*audit.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("central/postgres: scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("central/postgres: iterate event rows: %w", err)
	}
	return events, nil
}
