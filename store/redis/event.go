package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	central "github.com/kakavi/central-backend"
	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/id"
)

// claimBatch bounds how many backlog entries a single claim scan
// inspects. The backlog is sorted oldest-first, so the window only
// matters when the oldest events are all backing off or claimed.
const claimBatch = 200

// claimScript atomically finds the oldest eligible event and stamps its
// claim. Running inside Redis makes check-and-claim a single step, so
// two concurrent workers can never claim the same event.
//
// KEYS[1] is the backlog sorted set. ARGV[1] is now, ARGV[2] the stale
// claim cutoff, ARGV[3] the retry cap, ARGV[4] the event key prefix,
// and ARGV[5..] one backoff cutoff per failure count. All times are
// unix milliseconds.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[5 + tonumber(ARGV[3])]))
for _, id in ipairs(ids) do
	local key = ARGV[4] .. id
	local f = redis.call('HMGET', key, 'processed', 'claimed', 'failures', 'last_failure')
	if not f[1] then
		local claimed = f[2]
		if (not claimed) or (tonumber(claimed) <= tonumber(ARGV[2])) then
			local failures = tonumber(f[3]) or 0
			if failures < tonumber(ARGV[3]) then
				local last = f[4]
				if (not last) or (tonumber(last) <= tonumber(ARGV[4 + failures + 1])) then
					redis.call('HSET', key, 'claimed', ARGV[1], 'updated_at', ARGV[1])
					return id
				end
			end
		end
	end
end
return false
`)

// AppendEvent persists a new event.
func (s *Store) AppendEvent(ctx context.Context, e *audit.Event) error {
	key := eventKey(e.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("central/redis: append event: %w", err)
	}
	if exists > 0 {
		return central.ErrEventAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, eventToMap(e))
	pipe.SAdd(ctx, eventIDsKey, e.ID.String())
	pipe.ZAdd(ctx, backlogKey, redis.Z{
		Score:  float64(e.LoggedAt.UnixMilli()),
		Member: e.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("central/redis: append event: %w", err)
	}
	return nil
}

// ClaimNextEvent atomically claims the oldest eligible event under the
// policy. Returns nil when no eligible event exists.
func (s *Store) ClaimNextEvent(ctx context.Context, policy audit.ClaimPolicy) (*audit.Event, error) {
	now := time.Now().UTC()

	argv := make([]interface{}, 0, 4+policy.RetryCap+1)
	argv = append(argv,
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(policy.StaleCutoff(now).UnixMilli(), 10),
		strconv.Itoa(policy.RetryCap),
		eventKeyPrefix,
	)
	for _, cutoff := range policy.RetryCutoffs(now) {
		argv = append(argv, strconv.FormatInt(cutoff.UnixMilli(), 10))
	}
	argv = append(argv, strconv.Itoa(claimBatch-1))

	res, err := claimScript.Run(ctx, s.client, []string{backlogKey}, argv...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("central/redis: claim event: %w", err)
	}

	eventID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("central/redis: claim event: unexpected script result %T", res)
	}
	parsed, err := id.ParseEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("central/redis: claim event: %w", err)
	}
	return s.GetEvent(ctx, parsed)
}

// MarkEventProcessed records terminal success and drops the event from
// the backlog. Redis has no transactional scopes, so the mark is
// immediate rather than deferred to a commit.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID id.EventID, at time.Time) error {
	key := eventKey(eventID.String())
	if err := s.requireEvent(ctx, key, eventID); err != nil {
		return err
	}

	ms := strconv.FormatInt(at.UnixMilli(), 10)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "processed", ms, "updated_at", ms)
	pipe.ZRem(ctx, backlogKey, eventID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("central/redis: mark event processed: %w", err)
	}
	return nil
}

// MarkEventFailed records a failed attempt and releases the claim so
// the event becomes eligible again after backoff.
func (s *Store) MarkEventFailed(ctx context.Context, eventID id.EventID, failures int, at time.Time) error {
	key := eventKey(eventID.String())
	if err := s.requireEvent(ctx, key, eventID); err != nil {
		return err
	}

	ms := strconv.FormatInt(at.UnixMilli(), 10)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"failures", strconv.Itoa(failures),
		"last_failure", ms,
		"updated_at", ms,
	)
	pipe.HDel(ctx, key, "claimed")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("central/redis: mark event failed: %w", err)
	}
	return nil
}

// ReviveEvent resets retry bookkeeping so an exhausted event becomes
// claimable again. Fails on processed events.
func (s *Store) ReviveEvent(ctx context.Context, eventID id.EventID) error {
	e, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.Processed != nil {
		return central.ErrEventProcessed
	}

	key := eventKey(eventID.String())
	ms := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "failures", "0", "updated_at", ms)
	pipe.HDel(ctx, key, "last_failure", "claimed")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("central/redis: revive event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*audit.Event, error) {
	fields, err := s.client.HGetAll(ctx, eventKey(eventID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("central/redis: get event: %w", err)
	}
	if len(fields) == 0 {
		return nil, central.ErrEventNotFound
	}
	return eventFromMap(eventID, fields)
}

// ListEvents returns events matching the options, oldest first with
// ties broken by ID.
func (s *Store) ListEvents(ctx context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	events, err := s.scanEvents(ctx, opts.Action, opts.Processed, opts.MinFailures)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].LoggedAt.Equal(events[j].LoggedAt) {
			return events[i].LoggedAt.Before(events[j].LoggedAt)
		}
		return events[i].ID.String() < events[j].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(events) {
			return []*audit.Event{}, nil
		}
		events = events[opts.Offset:]
	}
	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[:opts.Limit]
	}
	return events, nil
}

// CountEvents returns the number of events matching the options.
func (s *Store) CountEvents(ctx context.Context, opts audit.CountOpts) (int64, error) {
	events, err := s.scanEvents(ctx, opts.Action, opts.Processed, opts.MinFailures)
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}

// PurgeEvents removes unprocessed events logged before the given time
// with at least minFailures failures.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time, minFailures int) (int64, error) {
	processed := false
	events, err := s.scanEvents(ctx, "", &processed, minFailures)
	if err != nil {
		return 0, err
	}

	var purged int64
	pipe := s.client.TxPipeline()
	for _, e := range events {
		if !e.LoggedAt.Before(before) {
			continue
		}
		eventID := e.ID.String()
		pipe.Del(ctx, eventKey(eventID))
		pipe.SRem(ctx, eventIDsKey, eventID)
		pipe.ZRem(ctx, backlogKey, eventID)
		purged++
	}
	if purged == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("central/redis: purge events: %w", err)
	}
	return purged, nil
}

// ─────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────

// requireEvent returns ErrEventNotFound when the hash does not exist.
func (s *Store) requireEvent(ctx context.Context, key string, eventID id.EventID) error {
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("central/redis: get event: %w", err)
	}
	if exists == 0 {
		return central.ErrEventNotFound
	}
	return nil
}

// scanEvents loads every stored event and filters in Go. The ID set is
// the source of truth for enumeration; list queries are operator-facing
// and not on the claim hot path.
func (s *Store) scanEvents(ctx context.Context, action string, processed *bool, minFailures int) ([]*audit.Event, error) {
	ids, err := s.client.SMembers(ctx, eventIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("central/redis: list events: %w", err)
	}

	events := make([]*audit.Event, 0, len(ids))
	for _, raw := range ids {
		eventID, err := id.ParseEventID(raw)
		if err != nil {
			continue
		}
		fields, err := s.client.HGetAll(ctx, eventKey(raw)).Result()
		if err != nil {
			return nil, fmt.Errorf("central/redis: list events: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		e, err := eventFromMap(eventID, fields)
		if err != nil {
			return nil, err
		}
		if action != "" && e.Action != action {
			continue
		}
		if processed != nil && *processed != (e.Processed != nil) {
			continue
		}
		if e.Failures < minFailures {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// eventToMap flattens an event into hash fields. Times are stored as
// unix milliseconds so the claim script can compare them numerically.
func eventToMap(e *audit.Event) map[string]interface{} {
	fields := map[string]interface{}{
		"action":     e.Action,
		"logged_at":  strconv.FormatInt(e.LoggedAt.UnixMilli(), 10),
		"failures":   strconv.Itoa(e.Failures),
		"created_at": strconv.FormatInt(e.CreatedAt.UnixMilli(), 10),
		"updated_at": strconv.FormatInt(e.UpdatedAt.UnixMilli(), 10),
	}
	if e.ActorID != "" {
		fields["actor_id"] = e.ActorID
	}
	if len(e.Details) > 0 {
		fields["details"] = string(e.Details)
	}
	if e.Claimed != nil {
		fields["claimed"] = strconv.FormatInt(e.Claimed.UnixMilli(), 10)
	}
	if e.Processed != nil {
		fields["processed"] = strconv.FormatInt(e.Processed.UnixMilli(), 10)
	}
	if e.LastFailure != nil {
		fields["last_failure"] = strconv.FormatInt(e.LastFailure.UnixMilli(), 10)
	}
	return fields
}

// eventFromMap rebuilds an event from hash fields.
func eventFromMap(eventID id.EventID, fields map[string]string) (*audit.Event, error) {
	e := &audit.Event{
		ID:      eventID,
		Action:  fields["action"],
		ActorID: fields["actor_id"],
	}
	if d, ok := fields["details"]; ok {
		e.Details = []byte(d)
	}

	var err error
	if e.LoggedAt, err = parseTime(fields, "logged_at"); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(fields, "created_at"); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(fields, "updated_at"); err != nil {
		return nil, err
	}
	if e.Claimed, err = parseTimePtr(fields, "claimed"); err != nil {
		return nil, err
	}
	if e.Processed, err = parseTimePtr(fields, "processed"); err != nil {
		return nil, err
	}
	if e.LastFailure, err = parseTimePtr(fields, "last_failure"); err != nil {
		return nil, err
	}
	if raw, ok := fields["failures"]; ok {
		if e.Failures, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("central/redis: event %s: bad failures %q", eventID, raw)
		}
	}
	return e, nil
}

func parseTime(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("central/redis: bad %s %q", name, raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseTimePtr(fields map[string]string, name string) (*time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := parseTime(fields, name)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
