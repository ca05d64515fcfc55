package redis

// Redis key naming conventions for audit data.
// All keys are prefixed with "central:" to avoid collisions.

const keyPrefix = "central:"

// eventKeyPrefix prefixes every event Hash key: central:audit:{id}
const eventKeyPrefix = keyPrefix + "audit:"

// eventKey returns the Hash key for one event.
func eventKey(id string) string { return eventKeyPrefix + id }

// backlogKey is the Sorted Set of unprocessed event IDs scored by
// logged-at time (unix milliseconds). Equal scores fall back to
// lexicographic member order, which for K-sortable IDs preserves the
// creation-order tiebreak.
const backlogKey = keyPrefix + "audit_backlog"

// eventIDsKey is the Set tracking all event IDs for enumeration.
const eventIDsKey = keyPrefix + "audit_ids"
