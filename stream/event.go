// Package stream provides a real-time broker for audit processing
// lifecycle events. It bridges the hook system to in-process consumers
// (the admin API's live stream endpoint) via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventClaimed   EventType = "event.claimed"
	EventProcessed EventType = "event.processed"
	EventFailed    EventType = "event.failed"
	EventExhausted EventType = "event.exhausted"
	EventRevived   EventType = "event.revived"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity-specific channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// EventData is the payload for audit lifecycle events.
type EventData struct {
	EventID   string `json:"event_id"`
	Action    string `json:"action"`
	ActorID   string `json:"actor_id,omitempty"`
	Failures  int    `json:"failures,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}
