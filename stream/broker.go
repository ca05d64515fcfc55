package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/hook"
)

// Compile-time interface checks.
var (
	_ hook.Extension      = (*Broker)(nil)
	_ hook.EventClaimed   = (*Broker)(nil)
	_ hook.EventProcessed = (*Broker)(nil)
	_ hook.EventFailed    = (*Broker)(nil)
	_ hook.EventExhausted = (*Broker)(nil)
	_ hook.EventRevived   = (*Broker)(nil)
	_ hook.Shutdown       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time stream broker. It implements the hook
// extension interfaces to receive audit lifecycle events and fans them
// out to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	mu          sync.Mutex
	subscribers map[string]*Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker. A nil logger falls back to
// slog.Default().
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:      NewTopicRegistry(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.mu.Lock()
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publish broadcasts a lifecycle event to the firehose, its action
// topic, and its per-event topic.
func (b *Broker) publish(typ EventType, e *audit.Event, data EventData) {
	evt := &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     EventTopic(e.ID.String()),
		Data:      mustMarshal(data),
	}
	topics := []string{TopicFirehose, ActionTopic(e.Action), evt.Topic}
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// eventData builds the common payload fields.
func eventData(e *audit.Event) EventData {
	return EventData{
		EventID:  e.ID.String(),
		Action:   e.Action,
		ActorID:  e.ActorID,
		Failures: e.Failures,
	}
}

// ── Audit lifecycle hooks ───────────────────────────

func (b *Broker) OnEventClaimed(_ context.Context, e *audit.Event) error {
	b.publish(EventClaimed, e, eventData(e))
	return nil
}

func (b *Broker) OnEventProcessed(_ context.Context, e *audit.Event, elapsed time.Duration) error {
	data := eventData(e)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventProcessed, e, data)
	return nil
}

func (b *Broker) OnEventFailed(_ context.Context, e *audit.Event, eventErr error) error {
	data := eventData(e)
	data.Error = eventErr.Error()
	b.publish(EventFailed, e, data)
	return nil
}

func (b *Broker) OnEventExhausted(_ context.Context, e *audit.Event, eventErr error) error {
	data := eventData(e)
	data.Error = eventErr.Error()
	b.publish(EventExhausted, e, data)
	return nil
}

func (b *Broker) OnEventRevived(_ context.Context, e *audit.Event) error {
	b.publish(EventRevived, e, eventData(e))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for id, sub := range subs {
		b.topics.UnsubscribeAll(id)
		sub.Close()
	}
	b.logger.Info("stream broker shut down")
	return nil
}
