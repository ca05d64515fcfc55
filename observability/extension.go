package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kakavi/central-backend/audit"
	"github.com/kakavi/central-backend/hook"
)

// meterName is the instrumentation scope name for pipeline metrics.
const meterName = "github.com/kakavi/central-backend/observability"

// Compile-time interface checks.
var (
	_ hook.Extension      = (*MetricsExtension)(nil)
	_ hook.EventClaimed   = (*MetricsExtension)(nil)
	_ hook.EventProcessed = (*MetricsExtension)(nil)
	_ hook.EventFailed    = (*MetricsExtension)(nil)
	_ hook.EventExhausted = (*MetricsExtension)(nil)
	_ hook.EventRevived   = (*MetricsExtension)(nil)
)

// MetricsExtension records event lifecycle metrics. Register it on the
// hook registry to automatically track claim rates, completion counts,
// failure rates, exhaustions, replays, and end-to-end latency, all
// attributed by action.
type MetricsExtension struct {
	claimed   metric.Int64Counter
	processed metric.Int64Counter
	failed    metric.Int64Counter
	exhausted metric.Int64Counter
	revived   metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use it to inject a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// OTel returns noop instruments on error, so the extension always
	// degrades gracefully.
	m.claimed, _ = meter.Int64Counter(
		"audit.event.claimed",
		metric.WithDescription("Total number of events claimed for processing"),
		metric.WithUnit("{event}"),
	)
	m.processed, _ = meter.Int64Counter(
		"audit.event.processed",
		metric.WithDescription("Total number of events processed successfully"),
		metric.WithUnit("{event}"),
	)
	m.failed, _ = meter.Int64Counter(
		"audit.event.failed",
		metric.WithDescription("Total number of failed processing attempts"),
		metric.WithUnit("{event}"),
	)
	m.exhausted, _ = meter.Int64Counter(
		"audit.event.exhausted",
		metric.WithDescription("Total number of events that exhausted their retry budget"),
		metric.WithUnit("{event}"),
	)
	m.revived, _ = meter.Int64Counter(
		"audit.event.revived",
		metric.WithDescription("Total number of exhausted events replayed by an operator"),
		metric.WithUnit("{event}"),
	)
	m.latency, _ = meter.Float64Histogram(
		"audit.event.latency",
		metric.WithDescription("Time from claim to commit for processed events"),
		metric.WithUnit("s"),
	)

	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func actionAttr(e *audit.Event) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("action", e.Action))
}

// OnEventClaimed implements hook.EventClaimed.
func (m *MetricsExtension) OnEventClaimed(ctx context.Context, e *audit.Event) error {
	m.claimed.Add(ctx, 1, actionAttr(e))
	return nil
}

// OnEventProcessed implements hook.EventProcessed.
func (m *MetricsExtension) OnEventProcessed(ctx context.Context, e *audit.Event, elapsed time.Duration) error {
	m.processed.Add(ctx, 1, actionAttr(e))
	m.latency.Record(ctx, elapsed.Seconds(), actionAttr(e))
	return nil
}

// OnEventFailed implements hook.EventFailed.
func (m *MetricsExtension) OnEventFailed(ctx context.Context, e *audit.Event, _ error) error {
	m.failed.Add(ctx, 1, actionAttr(e))
	return nil
}

// OnEventExhausted implements hook.EventExhausted.
func (m *MetricsExtension) OnEventExhausted(ctx context.Context, e *audit.Event, _ error) error {
	m.exhausted.Add(ctx, 1, actionAttr(e))
	return nil
}

// OnEventRevived implements hook.EventRevived.
func (m *MetricsExtension) OnEventRevived(ctx context.Context, e *audit.Event) error {
	m.revived.Add(ctx, 1, actionAttr(e))
	return nil
}
