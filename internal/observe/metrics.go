// Package observe provides the application's observability primitives:
// OpenTelemetry metric instruments, the Prometheus exporter bridge, and the
// small HTTP surface (/metrics, /healthz) they are served on.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/buddy-assistant/buddy"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// EventsPublished counts events accepted into the input queue. Use with
	// attributes: attribute.String("kind", ...), attribute.String("source", ...).
	EventsPublished metric.Int64Counter

	// Routed, Dropped and NoRoute count (event, subscriber) delivery
	// attempts by outcome. Routed and Dropped take a "kind" attribute.
	Routed  metric.Int64Counter
	Dropped metric.Int64Counter
	NoRoute metric.Int64Counter

	// BrainDuration tracks decision-layer handling latency per event kind.
	BrainDuration metric.Float64Histogram

	// LLMDuration tracks LLM round-trip latency.
	LLMDuration metric.Float64Histogram

	// QueueDepth tracks the input queue depth sampled on every dequeue.
	QueueDepth metric.Int64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// decision and model latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EventsPublished, err = m.Int64Counter("buddy.events.published",
		metric.WithDescription("Total events accepted into the input queue by kind and source."),
	); err != nil {
		return nil, err
	}
	if met.Routed, err = m.Int64Counter("buddy.router.routed",
		metric.WithDescription("Total (event, subscriber) deliveries that were accepted."),
	); err != nil {
		return nil, err
	}
	if met.Dropped, err = m.Int64Counter("buddy.router.dropped",
		metric.WithDescription("Total (event, subscriber) deliveries refused by a full queue or a panicking subscriber."),
	); err != nil {
		return nil, err
	}
	if met.NoRoute, err = m.Int64Counter("buddy.router.no_route",
		metric.WithDescription("Total events routed to a kind with no subscribers."),
	); err != nil {
		return nil, err
	}
	if met.BrainDuration, err = m.Float64Histogram("buddy.brain.process.duration",
		metric.WithDescription("Latency of decision-layer event handling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("buddy.llm.duration",
		metric.WithDescription("Latency of LLM round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64Gauge("buddy.queue.depth",
		metric.WithDescription("Input queue depth sampled at every dequeue."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPublished records one accepted input event.
func (m *Metrics) RecordPublished(ctx context.Context, kind, source string) {
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("source", source),
	))
}

// RecordLLM records one LLM round trip.
func (m *Metrics) RecordLLM(ctx context.Context, seconds float64, status string) {
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("status", status),
	))
}
