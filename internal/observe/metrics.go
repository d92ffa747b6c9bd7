// Package observe provides application-wide observability primitives for the
// bridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/kestrel-ai/bridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ChatDuration tracks non-streaming Client.Chat round-trip latency.
	ChatDuration metric.Float64Histogram

	// StreamDuration tracks the wall-clock duration of a full Client.Stream
	// range, from the first upstream request to the final delta.
	StreamDuration metric.Float64Histogram

	// ToolCallDuration tracks the latency of a single JSON-RPC tool-call
	// dispatch, from invocation to result (or error).
	ToolCallDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// StreamDeltas counts individual stream deltas yielded to callers. Use
	// with attribute: attribute.String("model", ...)
	StreamDeltas metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// CancellationsTriggered counts cancellations by the phase in which they
	// occurred. Use with attribute: attribute.String("phase", ...)
	CancellationsTriggered metric.Int64Counter

	// --- Gauges ---

	// OpenConnections tracks the number of live rpc.Connection instances
	// currently registered with a dispatching Client.
	OpenConnections metric.Int64UpDownCounter

	// ActiveStreams tracks the number of in-flight Client.Stream ranges.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for chat-completion-scale latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChatDuration, err = m.Float64Histogram("bridge.chat.duration",
		metric.WithDescription("Latency of a non-streaming chat round-trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StreamDuration, err = m.Float64Histogram("bridge.stream.duration",
		metric.WithDescription("Wall-clock duration of a full streaming chat, including any tool-call rounds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("bridge.tool_call.duration",
		metric.WithDescription("Latency of a single JSON-RPC tool-call dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("bridge.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("bridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.StreamDeltas, err = m.Int64Counter("bridge.stream.deltas",
		metric.WithDescription("Total stream deltas yielded to callers, by model."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("bridge.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.CancellationsTriggered, err = m.Int64Counter("bridge.cancellations",
		metric.WithDescription("Total cancellations triggered, by phase."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.OpenConnections, err = m.Int64UpDownCounter("bridge.open_connections",
		metric.WithDescription("Number of live tool-call RPC connections registered with a client."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("bridge.active_streams",
		metric.WithDescription("Number of in-flight streaming chat calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("bridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordStreamDelta is a convenience method that records a stream delta
// counter increment.
func (m *Metrics) RecordStreamDelta(ctx context.Context, model string) {
	m.StreamDeltas.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCancellation is a convenience method that records a cancellation
// counter increment for the given phase.
func (m *Metrics) RecordCancellation(ctx context.Context, phase string) {
	m.CancellationsTriggered.Add(ctx, 1,
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}
