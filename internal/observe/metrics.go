// Package observe provides application-wide observability primitives for
// pulsetrace: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pulsetrace metrics.
const meterName = "github.com/fennwaldt/pulsetrace"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FlushDuration tracks how long folding staged samples into the
	// window takes on each cadence tick.
	FlushDuration metric.Float64Histogram

	// InterpreterDuration tracks rhythm interpretation latency.
	InterpreterDuration metric.Float64Histogram

	// ExportDuration tracks sink write latency per export cycle.
	ExportDuration metric.Float64Histogram

	// --- Counters ---

	// SamplesIngested counts samples folded into the window. Use with
	// attribute: attribute.String("source", ...)
	SamplesIngested metric.Int64Counter

	// ChunksReceived counts raw transport chunks delivered by the sensor
	// link.
	ChunksReceived metric.Int64Counter

	// RecordsDropped counts samples discarded before reaching the window.
	// Use with attribute: attribute.String("reason", ...) ("parse",
	// "overflow").
	RecordsDropped metric.Int64Counter

	// SessionStarts counts launched acquisition runs. Use with attribute:
	//   attribute.String("source", ...)
	SessionStarts metric.Int64Counter

	// StreamFailures counts runs forced down by a dying sensor stream.
	StreamFailures metric.Int64Counter

	// InterpreterRequests counts interpretation attempts. Use with
	// attributes: attribute.String("provider", ...), attribute.String("status", ...)
	InterpreterRequests metric.Int64Counter

	// ExportBatches counts sink writes. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	ExportBatches metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks runs currently counting down or acquiring.
	ActiveRuns metric.Int64UpDownCounter

	// StreamClients tracks connected live-feed WebSocket clients.
	StreamClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// the pipeline's spread: sub-millisecond window flushes up to multi-second
// model calls.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FlushDuration, err = m.Float64Histogram("pulsetrace.acquisition.flush.duration",
		metric.WithDescription("Latency of folding staged samples into the window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InterpreterDuration, err = m.Float64Histogram("pulsetrace.interpreter.duration",
		metric.WithDescription("Latency of rhythm interpretation by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExportDuration, err = m.Float64Histogram("pulsetrace.export.duration",
		metric.WithDescription("Latency of sink writes per export cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SamplesIngested, err = m.Int64Counter("pulsetrace.samples.ingested",
		metric.WithDescription("Total samples folded into the window by source."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("pulsetrace.sensor.chunks",
		metric.WithDescription("Total raw chunks delivered by the sensor link."),
	); err != nil {
		return nil, err
	}
	if met.RecordsDropped, err = m.Int64Counter("pulsetrace.records.dropped",
		metric.WithDescription("Total records discarded before reaching the window, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionStarts, err = m.Int64Counter("pulsetrace.session.starts",
		metric.WithDescription("Total launched acquisition runs by source."),
	); err != nil {
		return nil, err
	}
	if met.StreamFailures, err = m.Int64Counter("pulsetrace.session.stream_failures",
		metric.WithDescription("Total runs forced down by sensor stream failures."),
	); err != nil {
		return nil, err
	}
	if met.InterpreterRequests, err = m.Int64Counter("pulsetrace.interpreter.requests",
		metric.WithDescription("Total interpretation attempts by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ExportBatches, err = m.Int64Counter("pulsetrace.export.batches",
		metric.WithDescription("Total sink writes by sink and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRuns, err = m.Int64UpDownCounter("pulsetrace.active_runs",
		metric.WithDescription("Number of runs currently counting down or acquiring."),
	); err != nil {
		return nil, err
	}
	if met.StreamClients, err = m.Int64UpDownCounter("pulsetrace.stream_clients",
		metric.WithDescription("Number of connected live-feed WebSocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pulsetrace.http.request.duration",
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

// RecordSessionStart records one launched run for the given source.
func (m *Metrics) RecordSessionStart(ctx context.Context, source string) {
	m.SessionStarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// AddActiveRuns moves the active-run gauge by delta.
func (m *Metrics) AddActiveRuns(ctx context.Context, delta int64) {
	m.ActiveRuns.Add(ctx, delta)
}

// RecordSamples records n samples folded into the window from source.
func (m *Metrics) RecordSamples(ctx context.Context, source string, n int64) {
	m.SamplesIngested.Add(ctx, n,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordChunk records one raw chunk delivered by the sensor link.
func (m *Metrics) RecordChunk(ctx context.Context) {
	m.ChunksReceived.Add(ctx, 1)
}

// RecordFlushDuration records one cadence flush.
func (m *Metrics) RecordFlushDuration(ctx context.Context, d time.Duration) {
	m.FlushDuration.Record(ctx, d.Seconds())
}

// RecordDropped records n records discarded for the given reason.
func (m *Metrics) RecordDropped(ctx context.Context, reason string, n int64) {
	m.RecordsDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordStreamFailure records one run forced down by a dying stream.
func (m *Metrics) RecordStreamFailure(ctx context.Context) {
	m.StreamFailures.Add(ctx, 1)
}

// RecordInterpreterRequest records one interpretation attempt.
func (m *Metrics) RecordInterpreterRequest(ctx context.Context, provider, status string) {
	m.InterpreterRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordInterpreterDuration records one interpretation round trip.
func (m *Metrics) RecordInterpreterDuration(ctx context.Context, provider string, d time.Duration) {
	m.InterpreterDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordExportBatch records one sink write.
func (m *Metrics) RecordExportBatch(ctx context.Context, sink, status string) {
	m.ExportBatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}

// RecordExportDuration records one export cycle for the given sink.
func (m *Metrics) RecordExportDuration(ctx context.Context, sink string, d time.Duration) {
	m.ExportDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("sink", sink)),
	)
}

// AddStreamClients moves the live-feed client gauge by delta.
func (m *Metrics) AddStreamClients(ctx context.Context, delta int64) {
	m.StreamClients.Add(ctx, delta)
}
