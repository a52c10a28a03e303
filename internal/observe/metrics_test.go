package observe

import (
	"context"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// gather collects the reader and returns the named metric.
func gather(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not collected", name)
	}
	return met
}

// counterValue returns the cumulative value of an int64 counter data
// point, selected by attribute when key is non-empty. The reader uses
// cumulative temporality, so collecting repeatedly is safe.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, val string) int64 {
	t.Helper()
	met := gather(t, reader, name)
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == val {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%q", name, key, val)
	return 0
}

// histogramPoint returns the first data point of a float64 histogram.
func histogramPoint(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := gather(t, reader, name)
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return hist.DataPoints[0]
}

func TestNewMetrics_RegistersAllInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// Touch every instrument once so the reader reports it.
	m.RecordFlushDuration(ctx, time.Millisecond)
	m.RecordInterpreterDuration(ctx, "heuristic", time.Millisecond)
	m.RecordExportDuration(ctx, "nats", time.Millisecond)
	m.RecordSamples(ctx, "synthetic", 1)
	m.RecordChunk(ctx)
	m.RecordDropped(ctx, "parse", 1)
	m.RecordSessionStart(ctx, "synthetic")
	m.RecordStreamFailure(ctx)
	m.RecordInterpreterRequest(ctx, "heuristic", "ok")
	m.RecordExportBatch(ctx, "nats", "ok")
	m.AddActiveRuns(ctx, 1)
	m.AddStreamClients(ctx, 1)
	m.HTTPRequestDuration.Record(ctx, 0.01)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	names := []string{
		"pulsetrace.acquisition.flush.duration",
		"pulsetrace.interpreter.duration",
		"pulsetrace.export.duration",
		"pulsetrace.samples.ingested",
		"pulsetrace.sensor.chunks",
		"pulsetrace.records.dropped",
		"pulsetrace.session.starts",
		"pulsetrace.session.stream_failures",
		"pulsetrace.interpreter.requests",
		"pulsetrace.export.batches",
		"pulsetrace.active_runs",
		"pulsetrace.stream_clients",
		"pulsetrace.http.request.duration",
	}
	for _, name := range names {
		if findMetric(rm, name) == nil {
			t.Errorf("instrument %q not registered", name)
		}
	}
}

func TestStageDurations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	durations := []struct {
		name   string
		record func()
	}{
		{"pulsetrace.acquisition.flush.duration", func() { m.RecordFlushDuration(ctx, 3*time.Millisecond) }},
		{"pulsetrace.interpreter.duration", func() { m.RecordInterpreterDuration(ctx, "anyllm:openai", 750*time.Millisecond) }},
		{"pulsetrace.export.duration", func() { m.RecordExportDuration(ctx, "file", 12*time.Millisecond) }},
	}

	for _, tc := range durations {
		tc.record()
		tc.record()
	}

	for _, tc := range durations {
		t.Run(tc.name, func(t *testing.T) {
			dp := histogramPoint(t, reader, tc.name)
			if dp.Count != 2 {
				t.Errorf("sample count = %d, want 2", dp.Count)
			}
		})
	}
}

func TestRecordFlushDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordFlushDuration(context.Background(), 2*time.Millisecond)

	dp := histogramPoint(t, reader, "pulsetrace.acquisition.flush.duration")
	if dp.Sum != 0.002 {
		t.Errorf("recorded sum = %v, want 0.002", dp.Sum)
	}
	// Durations land in the explicit latency buckets, not the SDK defaults.
	if !slices.Equal(dp.Bounds, latencyBuckets) {
		t.Errorf("bucket bounds = %v, want %v", dp.Bounds, latencyBuckets)
	}
}

func TestRecordSamples_AccumulatesBySource(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSamples(ctx, "synthetic", 40)
	m.RecordSamples(ctx, "synthetic", 10)
	m.RecordSamples(ctx, "sensor", 5)

	if got := counterValue(t, reader, "pulsetrace.samples.ingested", "source", "synthetic"); got != 50 {
		t.Errorf("samples.ingested{source=synthetic} = %d, want 50", got)
	}
	if got := counterValue(t, reader, "pulsetrace.samples.ingested", "source", "sensor"); got != 5 {
		t.Errorf("samples.ingested{source=sensor} = %d, want 5", got)
	}
}

func TestRecordInterpreterRequest_SplitsByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInterpreterRequest(ctx, "anyllm:openai", "ok")
	m.RecordInterpreterRequest(ctx, "anyllm:openai", "ok")
	m.RecordInterpreterRequest(ctx, "anyllm:openai", "error")

	if got := counterValue(t, reader, "pulsetrace.interpreter.requests", "status", "ok"); got != 2 {
		t.Errorf("interpreter.requests{status=ok} = %d, want 2", got)
	}
	if got := counterValue(t, reader, "pulsetrace.interpreter.requests", "status", "error"); got != 1 {
		t.Errorf("interpreter.requests{status=error} = %d, want 1", got)
	}
}

func TestRecordDropped_ByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDropped(ctx, "parse", 3)
	m.RecordDropped(ctx, "overflow", 7)

	if got := counterValue(t, reader, "pulsetrace.records.dropped", "reason", "parse"); got != 3 {
		t.Errorf("records.dropped{reason=parse} = %d, want 3", got)
	}
	if got := counterValue(t, reader, "pulsetrace.records.dropped", "reason", "overflow"); got != 7 {
		t.Errorf("records.dropped{reason=overflow} = %d, want 7", got)
	}
}

func TestRecordExportBatch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordExportBatch(ctx, "file", "ok")
	m.RecordExportBatch(ctx, "nats", "error")

	if got := counterValue(t, reader, "pulsetrace.export.batches", "sink", "file"); got != 1 {
		t.Errorf("export.batches{sink=file} = %d, want 1", got)
	}
	if got := counterValue(t, reader, "pulsetrace.export.batches", "status", "error"); got != 1 {
		t.Errorf("export.batches{status=error} = %d, want 1", got)
	}
}

func TestGauges_TrackDeltas(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AddActiveRuns(ctx, 1)
	m.AddActiveRuns(ctx, 1)
	m.AddActiveRuns(ctx, -1)
	m.AddStreamClients(ctx, 1)

	if got := counterValue(t, reader, "pulsetrace.active_runs", "", ""); got != 1 {
		t.Errorf("active_runs = %d, want 1", got)
	}
	if got := counterValue(t, reader, "pulsetrace.stream_clients", "", ""); got != 1 {
		t.Errorf("stream_clients = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
