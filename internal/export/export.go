// Package export periodically snapshots the sample window and writes the
// samples that arrived since the previous cycle to one or more sinks.
//
// Export is best effort and fully decoupled from acquisition: a failing
// sink is logged and the loop moves on, and samples evicted from the
// window between cycles are simply gone. Batches carry the flat
// time/voltage representation only.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fennwaldt/pulsetrace/internal/acquire"
	"github.com/fennwaldt/pulsetrace/internal/observe"
	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// defaultExportInterval is the default period between export cycles.
const defaultExportInterval = 5 * time.Second

// Sink persists a batch of samples.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write persists batch, oldest sample first.
	Write(ctx context.Context, batch []waveform.Sample) error

	// Name identifies the sink in logs and metric labels.
	Name() string

	// Close releases held resources. The sink is not used afterwards.
	Close() error
}

// Exporter drives periodic exports of the sample window.
//
// All methods are safe for concurrent use.
type Exporter struct {
	window   *acquire.Window
	sinks    []Sink
	interval time.Duration
	metrics  *observe.Metrics

	mu sync.Mutex
	// lastTotal tracks how many samples had been appended to the window
	// at the previous export, so each cycle writes only what is new.
	lastTotal uint64
	done      chan struct{}
	stopOnce  sync.Once
}

// ExporterConfig configures an [Exporter].
type ExporterConfig struct {
	// Window is the sample window to export from.
	Window *acquire.Window

	// Sinks receive each batch. May be empty; cycles then only advance
	// the high-water mark.
	Sinks []Sink

	// Interval is the period between cycles. Defaults to 5 seconds if zero.
	Interval time.Duration

	// Metrics records export instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// NewExporter creates a new [Exporter] with the given configuration.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	if cfg.Window == nil {
		return nil, fmt.Errorf("export: window must not be nil")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Exporter{
		window:   cfg.Window,
		sinks:    cfg.Sinks,
		interval: interval,
		metrics:  metrics,
		done:     make(chan struct{}),
	}, nil
}

// Start begins periodic exporting in a background goroutine.
// The goroutine runs until [Exporter.Stop] is called or ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) {
	go e.loop(ctx)
}

// Stop halts the export loop. Safe to call multiple times. Sinks are not
// closed; that stays with whoever created them.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
}

// ExportNow performs an immediate export cycle.
func (e *Exporter) ExportNow(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.export(ctx)
}

// loop runs the periodic export ticker.
func (e *Exporter) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.mu.Lock()
			if err := e.export(ctx); err != nil {
				slog.Warn("periodic export failed", "error", err)
			}
			e.mu.Unlock()
		}
	}
}

// export writes samples appended since the previous cycle to every sink.
// Must be called with e.mu held.
func (e *Exporter) export(ctx context.Context) error {
	total := e.window.Appended()
	if total == e.lastTotal {
		return nil // nothing new
	}

	snap := e.window.Snapshot()
	batch := snap
	// Samples appended beyond the window size were already evicted; the
	// batch can only ever cover what the snapshot still holds.
	if fresh := total - e.lastTotal; fresh < uint64(len(snap)) {
		batch = snap[len(snap)-int(fresh):]
	}
	e.lastTotal = total

	if len(batch) == 0 {
		return nil
	}

	var writeErr error
	for _, sink := range e.sinks {
		start := time.Now()
		err := sink.Write(ctx, batch)
		e.metrics.RecordExportDuration(ctx, sink.Name(), time.Since(start))
		if err != nil {
			writeErr = fmt.Errorf("export to %s: %w", sink.Name(), err)
			e.metrics.RecordExportBatch(ctx, sink.Name(), "error")
			slog.Warn("sink write failed",
				"sink", sink.Name(),
				"samples", len(batch),
				"error", err,
			)
			// Keep writing the remaining sinks; partial export is better
			// than none.
			continue
		}
		e.metrics.RecordExportBatch(ctx, sink.Name(), "ok")
	}
	return writeErr
}
