package acquire

import (
	"fmt"
	"sync"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Window capacity bounds. Configuration enforces the range; tests may
// construct smaller windows directly.
const (
	MinWindowSize     = 1000
	MaxWindowSize     = 5000
	DefaultWindowSize = 2500

	// DefaultPendingLimit bounds the staging queue between cadence ticks.
	DefaultPendingLimit = 1024
)

// Window retains the most recent samples of the current run for display,
// interpretation and export. It is a capped FIFO: once full, each append
// evicts the oldest sample.
//
// Samples arriving from transport callbacks are staged via Enqueue and
// folded in by FlushPending on the session cadence, so consumers observe
// whole cadence batches rather than torn partial chunks. The staging
// queue is bounded; a transport bursting faster than the cadence drains
// loses its oldest staged samples rather than growing without limit.
//
// A Window is safe for concurrent use.
type Window struct {
	mu      sync.RWMutex
	samples []waveform.Sample
	size    int

	pending    []waveform.Sample
	pendingCap int

	appended uint64
	dropped  uint64
	clamped  uint64
}

// WindowOption configures optional Window behaviour.
type WindowOption func(*Window)

// WithPendingLimit overrides the staging queue bound.
func WithPendingLimit(n int) WindowOption {
	return func(w *Window) {
		w.pendingCap = n
	}
}

// NewWindow builds a window retaining up to size samples.
func NewWindow(size int, opts ...WindowOption) (*Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: window size %d must be positive", ErrInvalidParameter, size)
	}
	w := &Window{size: size, pendingCap: DefaultPendingLimit}
	for _, o := range opts {
		o(w)
	}
	if w.pendingCap <= 0 {
		return nil, fmt.Errorf("%w: pending limit %d must be positive", ErrInvalidParameter, w.pendingCap)
	}
	return w, nil
}

// Append adds one sample, evicting the oldest if the window is full.
// Stamps that run backwards are clamped to the newest retained stamp so
// the window stays monotonically ordered.
func (w *Window) Append(s waveform.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendLocked(s)
}

func (w *Window) appendLocked(s waveform.Sample) {
	if n := len(w.samples); n > 0 && s.At < w.samples[n-1].At {
		s.At = w.samples[n-1].At
		w.clamped++
	}
	w.samples = append(w.samples, s)
	w.appended++
	if len(w.samples) > w.size {
		keep := w.samples[len(w.samples)-w.size:]
		fresh := make([]waveform.Sample, w.size, w.size+1)
		copy(fresh, keep)
		w.samples = fresh
	}
}

// Enqueue stages samples for the next cadence flush, in arrival order.
func (w *Window) Enqueue(samples ...waveform.Sample) {
	if len(samples) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, samples...)
	if over := len(w.pending) - w.pendingCap; over > 0 {
		w.dropped += uint64(over)
		keep := w.pending[over:]
		fresh := make([]waveform.Sample, len(keep), w.pendingCap)
		copy(fresh, keep)
		w.pending = fresh
	}
}

// FlushPending folds all staged samples into the window and reports how
// many were folded.
func (w *Window) FlushPending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.pending)
	for _, s := range w.pending {
		w.appendLocked(s)
	}
	w.pending = w.pending[:0]
	return n
}

// Snapshot returns a copy of the retained samples, oldest first.
func (w *Window) Snapshot() []waveform.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]waveform.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Tail returns a copy of the newest n retained samples, oldest first.
func (w *Window) Tail(n int) []waveform.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(w.samples) {
		n = len(w.samples)
	}
	out := make([]waveform.Sample, n)
	copy(out, w.samples[len(w.samples)-n:])
	return out
}

// Len reports how many samples the window currently retains.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

// Pending reports how many samples are staged for the next flush.
func (w *Window) Pending() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.pending)
}

// Size reports the configured capacity.
func (w *Window) Size() int {
	return w.size
}

// Reset discards retained and staged samples. The cumulative counters
// keep running; a reset is not a new process.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.pending = nil
}

// Appended reports the total number of samples ever folded into the
// window, including ones already evicted. Exporters use it as a
// high-water mark.
func (w *Window) Appended() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.appended
}

// Dropped reports how many staged samples were discarded because the
// staging queue overflowed.
func (w *Window) Dropped() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dropped
}

// Clamped reports how many stamps were adjusted to keep the window
// monotonically ordered.
func (w *Window) Clamped() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clamped
}
