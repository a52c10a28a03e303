// Package acquire drives voltage acquisition runs: one session owns the
// idle / counting down / acquiring / stopped lifecycle, fills the sample
// window on a fixed cadence, and turns transport failures into an orderly
// stop. Samples come either from the built-in synthesizer or from a
// wireless sensor link whose chunks are reassembled into records.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fennwaldt/pulsetrace/internal/frame"
	"github.com/fennwaldt/pulsetrace/internal/observe"
	"github.com/fennwaldt/pulsetrace/internal/signal"
	"github.com/fennwaldt/pulsetrace/pkg/sensor"
)

// State is the lifecycle position of a session.
type State int

const (
	// StateIdle means no run has been started since construction or the
	// last hard reset.
	StateIdle State = iota

	// StateCountingDown means a run was started and the pre-acquisition
	// countdown is in progress. No samples flow yet.
	StateCountingDown

	// StateAcquiring means samples are flowing into the window.
	StateAcquiring

	// StateStopped means the last run ended, normally or by failure. The
	// window still holds its samples.
	StateStopped
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountingDown:
		return "counting_down"
	case StateAcquiring:
		return "acquiring"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SourceKind selects where a run's samples come from.
type SourceKind string

const (
	// SourceSynthetic runs against the built-in waveform synthesizer.
	SourceSynthetic SourceKind = "synthetic"
	// SourceSensor runs against the configured wireless sensor link.
	SourceSensor SourceKind = "sensor"
)

// IsValid reports whether k names a known source.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceSynthetic, SourceSensor:
		return true
	}
	return false
}

// SourceConfig parameterizes the signal source of one run.
type SourceConfig struct {
	Kind SourceKind

	// Rate is the synthetic beat rate in bpm. Ignored for sensor runs.
	Rate float64

	// Noise is the synthetic noise amplitude in mV. Ignored for sensor runs.
	Noise float64
}

// Validate checks the configuration against the accepted ranges.
func (c SourceConfig) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidParameter, c.Kind)
	}
	if c.Kind == SourceSynthetic {
		if c.Rate < signal.MinRate || c.Rate > signal.MaxRate {
			return fmt.Errorf("%w: rate %.1f bpm out of range [%d, %d]", ErrInvalidParameter, c.Rate, signal.MinRate, signal.MaxRate)
		}
		if c.Noise < 0 || c.Noise > 1 {
			return fmt.Errorf("%w: noise amplitude %.2f out of range [0, 1]", ErrInvalidParameter, c.Noise)
		}
	}
	return nil
}

// Defaults applied by NewSession when the configuration leaves the
// corresponding field unset.
const (
	DefaultCountdown      = 5 * time.Second
	DefaultSampleInterval = 20 * time.Millisecond
)

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	// Window receives acquired samples. Required.
	Window *Window

	// Link reaches the wireless sensor. Required for sensor runs only.
	Link sensor.Link

	// Framing decodes sensor chunks. Defaults to text framing.
	Framing frame.Mode

	// Countdown delays acquisition after Start. Defaults to 5 s.
	Countdown time.Duration

	// SampleInterval is the acquisition cadence. Defaults to 20 ms.
	SampleInterval time.Duration

	// Metrics records pipeline instrumentation. Defaults to the process
	// default meter.
	Metrics *observe.Metrics

	// OnState, when set, observes every state transition. It is invoked
	// on internal goroutines and must not block.
	OnState func(State)
}

// Session drives one acquisition run at a time. All methods are safe for
// concurrent use.
type Session struct {
	window   *Window
	link     sensor.Link
	framing  frame.Mode
	cdown    time.Duration
	interval time.Duration
	metrics  *observe.Metrics
	onState  func(State)

	mu      sync.Mutex
	state   State
	runID   string
	source  SourceConfig
	started time.Time
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession builds an idle session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Window == nil {
		return nil, errors.New("acquire: session needs a window")
	}
	framing := cfg.Framing
	if framing == "" {
		framing = frame.ModeText
	}
	if !framing.IsValid() {
		return nil, fmt.Errorf("acquire: unknown framing %q", framing)
	}
	cdown := cfg.Countdown
	if cdown <= 0 {
		cdown = DefaultCountdown
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		window:   cfg.Window,
		link:     cfg.Link,
		framing:  framing,
		cdown:    cdown,
		interval: interval,
		metrics:  metrics,
		onState:  cfg.OnState,
		state:    StateIdle,
	}, nil
}

// Start launches a run: the session flips to counting down and the rest
// happens on an internal goroutine. The supplied ctx governs only the
// launch itself; a running session is ended via Stop or HardReset.
func (s *Session) Start(ctx context.Context, src SourceConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := src.Validate(); err != nil {
		return err
	}
	if src.Kind == SourceSensor && s.link == nil {
		return fmt.Errorf("%w: no sensor link configured", ErrInvalidParameter)
	}

	s.mu.Lock()
	if s.state == StateCountingDown || s.state == StateAcquiring {
		id := s.runID
		s.mu.Unlock()
		return fmt.Errorf("%w (run_id=%s)", ErrAlreadyRunning, id)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.state = StateCountingDown
	s.runID = uuid.NewString()
	s.source = src
	s.err = nil
	s.started = time.Time{}
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	id := s.runID
	s.mu.Unlock()

	slog.Info("acquisition run launched", "run_id", id, "source", string(src.Kind))
	s.metrics.RecordSessionStart(runCtx, string(src.Kind))
	go s.run(runCtx, src, done)
	return nil
}

// Stop ends the active run and returns once the run goroutine has fully
// wound down: source released, link disconnected, state stopped. The
// sample window is preserved for inspection and export.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateCountingDown && s.state != StateAcquiring {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state=%s)", ErrNotRunning, st)
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// HardReset force-stops any active run and clears all run data, returning
// the session to idle as if freshly constructed. The window's retained
// samples are discarded; its cumulative counters keep running.
func (s *Session) HardReset() {
	_ = s.Stop() // a reset from idle or stopped has nothing to stop

	s.mu.Lock()
	s.state = StateIdle
	s.runID = ""
	s.source = SourceConfig{}
	s.started = time.Time{}
	s.err = nil
	s.mu.Unlock()

	s.window.Reset()
	slog.Info("session hard reset")
	s.notify(StateIdle)
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a run is counting down or acquiring.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateCountingDown || s.state == StateAcquiring
}

// RunID reports the identifier of the active or most recent run, or the
// empty string before the first run.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Source reports the source configuration of the active or most recent run.
func (s *Session) Source() SourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Err reports the terminal failure of the most recent run, nil after a
// clean stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Elapsed reports how long the current run has been acquiring, zero
// outside the acquiring state.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAcquiring || s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Window returns the sample window this session fills.
func (s *Session) Window() *Window {
	return s.window
}

// run is the per-run goroutine: countdown, then source loop, then an
// orderly conclusion regardless of how the loop ended.
func (s *Session) run(ctx context.Context, src SourceConfig, done chan struct{}) {
	defer close(done)
	s.notify(StateCountingDown)
	s.metrics.AddActiveRuns(ctx, 1)
	defer s.metrics.AddActiveRuns(context.Background(), -1)

	countdown := time.NewTimer(s.cdown)
	defer countdown.Stop()
	select {
	case <-ctx.Done():
		s.conclude(nil)
		return
	case <-countdown.C:
	}

	var err error
	switch src.Kind {
	case SourceSynthetic:
		err = s.runSynthetic(ctx, src)
	case SourceSensor:
		err = s.runSensor(ctx)
	}
	s.conclude(err)
}

// runSynthetic polls the synthesizer on the cadence and appends straight
// into the window.
func (s *Session) runSynthetic(ctx context.Context, src SourceConfig) error {
	syn, err := signal.New(src.Rate, src.Noise)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	syn.Start()
	defer syn.Stop()
	s.beginAcquiring()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			smp, err := syn.Sample()
			if err != nil {
				continue
			}
			s.window.Append(smp)
			s.metrics.RecordSamples(ctx, string(SourceSynthetic), 1)
		}
	}
}

// runSensor connects the link, subscribes the reassembler to its chunk
// stream, and folds staged samples into the window on the cadence.
func (s *Session) runSensor(ctx context.Context) error {
	conn, err := s.link.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect sensor link: %w", err)
	}
	defer func() {
		conn.Unsubscribe()
		if err := conn.Disconnect(); err != nil {
			slog.Warn("sensor disconnect failed", "err", err)
		}
	}()

	began := s.beginAcquiring()
	reasm, err := frame.New(s.framing, func() time.Duration {
		return time.Since(began)
	})
	if err != nil {
		return fmt.Errorf("build reassembler: %w", err)
	}

	err = conn.Subscribe(sensor.Subscription{
		OnChunk: func(c sensor.Chunk) {
			s.metrics.RecordChunk(ctx)
			if samples := reasm.Ingest(c); len(samples) > 0 {
				s.window.Enqueue(samples...)
			}
		},
		OnFailure: s.fail,
	})
	if err != nil {
		return fmt.Errorf("subscribe to sensor stream: %w", err)
	}

	var lastParseDrops, lastOverflowDrops uint64
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			flushStart := time.Now()
			n := s.window.FlushPending()
			s.metrics.RecordFlushDuration(ctx, time.Since(flushStart))
			if n > 0 {
				s.metrics.RecordSamples(ctx, string(SourceSensor), int64(n))
			}
			if d := reasm.Dropped(); d > lastParseDrops {
				s.metrics.RecordDropped(ctx, "parse", int64(d-lastParseDrops))
				lastParseDrops = d
			}
			if d := s.window.Dropped(); d > lastOverflowDrops {
				s.metrics.RecordDropped(ctx, "overflow", int64(d-lastOverflowDrops))
				lastOverflowDrops = d
			}
		}
	}
}

// beginAcquiring flips the run to acquiring and anchors the sample clock.
func (s *Session) beginAcquiring() time.Time {
	s.mu.Lock()
	s.state = StateAcquiring
	s.started = time.Now()
	began := s.started
	id := s.runID
	s.mu.Unlock()

	slog.Info("acquiring", "run_id", id)
	s.notify(StateAcquiring)
	return began
}

// conclude moves the run to stopped and records a terminal error, if any.
// Errors set earlier by fail are kept.
func (s *Session) conclude(err error) {
	s.mu.Lock()
	s.state = StateStopped
	if err != nil {
		s.err = err
	}
	id := s.runID
	terminal := s.err
	s.mu.Unlock()

	if terminal != nil {
		slog.Error("acquisition run failed", "run_id", id, "err", terminal)
	} else {
		slog.Info("acquisition run stopped", "run_id", id)
	}
	s.notify(StateStopped)
}

// fail forces the run down because the sensor stream died. It is invoked
// from transport callbacks, so it must never wait on the run goroutine.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state != StateAcquiring {
		s.mu.Unlock()
		return
	}
	s.err = fmt.Errorf("%w: %v", ErrStreamFailure, cause)
	cancel := s.cancel
	id := s.runID
	s.mu.Unlock()

	slog.Error("sensor stream failed, stopping run", "run_id", id, "err", cause)
	s.metrics.RecordStreamFailure(context.Background())
	cancel()
}

func (s *Session) notify(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}
