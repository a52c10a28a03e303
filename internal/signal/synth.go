// Package signal synthesizes the cyclic test waveform used when no
// physical sensor is attached. The generator approximates a surface ECG
// trace: five Gaussian deflections per beat, a slow sinusoidal baseline
// drift and optional uniform noise.
package signal

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Accepted beat rate range in beats per minute.
const (
	MinRate = 30
	MaxRate = 240
)

const (
	msPerMinute = 60000.0

	// Baseline wander: amplitude in millivolts, time scale in ms.
	driftAmplitude = 0.05
	driftTimeScale = 2000.0
)

// ErrInactive is returned by Sample when the synthesizer is stopped.
var ErrInactive = errors.New("synthesizer is not running")

// bump is one Gaussian component of the cyclic waveform.
type bump struct {
	amp    float64 // peak amplitude in millivolts
	center float64 // position within one beat, in [0, 1)
	width  float64 // standard deviation, in fractions of one beat
}

// The P, Q, R, S and T deflections of one beat.
var bumps = [...]bump{
	{amp: 0.15, center: 0.20, width: 0.03},
	{amp: -0.15, center: 0.38, width: 0.02},
	{amp: 1.00, center: 0.40, width: 0.02},
	{amp: -0.25, center: 0.42, width: 0.02},
	{amp: 0.30, center: 0.70, width: 0.08},
}

// Waveform returns the noise-free cyclic voltage at beat phase t in [0, 1).
// The value is the sum of all five deflections, so neighbouring bumps
// overlap where their tails meet.
func Waveform(t float64) float64 {
	v := 0.0
	for _, b := range bumps {
		z := (t - b.center) / b.width
		v += b.amp * math.Exp(-0.5*z*z)
	}
	return v
}

// Synth produces a repeating ECG-like voltage trace on demand. Rate and
// noise amplitude are fixed at construction; Start and Stop control the
// time origin that incoming Sample calls are stamped against.
type Synth struct {
	rate  float64        // beats per minute
	noise float64        // uniform noise amplitude in millivolts
	rng   func() float64 // yields values in [0, 1)

	mu     sync.Mutex
	active bool
	origin time.Time
}

// Option configures optional Synth behaviour.
type Option func(*Synth)

// WithNoiseSource replaces the default randomness used for the noise
// term. The source must yield values in [0, 1).
func WithNoiseSource(src func() float64) Option {
	return func(s *Synth) {
		s.rng = src
	}
}

// New builds a stopped synthesizer. The rate must lie within
// [MinRate, MaxRate] and the noise amplitude within [0, 1].
func New(rate, noise float64, opts ...Option) (*Synth, error) {
	if rate < MinRate || rate > MaxRate {
		return nil, fmt.Errorf("signal: rate %.1f bpm out of range [%d, %d]", rate, MinRate, MaxRate)
	}
	if noise < 0 || noise > 1 {
		return nil, fmt.Errorf("signal: noise amplitude %.2f out of range [0, 1]", noise)
	}
	s := &Synth{
		rate:  rate,
		noise: noise,
		rng:   rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// At returns the synthetic voltage at the given elapsed time: the cyclic
// waveform for the current beat phase, plus baseline drift, plus noise.
func (s *Synth) At(elapsed time.Duration) float64 {
	ms := elapsed.Seconds() * 1000
	v := Waveform(s.phase(ms)) + baselineDrift(ms)
	if s.noise > 0 {
		v += s.noise * (2*s.rng() - 1)
	}
	return v
}

func (s *Synth) phase(ms float64) float64 {
	beat := msPerMinute / s.rate
	return math.Mod(ms, beat) / beat
}

func baselineDrift(ms float64) float64 {
	return driftAmplitude * math.Sin(ms/driftTimeScale)
}

// Start resets the time origin and begins producing. Starting an active
// synthesizer is a no-op.
func (s *Synth) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.origin = time.Now()
}

// Stop halts production. The origin is discarded; a later Start begins a
// fresh timeline.
func (s *Synth) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// Active reports whether the synthesizer is producing.
func (s *Synth) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Sample returns the voltage at the current moment, stamped with the
// elapsed time since Start. Returns ErrInactive when stopped.
func (s *Synth) Sample() (waveform.Sample, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return waveform.Sample{}, ErrInactive
	}
	elapsed := time.Since(s.origin)
	s.mu.Unlock()
	return waveform.Sample{At: elapsed, Voltage: s.At(elapsed)}, nil
}
