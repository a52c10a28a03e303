// Package interpret turns a bounded waveform snapshot into a structured
// rhythm report.
//
// Interpretation is advisory and strictly non-fatal: acquisition never
// depends on it, and callers fall back to [DefaultReport] when an
// interpreter fails. Two implementations are provided, a deterministic
// [Heuristic] built on threshold-crossing rate estimation and an [LLM]
// interpreter that asks a language model for the analysis. They are
// typically chained so the heuristic covers LLM outages.
package interpret

import (
	"context"
	"time"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Status classifies the rhythm seen in a reading.
type Status string

const (
	StatusNormal      Status = "normal"
	StatusIrregular   Status = "irregular"
	StatusTachycardia Status = "tachycardia"
	StatusBradycardia Status = "bradycardia"
	StatusNoise       Status = "noise"
)

// IsValid reports whether s is one of the defined status values.
func (s Status) IsValid() bool {
	switch s {
	case StatusNormal, StatusIrregular, StatusTachycardia, StatusBradycardia, StatusNoise:
		return true
	}
	return false
}

// Report is the structured result of interpreting a reading. Field names are
// part of the JSON API surface.
type Report struct {
	// HeartRate is the estimated rate in beats per minute.
	HeartRate float64 `json:"heartRate"`

	// HRV is the heart-rate variability as SDNN in milliseconds.
	HRV float64 `json:"hrv"`

	// Status classifies the rhythm.
	Status Status `json:"status"`

	// Confidence is the interpreter's self-assessed certainty in [0,1].
	Confidence float64 `json:"confidence"`

	// Recommendation is short, display-ready guidance.
	Recommendation string `json:"recommendation"`

	// DetailedAnalysis is a few sentences of free-form analysis.
	DetailedAnalysis string `json:"detailedAnalysis"`
}

// Reading is the bounded, time-ordered snapshot handed to an interpreter,
// together with derived context so implementations do not have to recompute
// it.
type Reading struct {
	// Samples is the snapshot, oldest first.
	Samples []waveform.Sample

	// Span is the elapsed time covered by Samples.
	Span time.Duration

	// EstimatedRate is the threshold-crossing rate estimate in bpm, or 0
	// when too few beats were detected.
	EstimatedRate float64
}

// NewReading derives a Reading from a sample snapshot.
func NewReading(samples []waveform.Sample) Reading {
	est := EstimateRate(samples)
	return Reading{
		Samples:       samples,
		Span:          waveform.Span(samples),
		EstimatedRate: est.BPM,
	}
}

// Interpreter analyses a reading.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation. Errors are advisory; callers substitute [DefaultReport].
type Interpreter interface {
	// Interpret analyses r and returns a report.
	Interpret(ctx context.Context, r Reading) (*Report, error)

	// Name identifies the implementation for logs and metric labels.
	Name() string
}

// DefaultReport returns the indeterminate report served when every
// interpreter fails. The waveform pipeline itself is unaffected by such a
// failure.
func DefaultReport() *Report {
	return &Report{
		Status:           StatusNoise,
		Confidence:       0,
		Recommendation:   "Interpretation is unavailable right now. Keep the session running and retry.",
		DetailedAnalysis: "No interpreter produced a report for this window.",
	}
}
