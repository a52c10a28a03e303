package interpret

import (
	"context"
	"fmt"
	"time"
)

// Classification thresholds. Resting-rate bands follow the usual 50/100 bpm
// convention; the variability ratio compares SDNN against the mean
// beat-to-beat interval.
const (
	minBeats        = 3
	bradycardiaBPM  = 50
	tachycardiaBPM  = 100
	irregularityCut = 0.2
)

// Heuristic interprets readings with threshold-crossing rate estimation and
// fixed classification rules. It never calls out of process, cannot fail,
// and serves as the fallback behind remote interpreters.
type Heuristic struct{}

// NewHeuristic returns a rule-based interpreter.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Name implements Interpreter.
func (h *Heuristic) Name() string {
	return "heuristic"
}

// Interpret implements Interpreter. The returned error is always nil; a
// reading with too few detectable beats yields a noise report instead.
func (h *Heuristic) Interpret(_ context.Context, r Reading) (*Report, error) {
	est := EstimateRate(r.Samples)
	if est.Beats < minBeats {
		return &Report{
			Status:         StatusNoise,
			Confidence:     0.2,
			Recommendation: "Too few beats detected. Check the electrode contact or extend the capture.",
			DetailedAnalysis: fmt.Sprintf(
				"Only %d beat(s) were detected across %v of signal, which is not enough to classify a rhythm.",
				est.Beats, r.Span.Round(time.Millisecond)),
		}, nil
	}

	meanRR := 60_000 / est.BPM
	status := StatusNormal
	switch {
	case est.BPM < bradycardiaBPM:
		status = StatusBradycardia
	case est.BPM > tachycardiaBPM:
		status = StatusTachycardia
	case est.HRV/meanRR > irregularityCut:
		status = StatusIrregular
	}

	rep := &Report{
		HeartRate:  est.BPM,
		HRV:        est.HRV,
		Status:     status,
		Confidence: confidence(est.Beats),
		DetailedAnalysis: fmt.Sprintf(
			"Detected %d beats over %v. Mean beat interval %.0f ms, SDNN %.1f ms.",
			est.Beats, r.Span.Round(time.Millisecond), meanRR, est.HRV),
	}

	switch status {
	case StatusBradycardia:
		rep.Recommendation = "Rate is below 50 bpm. Verify the sensor placement before reading anything into it."
	case StatusTachycardia:
		rep.Recommendation = "Rate is above 100 bpm. Sit still for a minute and capture again."
	case StatusIrregular:
		rep.Recommendation = "Beat spacing varies noticeably. A longer, motion-free capture will sharpen the picture."
	default:
		rep.Recommendation = "Rhythm looks regular at a resting rate."
	}
	return rep, nil
}

// confidence grows with the number of observed beats and saturates at 0.9;
// a rule-based read never claims full certainty.
func confidence(beats int) float64 {
	c := 0.4 + 0.05*float64(beats)
	if c > 0.9 {
		c = 0.9
	}
	return c
}
