package interpret

import (
	"math"
	"time"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Beat detection parameters. The R deflection tops out near 0.76 mV after
// the overlapping Q and S deflections are subtracted, so 0.5 mV clears
// baseline drift and default noise while staying under every R peak.
// The refractory period suppresses double counting on a single upstroke.
const (
	peakThreshold    = 0.5
	refractoryPeriod = 200 * time.Millisecond
)

// RateEstimate summarises the beats detected in a sample sequence.
type RateEstimate struct {
	// BPM is the mean rate over all beat-to-beat intervals, or 0 when
	// fewer than two beats were detected.
	BPM float64

	// HRV is the standard deviation of the beat-to-beat intervals in
	// milliseconds (SDNN), or 0 when fewer than three beats were detected.
	HRV float64

	// Beats is the number of detected beats.
	Beats int
}

// DetectBeats returns the stamps at which the voltage rises through the
// detection threshold, ignoring crossings inside the refractory period of
// the previous beat. Samples must be in ascending stamp order.
//
// This is rate estimation, not clinical QRS detection.
func DetectBeats(samples []waveform.Sample) []time.Duration {
	var (
		beats   []time.Duration
		last    time.Duration
		hasBeat bool
	)
	for i := 1; i < len(samples); i++ {
		if samples[i-1].Voltage >= peakThreshold || samples[i].Voltage < peakThreshold {
			continue
		}
		at := samples[i].At
		if hasBeat && at-last <= refractoryPeriod {
			continue
		}
		beats = append(beats, at)
		last = at
		hasBeat = true
	}
	return beats
}

// EstimateRate derives rate and variability statistics from the beats in
// samples.
func EstimateRate(samples []waveform.Sample) RateEstimate {
	beats := DetectBeats(samples)
	est := RateEstimate{Beats: len(beats)}
	if len(beats) < 2 {
		return est
	}

	intervals := make([]float64, len(beats)-1)
	var sum float64
	for i := 1; i < len(beats); i++ {
		ms := float64(beats[i]-beats[i-1]) / float64(time.Millisecond)
		intervals[i-1] = ms
		sum += ms
	}
	mean := sum / float64(len(intervals))
	est.BPM = 60_000 / mean

	if len(intervals) < 2 {
		return est
	}
	var sq float64
	for _, rr := range intervals {
		d := rr - mean
		sq += d * d
	}
	est.HRV = math.Sqrt(sq / float64(len(intervals)))
	return est
}
