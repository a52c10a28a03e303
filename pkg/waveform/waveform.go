// Package waveform defines the sample types shared by every stage of the
// acquisition pipeline. Samples are the atomic unit of signal transport:
// produced by the synthesizer or reassembled from sensor chunks, buffered
// in the session window, and consumed by interpretation, export and the
// live stream feed.
package waveform

import (
	"encoding/json"
	"time"
)

// Sample is a single voltage measurement on the acquisition timeline.
type Sample struct {
	// At marks when the sample was taken, relative to the start of the
	// acquiring phase of the owning session.
	At time.Duration

	// Voltage is the electrode potential in millivolts.
	Voltage float64
}

// sampleJSON is the wire shape used by the HTTP API and export sinks.
// Timestamps cross process boundaries as integer milliseconds.
type sampleJSON struct {
	TimeMS    int64   `json:"time_ms"`
	VoltageMV float64 `json:"voltage_mv"`
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{TimeMS: s.At.Milliseconds(), VoltageMV: s.Voltage})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var w sampleJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.At = time.Duration(w.TimeMS) * time.Millisecond
	s.Voltage = w.VoltageMV
	return nil
}

// Voltages extracts the voltage series from a run of samples.
func Voltages(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Voltage
	}
	return out
}

// Span reports the time covered by a run of samples, assuming they are
// ordered by timestamp. Fewer than two samples span no time.
func Span(samples []Sample) time.Duration {
	if len(samples) < 2 {
		return 0
	}
	return samples[len(samples)-1].At - samples[0].At
}
