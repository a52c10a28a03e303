// Package frame reassembles chunked sensor payloads into voltage samples.
//
// Wireless links deliver the sample stream as arbitrary byte chunks, and
// record boundaries rarely align with chunk boundaries. Each reassembler
// therefore keeps the unterminated tail of the previous chunk and prepends
// it to the next one, so any chunking of the same byte stream yields the
// same sample sequence. Malformed records are dropped and counted, never
// surfaced as errors, because a transient corruption must not tear down a
// running acquisition.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Clock returns the elapsed acquisition time used to stamp emitted
// samples. The owning session injects its own acquiring-phase clock.
type Clock func() time.Duration

// Mode selects the record framing of the sensor byte stream.
type Mode string

const (
	// ModeText frames records as newline-delimited decimal numbers.
	ModeText Mode = "text"
	// ModeBinary frames records as four-byte little-endian float32 values.
	ModeBinary Mode = "binary"
)

// IsValid reports whether m names a known framing.
func (m Mode) IsValid() bool {
	switch m {
	case ModeText, ModeBinary:
		return true
	}
	return false
}

// Reassembler turns a chunked byte stream back into samples.
type Reassembler interface {
	// Ingest consumes one transport chunk and returns the samples it
	// completed, in stream order. Not safe for concurrent use; chunks
	// must arrive from a single goroutine.
	Ingest(chunk []byte) []waveform.Sample

	// Dropped reports how many malformed records have been discarded.
	// Safe to read from other goroutines.
	Dropped() uint64
}

// New builds a reassembler for the given framing.
func New(mode Mode, clock Clock) (Reassembler, error) {
	if clock == nil {
		return nil, errors.New("frame: clock must not be nil")
	}
	switch mode {
	case ModeText:
		return &Text{clock: clock}, nil
	case ModeBinary:
		return &Binary{clock: clock}, nil
	}
	return nil, fmt.Errorf("frame: unknown mode %q", mode)
}
