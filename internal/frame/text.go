package frame

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Text reassembles newline-delimited decimal records. Records may end in
// LF or CRLF; blank lines are ignored without counting as drops.
type Text struct {
	clock   Clock
	carry   []byte
	dropped atomic.Uint64
}

func (t *Text) Ingest(chunk []byte) []waveform.Sample {
	buf := append(t.carry, chunk...)
	var out []waveform.Sample
	start := 0
	for {
		i := bytes.IndexByte(buf[start:], '\n')
		if i < 0 {
			break
		}
		rec := buf[start : start+i]
		start += i + 1

		tok := strings.TrimSpace(string(rec))
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			t.dropped.Add(1)
			continue
		}
		out = append(out, waveform.Sample{At: t.clock(), Voltage: v})
	}
	// Keep only the unterminated tail. Copying to a fresh slice releases
	// the processed prefix of the backing array.
	t.carry = append(make([]byte, 0, len(buf)-start), buf[start:]...)
	return out
}

func (t *Text) Dropped() uint64 {
	return t.dropped.Load()
}
