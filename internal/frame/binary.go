package frame

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// recordSize is the fixed width of one binary record.
const recordSize = 4

// Binary reassembles fixed-width records of IEEE 754 float32 values in
// little-endian byte order, the native notification format of the
// supported BLE bridges. Non-finite values count as malformed.
type Binary struct {
	clock   Clock
	carry   []byte
	dropped atomic.Uint64
}

func (b *Binary) Ingest(chunk []byte) []waveform.Sample {
	buf := append(b.carry, chunk...)
	var out []waveform.Sample
	complete := len(buf) / recordSize * recordSize
	for i := 0; i < complete; i += recordSize {
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i : i+recordSize])))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b.dropped.Add(1)
			continue
		}
		out = append(out, waveform.Sample{At: b.clock(), Voltage: v})
	}
	b.carry = append(make([]byte, 0, len(buf)-complete), buf[complete:]...)
	return out
}

func (b *Binary) Dropped() uint64 {
	return b.dropped.Load()
}
