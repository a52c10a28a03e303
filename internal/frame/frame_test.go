package frame_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/fennwaldt/pulsetrace/internal/frame"
	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// testClock yields 20 ms, 40 ms, 60 ms, ... on successive calls.
func testClock() frame.Clock {
	var n int
	return func() time.Duration {
		n++
		return time.Duration(n) * 20 * time.Millisecond
	}
}

func voltages(samples []waveform.Sample) []float64 {
	return waveform.Voltages(samples)
}

func packLE(vals ...float32) []byte {
	buf := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func TestTextSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	r, err := frame.New(frame.ModeText, testClock())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	first := r.Ingest([]byte("1.0\n2.0\n3."))
	if got := voltages(first); len(got) != 2 || got[0] != 1.0 || got[1] != 2.0 {
		t.Errorf("first chunk voltages = %v, want [1 2]", got)
	}

	second := r.Ingest([]byte("5\n4.0\n"))
	if got := voltages(second); len(got) != 2 || got[0] != 3.5 || got[1] != 4.0 {
		t.Errorf("second chunk voltages = %v, want [3.5 4]", got)
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", r.Dropped())
	}
}

func TestTextChunkingInvariance(t *testing.T) {
	t.Parallel()

	stream := []byte("0.5\n-0.25\n1e-3\n42\n3.14\n")
	want := []float64{0.5, -0.25, 0.001, 42, 3.14}

	for split := 0; split <= len(stream); split++ {
		r, err := frame.New(frame.ModeText, testClock())
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		var got []float64
		got = append(got, voltages(r.Ingest(stream[:split]))...)
		got = append(got, voltages(r.Ingest(stream[split:]))...)

		if len(got) != len(want) {
			t.Fatalf("split %d: got %d samples, want %d", split, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("split %d: voltage[%d] = %v, want %v", split, i, got[i], want[i])
			}
		}
	}
}

func TestTextMalformedDropped(t *testing.T) {
	t.Parallel()

	r, err := frame.New(frame.ModeText, testClock())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	out := r.Ingest([]byte("abc\n1.5\nNaN\n+Inf\n\n2.5\n1.2.3\n"))
	if got := voltages(out); len(got) != 2 || got[0] != 1.5 || got[1] != 2.5 {
		t.Errorf("voltages = %v, want [1.5 2.5]", got)
	}
	if r.Dropped() != 4 {
		t.Errorf("Dropped() = %d, want 4", r.Dropped())
	}
}

func TestTextCRLF(t *testing.T) {
	t.Parallel()

	r, err := frame.New(frame.ModeText, testClock())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	out := r.Ingest([]byte("1.0\r\n2.0\r\n"))
	if got := voltages(out); len(got) != 2 || got[0] != 1.0 || got[1] != 2.0 {
		t.Errorf("voltages = %v, want [1 2]", got)
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", r.Dropped())
	}
}

func TestTextStamping(t *testing.T) {
	t.Parallel()

	r, err := frame.New(frame.ModeText, testClock())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	out := r.Ingest([]byte("0.1\n0.2\n0.3\n"))
	if len(out) != 3 {
		t.Fatalf("got %d samples, want 3", len(out))
	}
	for i, want := range []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond} {
		if out[i].At != want {
			t.Errorf("sample[%d].At = %v, want %v", i, out[i].At, want)
		}
	}
}

func TestBinarySplitMidRecord(t *testing.T) {
	t.Parallel()

	r, err := frame.New(frame.ModeBinary, testClock())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	stream := packLE(0.5, -0.25, 1.5)
	first := r.Ingest(stream[:5])
	if got := voltages(first); len(got) != 1 || got[0] != 0.5 {
		t.Errorf("first chunk voltages = %v, want [0.5]", got)
	}
	second := r.Ingest(stream[5:])
	if got := voltages(second); len(got) != 2 || got[0] != -0.25 || got[1] != 1.5 {
		t.Errorf("second chunk voltages = %v, want [-0.25 1.5]", got)
	}
}

func TestBinaryRejectsNonFinite(t *testing.T) {
	t.Parallel()

	r, err := frame.New(frame.ModeBinary, testClock())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	stream := packLE(float32(math.NaN()), 1.0, float32(math.Inf(1)))
	out := r.Ingest(stream)
	if got := voltages(out); len(got) != 1 || got[0] != 1.0 {
		t.Errorf("voltages = %v, want [1]", got)
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", r.Dropped())
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	if _, err := frame.New(frame.Mode("csv"), testClock()); err == nil {
		t.Error("New() with unknown mode: want error")
	}
	if _, err := frame.New(frame.ModeText, nil); err == nil {
		t.Error("New() with nil clock: want error")
	}
}

func TestModeIsValid(t *testing.T) {
	t.Parallel()

	for _, m := range []frame.Mode{frame.ModeText, frame.ModeBinary} {
		if !m.IsValid() {
			t.Errorf("Mode(%q).IsValid() = false, want true", m)
		}
	}
	if frame.Mode("").IsValid() {
		t.Error(`Mode("").IsValid() = true, want false`)
	}
}
