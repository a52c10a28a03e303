package export

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// fileHeader is written once when the target file is created empty.
const fileHeader = "time_ms,voltage_mv\n"

// FileSink appends samples to a local delimited text file, one
// "time_ms,voltage_mv" row per sample.
type FileSink struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) the file at path for appending. A header
// row is written when the file is new or empty.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("export: file path must not be empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("export: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(fileHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("export: write header: %w", err)
		}
	}
	return &FileSink{path: path, f: f}, nil
}

// Write implements Sink. The whole batch is rendered first and written with
// a single syscall so concurrent writers cannot interleave rows.
func (s *FileSink) Write(ctx context.Context, batch []waveform.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	for _, smp := range batch {
		fmt.Fprintf(&b, "%d,%.6f\n", smp.At.Milliseconds(), smp.Voltage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("export: file sink %s is closed", s.path)
	}
	if _, err := s.f.WriteString(b.String()); err != nil {
		return fmt.Errorf("export: append %s: %w", s.path, err)
	}
	return nil
}

// Name implements Sink.
func (s *FileSink) Name() string {
	return "file"
}

// Close implements Sink. Safe to call multiple times.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Ensure FileSink implements Sink at compile time.
var _ Sink = (*FileSink)(nil)
