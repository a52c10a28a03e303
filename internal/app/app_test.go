package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fennwaldt/pulsetrace/internal/acquire"
	"github.com/fennwaldt/pulsetrace/internal/app"
	"github.com/fennwaldt/pulsetrace/internal/config"
	"github.com/fennwaldt/pulsetrace/internal/export"
	llmmock "github.com/fennwaldt/pulsetrace/pkg/provider/llm/mock"
	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// testConfig returns a minimal config with a fast synthetic cadence so
// lifecycle tests finish quickly. ListenAddr binds an ephemeral port.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Acquisition: config.AcquisitionConfig{
			Source:         acquire.SourceSynthetic,
			Rate:           72,
			Noise:          0.05,
			SampleInterval: config.Duration(5 * time.Millisecond),
			Countdown:      config.Duration(20 * time.Millisecond),
			WindowSize:     acquire.MinWindowSize,
		},
	}
}

// testProviders returns empty providers; the app then falls back to the
// heuristic interpreter and rejects sensor runs.
func testProviders() *app.Providers {
	return &app.Providers{}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
	if application.Session() == nil {
		t.Fatal("Session() returned nil")
	}
}

func TestNew_NilProviders(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New() with nil providers returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_WithLLMProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Interpreter = config.InterpreterConfig{
		Provider: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
	}
	providers := &app.Providers{LLM: &llmmock.Provider{}}

	application, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_BadWindowSize(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Acquisition.WindowSize = -1

	if _, err := app.New(context.Background(), cfg, testProviders()); err == nil {
		t.Fatal("New() with negative window size did not fail")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{name: "record"}
	application, err := app.New(
		context.Background(),
		testConfig(),
		testProviders(),
		app.WithSinks(sink),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if got := sink.closeCount(); got != 1 {
		t.Errorf("sink close count = %d, want 1", got)
	}

	// A second Shutdown is a no-op.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := sink.closeCount(); got != 1 {
		t.Errorf("sink close count after second Shutdown = %d, want 1", got)
	}
}

func TestApp_ShutdownStopsActiveRun(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	src := acquire.SourceConfig{Kind: acquire.SourceSynthetic, Rate: 72}
	if err := application.Session().Start(context.Background(), src); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if application.Session().Running() {
		t.Error("session still running after Shutdown()")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Run in background.
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give Run a moment to set up goroutines.
	time.Sleep(50 * time.Millisecond)

	// Cancel context to trigger shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

// ── Stub implementations ──

// recordingSink captures export batches and counts closes.
type recordingSink struct {
	name string

	mu      sync.Mutex
	batches [][]waveform.Sample
	closed  int
}

func (s *recordingSink) Write(_ context.Context, batch []waveform.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]waveform.Sample, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ export.Sink = (*recordingSink)(nil)
