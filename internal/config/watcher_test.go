package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fennwaldt/pulsetrace/internal/config"
)

// reload captures one onChange invocation.
type reload struct {
	before, after *config.Config
}

// configDoc renders a minimal valid config with the given log level and
// synthetic rate.
func configDoc(level string, rate float64) string {
	return fmt.Sprintf("server:\n  log_level: %s\nacquisition:\n  source: synthetic\n  rate: %v\n", level, rate)
}

func writeDoc(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// replaceDoc swaps the file content and pushes the mtime forward so the
// revision is visible even on filesystems with coarse timestamps.
func replaceDoc(t *testing.T, path, doc string) {
	t.Helper()
	writeDoc(t, path, doc)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// startWatcher writes doc to a fresh temp file and starts a fast-polling
// watcher over it. Reloads arrive on the returned channel.
func startWatcher(t *testing.T, doc string) (*config.Watcher, string, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulsetrace.yaml")
	writeDoc(t, path, doc)

	reloads := make(chan reload, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		reloads <- reload{before: old, after: new}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, reloads
}

func awaitReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
		return reload{}
	}
}

func expectNoReload(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload to log_level=%q", r.after.Server.LogLevel)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcher_LoadsInitialConfig(t *testing.T) {
	t.Parallel()
	w, _, _ := startWatcher(t, configDoc("info", 72))

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after construction")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Acquisition.Rate != 72 {
		t.Errorf("rate = %v, want 72", cfg.Acquisition.Rate)
	}
	// Defaults fill in fields the document leaves out.
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	w, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		w.Stop()
		t.Fatal("NewWatcher() error = nil, want initial load failure")
	}
}

func TestWatcher_ReloadDeliversOldAndNew(t *testing.T) {
	t.Parallel()
	w, path, reloads := startWatcher(t, configDoc("info", 72))

	replaceDoc(t, path, configDoc("debug", 90))
	r := awaitReload(t, reloads)

	if r.before == nil || r.after == nil {
		t.Fatalf("reload carried nil config: before=%v after=%v", r.before, r.after)
	}
	if r.before.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want %q", r.before.Server.LogLevel, config.LogInfo)
	}
	if r.after.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want %q", r.after.Server.LogLevel, config.LogDebug)
	}
	if r.after.Acquisition.Rate != 90 {
		t.Errorf("new rate = %v, want 90", r.after.Acquisition.Rate)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogDebug)
	}
}

func TestWatcher_BadRevisionKeepsLastGood(t *testing.T) {
	t.Parallel()
	w, path, reloads := startWatcher(t, configDoc("info", 72))

	// Validation rejects the level, so the revision must be ignored.
	replaceDoc(t, path, configDoc("shouting", 72))
	expectNoReload(t, reloads)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogInfo)
	}

	// Once the file parses again the watcher picks it up.
	replaceDoc(t, path, configDoc("debug", 72))
	r := awaitReload(t, reloads)
	if r.after.Server.LogLevel != config.LogDebug {
		t.Errorf("recovered log_level = %q, want %q", r.after.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_TouchOnlyKeepsQuiet(t *testing.T) {
	t.Parallel()
	w, path, reloads := startWatcher(t, configDoc("info", 72))

	// Same bytes, newer mtime.
	replaceDoc(t, path, configDoc("info", 72))
	expectNoReload(t, reloads)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogInfo)
	}

	// A real change afterwards is still seen.
	replaceDoc(t, path, configDoc("warn", 72))
	r := awaitReload(t, reloads)
	if r.after.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level after touch = %q, want %q", r.after.Server.LogLevel, config.LogWarn)
	}
}

func TestWatcher_RemovedFileKeepsLastGood(t *testing.T) {
	t.Parallel()
	w, path, reloads := startWatcher(t, configDoc("info", 72))

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove %s: %v", path, err)
	}
	expectNoReload(t, reloads)
	if got := w.Current().Acquisition.Rate; got != 72 {
		t.Errorf("Current() rate = %v, want 72", got)
	}

	// The watcher recovers when the file comes back.
	replaceDoc(t, path, configDoc("info", 120))
	r := awaitReload(t, reloads)
	if r.after.Acquisition.Rate != 120 {
		t.Errorf("rate after re-create = %v, want 120", r.after.Acquisition.Rate)
	}
}

func TestWatcher_StopHaltsPolling(t *testing.T) {
	t.Parallel()
	w, path, reloads := startWatcher(t, configDoc("info", 72))

	w.Stop()
	w.Stop() // second call is a no-op

	replaceDoc(t, path, configDoc("debug", 72))
	expectNoReload(t, reloads)
}
