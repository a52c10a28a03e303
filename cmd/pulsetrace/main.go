// Command pulsetrace is the main entry point for the pulsetrace acquisition server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/fennwaldt/pulsetrace/internal/app"
	"github.com/fennwaldt/pulsetrace/internal/config"
	"github.com/fennwaldt/pulsetrace/internal/observe"
	"github.com/fennwaldt/pulsetrace/pkg/provider/llm"
	"github.com/fennwaldt/pulsetrace/pkg/provider/llm/anyllm"
	"github.com/fennwaldt/pulsetrace/pkg/sensor"
	"github.com/fennwaldt/pulsetrace/pkg/sensor/replay"
	"github.com/fennwaldt/pulsetrace/pkg/sensor/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pulsetrace: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pulsetrace: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("pulsetrace starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "pulsetrace",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Factory registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config watcher (log level hot reload) ─────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.AcquisitionChanged || d.SensorChanged || d.InterpreterChanged || d.ExportChanged {
			slog.Warn("changed config sections need a restart to take effect",
				"acquisition", d.AcquisitionChanged,
				"sensor", d.SensorChanged,
				"interpreter", d.InterpreterChanged,
				"export", d.ExportChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Factory wiring ────────────────────────────────────────────────────────────

// builtinFactories maps registry categories to the implementations that ship
// with pulsetrace. Used for startup logging.
var builtinFactories = map[string][]string{
	"link": {"ws", "replay"},
	"llm":  {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// registerBuiltins wires all built-in factories into reg. Each factory
// receives its config section and constructs the implementation.
func registerBuiltins(reg *config.Registry) {
	// ── Sensor links ──────────────────────────────────────────────────────────

	reg.RegisterLink("ws", func(sc config.SensorConfig) (sensor.Link, error) {
		var opts []ws.Option
		if sc.Token != "" {
			opts = append(opts, ws.WithToken(sc.Token))
		}
		return ws.New(sc.URL, opts...)
	})

	// replay serves recorded chunks from a capture file; handy without hardware.
	reg.RegisterLink("replay", func(sc config.SensorConfig) (sensor.Link, error) {
		var opts []replay.Option
		if d := sc.Interval.Std(); d > 0 {
			opts = append(opts, replay.WithInterval(d))
		}
		if sc.Loop {
			opts = append(opts, replay.WithLoop(true))
		}
		return replay.New(sc.Path, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Debug log of everything registered.
	for kind, names := range builtinFactories {
		for _, name := range names {
			slog.Debug("registered factory", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the sensor link and LLM named in cfg using the
// registry and returns them for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if transport := cfg.Sensor.Transport; transport != "" {
		l, err := reg.CreateLink(cfg.Sensor)
		if err != nil {
			return nil, fmt.Errorf("create sensor link %q: %w", transport, err)
		}
		ps.Link = l
		slog.Info("sensor link created", "transport", transport, "framing", string(cfg.Sensor.Framing))
	}

	if name := cfg.Interpreter.Provider.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Interpreter.Provider)
		if errors.Is(err, config.ErrNotRegistered) {
			slog.Warn("unknown llm provider — the heuristic interpreter will serve reports", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Interpreter.Provider.Model)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       pulsetrace — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Source", string(cfg.Acquisition.Source), "")
	printRow("Rate", fmt.Sprintf("%.0f bpm", cfg.Acquisition.Rate), "")
	printRow("Window", fmt.Sprintf("%d samples", cfg.Acquisition.WindowSize), "")
	printRow("Sensor", cfg.Sensor.Transport, string(cfg.Sensor.Framing))
	if cfg.Interpreter.Provider.Name == "" {
		printRow("Interpreter", "heuristic", "")
	} else {
		printRow("Interpreter", cfg.Interpreter.Provider.Name, cfg.Interpreter.Provider.Model)
	}
	printRow("Export", exportSummary(cfg), "")
	printRow("Listen addr", cfg.Server.ListenAddr, "")
	fmt.Println("╚═══════════════════════════════════════╝")
}

// printRow renders one summary line. An empty name shows as not configured;
// a second value is appended when present.
func printRow(label, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func exportSummary(cfg *config.Config) string {
	switch {
	case cfg.Export.Path != "" && cfg.Export.NATS != nil:
		return "file + nats"
	case cfg.Export.Path != "":
		return "file"
	case cfg.Export.NATS != nil:
		return "nats"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher adjust verbosity without a restart.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
