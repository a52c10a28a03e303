// Package app wires all pulsetrace subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the operator API until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithInterpreter,
// WithSinks, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fennwaldt/pulsetrace/internal/acquire"
	"github.com/fennwaldt/pulsetrace/internal/config"
	"github.com/fennwaldt/pulsetrace/internal/export"
	"github.com/fennwaldt/pulsetrace/internal/health"
	"github.com/fennwaldt/pulsetrace/internal/interpret"
	"github.com/fennwaldt/pulsetrace/internal/observe"
	"github.com/fennwaldt/pulsetrace/internal/resilience"
	"github.com/fennwaldt/pulsetrace/pkg/provider/llm"
	"github.com/fennwaldt/pulsetrace/pkg/sensor"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// Link reaches the wireless sensor. Required only when acquisition
	// runs against the sensor source.
	Link sensor.Link

	// LLM backs the language-model interpreter. Nil leaves interpretation
	// to the built-in heuristic alone.
	LLM llm.Provider
}

// App owns all subsystem lifetimes and serves the acquisition pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics     *observe.Metrics
	window      *acquire.Window
	session     *acquire.Session
	interpreter interpret.Interpreter
	sinks       []export.Sink
	exporter    *export.Exporter
	healthz     *health.Handler
	srv         *http.Server

	// closers are called in reverse registration order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithWindow injects a sample window instead of creating one from config.
func WithWindow(w *acquire.Window) Option {
	return func(a *App) { a.window = w }
}

// WithInterpreter injects an interpreter instead of building the
// configured LLM + heuristic chain.
func WithInterpreter(in interpret.Interpreter) Option {
	return func(a *App) { a.interpreter = in }
}

// WithSinks injects export sinks instead of creating them from config.
// The app still closes injected sinks during Shutdown.
func WithSinks(sinks ...export.Sink) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use
// Option functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Sample window ─────────────────────────────────────────────────
	if err := a.initWindow(); err != nil {
		return nil, fmt.Errorf("app: init window: %w", err)
	}

	// ── 2. Acquisition session ───────────────────────────────────────────
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 3. Interpreter chain ─────────────────────────────────────────────
	a.initInterpreter()

	// ── 4. Exporter ──────────────────────────────────────────────────────
	if err := a.initExporter(); err != nil {
		return nil, fmt.Errorf("app: init exporter: %w", err)
	}

	// ── 5. Health checks ─────────────────────────────────────────────────
	a.initHealth()

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initWindow creates the capped sample window unless one was injected.
func (a *App) initWindow() error {
	if a.window != nil {
		return nil
	}
	size := a.cfg.Acquisition.WindowSize
	if size == 0 {
		size = acquire.DefaultWindowSize
	}
	var opts []acquire.WindowOption
	if n := a.cfg.Acquisition.PendingLimit; n > 0 {
		opts = append(opts, acquire.WithPendingLimit(n))
	}
	w, err := acquire.NewWindow(size, opts...)
	if err != nil {
		return err
	}
	a.window = w
	return nil
}

// initSession builds the acquisition session around the window.
func (a *App) initSession() error {
	s, err := acquire.NewSession(acquire.SessionConfig{
		Window:         a.window,
		Link:           a.providers.Link,
		Framing:        a.cfg.Sensor.Framing,
		Countdown:      a.cfg.Acquisition.Countdown.Std(),
		SampleInterval: a.cfg.Acquisition.SampleInterval.Std(),
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}
	a.session = s
	return nil
}

// initInterpreter builds the interpreter chain: the configured LLM backend
// behind a circuit breaker, backed by the local heuristic. Without an LLM
// provider the heuristic runs alone.
func (a *App) initInterpreter() {
	if a.interpreter != nil {
		return
	}
	heuristic := interpret.NewHeuristic()
	if a.providers.LLM == nil {
		a.interpreter = heuristic
		slog.Info("no LLM provider configured, interpreting with heuristic only")
		return
	}

	var llmOpts []interpret.LLMOption
	if n := a.cfg.Interpreter.MaxSamples; n > 0 {
		llmOpts = append(llmOpts, interpret.WithMaxSamples(n))
	}
	name := "anyllm:" + a.cfg.Interpreter.Provider.Name
	primary, err := interpret.NewLLM(a.providers.LLM, name, llmOpts...)
	if err != nil {
		slog.Warn("LLM interpreter rejected, interpreting with heuristic only", "error", err)
		a.interpreter = heuristic
		return
	}

	fb := resilience.NewInterpreterFallback(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
	})
	fb.AddFallback(heuristic)
	a.interpreter = fb
	slog.Info("interpreter chain built", "primary", name, "fallback", heuristic.Name())
}

// initExporter creates the configured sinks and the periodic exporter.
func (a *App) initExporter() error {
	if a.sinks == nil {
		if path := a.cfg.Export.Path; path != "" {
			fs, err := export.NewFileSink(path)
			if err != nil {
				return fmt.Errorf("create file sink: %w", err)
			}
			a.sinks = append(a.sinks, fs)
		}
		if nc := a.cfg.Export.NATS; nc != nil {
			ns, err := export.NewNATSSink(nc.URL, nc.Subject)
			if err != nil {
				return fmt.Errorf("create nats sink: %w", err)
			}
			a.sinks = append(a.sinks, ns)
		}
	}
	for _, s := range a.sinks {
		a.closers = append(a.closers, s.Close)
	}

	exp, err := export.NewExporter(export.ExporterConfig{
		Window:   a.window,
		Sinks:    a.sinks,
		Interval: a.cfg.Export.Interval.Std(),
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}
	a.exporter = exp
	return nil
}

// initHealth registers the readiness checkers.
func (a *App) initHealth() {
	a.healthz = health.New(
		health.Checker{Name: "session", Check: func(context.Context) error {
			if a.session == nil {
				return errors.New("not initialised")
			}
			return nil
		}},
		health.Checker{Name: "link", Check: func(context.Context) error {
			if a.cfg.Acquisition.Source == acquire.SourceSensor && a.providers.Link == nil {
				return errors.New("sensor source configured without a link")
			}
			return nil
		}},
		health.Checker{Name: "interpreter", Check: func(context.Context) error {
			if a.interpreter == nil {
				return errors.New("not initialised")
			}
			return nil
		}},
		health.Checker{Name: "export", Check: func(context.Context) error {
			if a.exporter == nil {
				return errors.New("not initialised")
			}
			return nil
		}},
	)
}

// initServer assembles the HTTP server around the route table.
func (a *App) initServer() {
	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the assembled route table, mainly for httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

// Session exposes the acquisition session, mainly for tests.
func (a *App) Session() *acquire.Session {
	return a.session
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the exporter and serves the operator API, blocking until ctx
// is cancelled or the server fails. On cancellation the server is drained
// with a grace period and Run returns the context error.
func (a *App) Run(ctx context.Context) error {
	a.exporter.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tlsCfg := a.cfg.Server.TLS
		slog.Info("http server listening", "addr", a.srv.Addr, "tls", tlsCfg != nil)

		var err error
		if tlsCfg != nil {
			err = a.srv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// End the active run first so nothing appends to the window while
		// sinks are being closed.
		if a.session != nil && a.session.Running() {
			if err := a.session.Stop(); err != nil {
				slog.Warn("session stop error", "error", err)
			}
		}

		if a.exporter != nil {
			a.exporter.Stop()
			// One last cycle so samples acquired since the previous tick
			// still reach the sinks.
			if err := a.exporter.ExportNow(ctx); err != nil {
				slog.Warn("final export failed", "error", err)
			}
		}

		// Closers run in reverse registration order, like defers.
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
