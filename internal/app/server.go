package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fennwaldt/pulsetrace/internal/acquire"
	"github.com/fennwaldt/pulsetrace/internal/interpret"
	"github.com/fennwaldt/pulsetrace/internal/observe"
	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// Render feed geometry: every feedInterval the server pushes the newest
// feedTailSamples samples to each connected client.
const (
	feedInterval    = 250 * time.Millisecond
	feedTailSamples = 250
)

// routes assembles the operator API. Everything, including the WebSocket
// upgrade, goes through the metrics middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session/start", a.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", a.handleSessionStop)
	mux.HandleFunc("POST /api/session/reset", a.handleSessionReset)
	mux.HandleFunc("GET /api/session", a.handleSession)
	mux.HandleFunc("GET /api/samples", a.handleSamples)
	mux.HandleFunc("GET /api/report", a.handleReport)
	mux.HandleFunc("GET /api/stream", a.handleStream)

	a.healthz.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// startRequest is the body of POST /api/session/start. Every field is
// optional; absent fields fall back to the configured acquisition defaults.
// Rate and Noise are pointers so a caller can explicitly override a
// configured value with zero.
type startRequest struct {
	Source string   `json:"source"`
	Rate   *float64 `json:"rate"`
	Noise  *float64 `json:"noise"`
}

// sessionStatus is the JSON view of the session lifecycle.
type sessionStatus struct {
	State     string  `json:"state"`
	RunID     string  `json:"runId,omitempty"`
	Source    string  `json:"source,omitempty"`
	Rate      float64 `json:"rate,omitempty"`
	Noise     float64 `json:"noise,omitempty"`
	ElapsedMS int64   `json:"elapsedMs"`
	Samples   int     `json:"samples"`
	Error     string  `json:"error,omitempty"`
}

// samplesView is the JSON shape of GET /api/samples.
type samplesView struct {
	Count   int               `json:"count"`
	Samples []waveform.Sample `json:"samples"`
}

// feedFrame is one push on the render feed.
type feedFrame struct {
	State     string            `json:"state"`
	ElapsedMS int64             `json:"elapsedMs"`
	Samples   []waveform.Sample `json:"samples"`
}

func (a *App) status() sessionStatus {
	src := a.session.Source()
	st := sessionStatus{
		State:     a.session.State().String(),
		RunID:     a.session.RunID(),
		Source:    string(src.Kind),
		ElapsedMS: a.session.Elapsed().Milliseconds(),
		Samples:   a.window.Len(),
	}
	if src.Kind == acquire.SourceSynthetic {
		st.Rate = src.Rate
		st.Noise = src.Noise
	}
	if err := a.session.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// handleSessionStart arms a new run. The response is 202 because samples
// only begin to flow once the countdown has elapsed.
func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	src := acquire.SourceConfig{
		Kind:  a.cfg.Acquisition.Source,
		Rate:  a.cfg.Acquisition.Rate,
		Noise: a.cfg.Acquisition.Noise,
	}
	if req.Source != "" {
		src.Kind = acquire.SourceKind(req.Source)
	}
	if req.Rate != nil {
		src.Rate = *req.Rate
	}
	if req.Noise != nil {
		src.Noise = *req.Noise
	}

	if err := a.session.Start(r.Context(), src); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.status())
}

func (a *App) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := a.session.Stop(); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.status())
}

// handleSessionReset force-stops any active run and discards all run state
// including the sample window.
func (a *App) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	a.session.HardReset()
	writeJSON(w, http.StatusOK, a.status())
}

func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status())
}

// handleSamples serves the window contents, oldest first. The optional
// limit query bounds the response to the newest limit samples.
func (a *App) handleSamples(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	var samples []waveform.Sample
	if limit > 0 {
		samples = a.window.Tail(limit)
	} else {
		samples = a.window.Snapshot()
	}
	writeJSON(w, http.StatusOK, samplesView{Count: len(samples), Samples: samples})
}

// handleReport interprets the current window snapshot. Interpretation
// failures are not surfaced as HTTP errors; the endpoint degrades to the
// indeterminate default report and acquisition is never disturbed.
func (a *App) handleReport(w http.ResponseWriter, r *http.Request) {
	reading := interpret.NewReading(a.window.Snapshot())

	ctx := r.Context()
	if t := a.cfg.Interpreter.Timeout.Std(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	name := a.interpreter.Name()
	start := time.Now()
	rep, err := a.interpreter.Interpret(ctx, reading)
	a.metrics.RecordInterpreterDuration(r.Context(), name, time.Since(start))
	if err != nil {
		a.metrics.RecordInterpreterRequest(r.Context(), name, "error")
		slog.Warn("interpretation failed, serving default report", "interpreter", name, "error", err)
		writeJSON(w, http.StatusOK, interpret.DefaultReport())
		return
	}
	a.metrics.RecordInterpreterRequest(r.Context(), name, "ok")
	writeJSON(w, http.StatusOK, rep)
}

// handleStream upgrades to WebSocket and pushes window tails at the
// display cadence until the client goes away or the server shuts down.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("render feed upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	// Client ID keeps connect/disconnect pairs matchable in the logs even
	// when remote ports are reused.
	clientID := uuid.NewString()
	ctx := r.Context()
	a.metrics.AddStreamClients(ctx, 1)
	defer a.metrics.AddStreamClients(context.Background(), -1)
	slog.Info("render feed client connected", "client_id", clientID, "remote", r.RemoteAddr)

	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
			push := feedFrame{
				State:     a.session.State().String(),
				ElapsedMS: a.session.Elapsed().Milliseconds(),
				Samples:   a.window.Tail(feedTailSamples),
			}
			writeCtx, cancel := context.WithTimeout(ctx, feedInterval)
			err := wsjson.Write(writeCtx, conn, push)
			cancel()
			if err != nil {
				slog.Debug("render feed client disconnected", "client_id", clientID, "error", err)
				return
			}
		}
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// writeError emits the {"error": ...} body shared by all failure responses.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSessionError maps session control errors onto HTTP status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, acquire.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, acquire.ErrAlreadyRunning), errors.Is(err, acquire.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
