package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fennwaldt/pulsetrace/pkg/sensor"
	"github.com/fennwaldt/pulsetrace/pkg/sensor/ws"
)

// recv waits for one value with a generous timeout so slow CI machines
// do not flake.
func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// wsURL rewrites an httptest server URL to the ws scheme.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := ws.New(""); err == nil {
		t.Error("New(\"\"): want error")
	}
	if _, err := ws.New("http://gateway.local"); err == nil {
		t.Error("New() with http scheme: want error")
	}
	if _, err := ws.New("ws://gateway.local/stream"); err != nil {
		t.Errorf("New() error: %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := wsURL(srv)
	srv.Close()

	link, err := ws.New(addr, ws.WithDialTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err = link.Connect(context.Background())
	if !errors.Is(err, sensor.ErrConnection) {
		t.Errorf("Connect() error = %v, want sensor.ErrConnection", err)
	}
}

func TestDeliveryOrderAndStreamEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = c.Write(ctx, websocket.MessageText, []byte("0.5\n"))
		_ = c.Write(ctx, websocket.MessageBinary, []byte("0.75\n"))
		c.Close(websocket.StatusNormalClosure, "capture complete")
	}))
	defer srv.Close()

	link, err := ws.New(wsURL(srv))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	conn, err := link.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer conn.Disconnect()

	chunks := make(chan string, 8)
	failures := make(chan error, 1)
	err = conn.Subscribe(sensor.Subscription{
		OnChunk:   func(c sensor.Chunk) { chunks <- string(c) },
		OnFailure: func(err error) { failures <- err },
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if got := recv(t, chunks, "first chunk"); got != "0.5\n" {
		t.Errorf("first chunk = %q, want %q", got, "0.5\n")
	}
	if got := recv(t, chunks, "second chunk"); got != "0.75\n" {
		t.Errorf("second chunk = %q, want %q", got, "0.75\n")
	}
	// The gateway closing its side ends the stream; the subscriber must
	// hear about it even though the close was clean.
	if err := recv(t, failures, "stream end"); err == nil {
		t.Error("OnFailure received nil error")
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	link, err := ws.New(wsURL(srv))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	conn, err := link.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	sub := sensor.Subscription{OnChunk: func(sensor.Chunk) {}}
	if err := conn.Subscribe(sensor.Subscription{}); err == nil {
		t.Error("Subscribe() without OnChunk: want error")
	}
	if err := conn.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if err := conn.Subscribe(sub); !errors.Is(err, sensor.ErrAlreadySubscribed) {
		t.Errorf("second Subscribe() error = %v, want sensor.ErrAlreadySubscribed", err)
	}

	conn.Unsubscribe()
	if err := conn.Subscribe(sub); err != nil {
		t.Errorf("Subscribe() after Unsubscribe error: %v", err)
	}

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error: %v", err)
	}
	if err := conn.Subscribe(sub); !errors.Is(err, sensor.ErrNotReady) {
		t.Errorf("Subscribe() after Disconnect error = %v, want sensor.ErrNotReady", err)
	}
}
