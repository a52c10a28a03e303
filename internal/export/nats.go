package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fennwaldt/pulsetrace/pkg/waveform"
)

// natsConnName labels the connection in NATS server monitoring.
const natsConnName = "pulsetrace-export"

// NATSSink publishes each batch as one JSON message on a NATS subject, for
// downstream consumers that want the live sample stream without touching
// the HTTP surface.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// natsBatch is the published message shape.
type natsBatch struct {
	ExportedAt time.Time         `json:"exported_at"`
	Samples    []waveform.Sample `json:"samples"`
}

// NewNATSSink connects to the NATS server at url and publishes to subject.
// An empty url falls back to nats.DefaultURL. The connection reconnects
// indefinitely; publishes during an outage fail and are retried with the
// next batch.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		return nil, fmt.Errorf("export: nats subject must not be empty")
	}
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(
		url,
		nats.Name(natsConnName),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("export: connect nats %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Write implements Sink.
func (s *NATSSink) Write(ctx context.Context, batch []waveform.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(natsBatch{
		ExportedAt: time.Now().UTC(),
		Samples:    batch,
	})
	if err != nil {
		return fmt.Errorf("export: encode nats batch: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("export: publish %s: %w", s.subject, err)
	}
	return nil
}

// Name implements Sink.
func (s *NATSSink) Name() string {
	return "nats"
}

// Close implements Sink. Drain flushes buffered publishes before closing.
func (s *NATSSink) Close() error {
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Drain()
}

// Ensure NATSSink implements Sink at compile time.
var _ Sink = (*NATSSink)(nil)
