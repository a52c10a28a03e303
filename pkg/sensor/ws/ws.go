// Package ws implements the sensor link over a WebSocket gateway.
//
// Field deployments terminate the short-range radio link on a bridge
// (typically a BLE gateway) that re-exposes the sensor notification
// stream as WebSocket messages. This adapter dials the bridge and
// forwards every message payload as one opaque chunk. Text and binary
// messages are both accepted; record framing is decided upstream by
// configuration, not by the transport.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fennwaldt/pulsetrace/pkg/sensor"
)

const defaultDialTimeout = 10 * time.Second

// Option is a functional option for configuring the gateway Link.
type Option func(*Link)

// WithToken sets the bearer token presented during the WebSocket
// handshake. Gateways without authentication ignore it.
func WithToken(token string) Option {
	return func(l *Link) {
		l.token = token
	}
}

// WithDialTimeout bounds the connection attempt. Defaults to 10 seconds.
func WithDialTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.dialTimeout = d
	}
}

// Link implements [sensor.Link] against a WebSocket sensor gateway.
type Link struct {
	url         string
	token       string
	dialTimeout time.Duration
}

// New creates a Link for the given gateway URL (ws:// or wss://).
func New(rawURL string, opts ...Option) (*Link, error) {
	if rawURL == "" {
		return nil, errors.New("ws: gateway URL must not be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ws: parse gateway URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("ws: unsupported scheme %q in gateway URL", u.Scheme)
	}
	l := &Link{url: rawURL, dialTimeout: defaultDialTimeout}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Connect implements [sensor.Link].
func (l *Link) Connect(ctx context.Context) (sensor.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, l.dialTimeout)
	defer cancel()

	var headers http.Header
	if l.token != "" {
		headers = http.Header{}
		headers.Set("Authorization", "Bearer "+l.token)
	}
	wsc, _, err := websocket.Dial(dialCtx, l.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w: %v", l.url, sensor.ErrConnection, err)
	}

	readCtx, stop := context.WithCancel(context.Background())
	return &conn{ws: wsc, readCtx: readCtx, stop: stop, done: make(chan struct{})}, nil
}

// conn is a live gateway connection. It implements [sensor.Conn].
type conn struct {
	ws      *websocket.Conn
	readCtx context.Context
	stop    context.CancelFunc
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu      sync.Mutex
	sub     *sensor.Subscription
	reading bool
}

// Subscribe implements [sensor.Conn]. The read loop starts on the first
// subscription, so no gateway traffic is consumed (and silently lost)
// before a subscriber is attached.
func (c *conn) Subscribe(sub sensor.Subscription) error {
	if sub.OnChunk == nil {
		return errors.New("ws: subscription needs an OnChunk callback")
	}
	select {
	case <-c.done:
		return fmt.Errorf("ws: connection is closed: %w", sensor.ErrNotReady)
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return sensor.ErrAlreadySubscribed
	}
	c.sub = &sub
	if !c.reading {
		c.reading = true
		c.wg.Add(1)
		go c.readLoop(c.readCtx)
	}
	return nil
}

// Unsubscribe implements [sensor.Conn]. The read loop keeps draining the
// transport so a later Subscribe resumes from live traffic.
func (c *conn) Unsubscribe() {
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
}

// Disconnect implements [sensor.Conn].
func (c *conn) Disconnect() error {
	c.once.Do(func() {
		close(c.done)
		c.stop()
		_ = c.ws.Close(websocket.StatusNormalClosure, "link closed")
		c.wg.Wait()
	})
	return nil
}

// readLoop receives messages from the gateway and forwards each payload
// to the subscriber. A single loop delivers all chunks, so arrival order
// is preserved. Any read error that was not caused by a local Disconnect
// ends the stream and is reported through OnFailure; a clean close from
// the gateway side still counts as a failure because the acquisition
// expected a continuous stream.
func (c *conn) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(fmt.Errorf("ws: gateway stream ended: %w", err))
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()
		if sub != nil {
			sub.OnChunk(sensor.Chunk(data))
		}
	}
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub != nil && sub.OnFailure != nil {
		sub.OnFailure(err)
	}
}
