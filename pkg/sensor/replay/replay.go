// Package replay implements the sensor link from a recorded capture file.
//
// A capture is the raw byte stream of a previous sensor run, saved
// verbatim. The link replays it as paced chunks, which makes full
// pipeline runs reproducible without radio hardware: demos, integration
// tests and framing experiments all feed from the same file.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fennwaldt/pulsetrace/pkg/sensor"
)

const (
	defaultInterval  = 20 * time.Millisecond
	defaultChunkSize = 64
)

// Option is a functional option for configuring the replay Link.
type Option func(*Link)

// WithInterval sets the pause between replayed chunks. Defaults to 20 ms.
func WithInterval(d time.Duration) Option {
	return func(l *Link) {
		l.interval = d
	}
}

// WithChunkSize sets how many bytes each chunk carries. Defaults to 64.
func WithChunkSize(n int) Option {
	return func(l *Link) {
		l.chunkSize = n
	}
}

// WithLoop restarts the capture from the beginning whenever it ends, so
// the stream never runs dry.
func WithLoop(loop bool) Option {
	return func(l *Link) {
		l.loop = loop
	}
}

// Link implements [sensor.Link] by replaying a capture file.
type Link struct {
	path      string
	interval  time.Duration
	chunkSize int
	loop      bool
}

// New creates a Link replaying the capture at path.
func New(path string, opts ...Option) (*Link, error) {
	if path == "" {
		return nil, errors.New("replay: capture path must not be empty")
	}
	l := &Link{path: path, interval: defaultInterval, chunkSize: defaultChunkSize}
	for _, o := range opts {
		o(l)
	}
	if l.interval <= 0 {
		return nil, fmt.Errorf("replay: interval %v must be positive", l.interval)
	}
	if l.chunkSize <= 0 {
		return nil, fmt.Errorf("replay: chunk size %d must be positive", l.chunkSize)
	}
	return l, nil
}

// Connect implements [sensor.Link]. The capture is read fully up front so
// a vanished file surfaces here rather than mid-replay.
func (l *Link) Connect(_ context.Context) (sensor.Conn, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("replay: capture %s: %w: %v", l.path, sensor.ErrNotFound, err)
		}
		return nil, fmt.Errorf("replay: read capture %s: %w: %v", l.path, sensor.ErrConnection, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("replay: capture %s is empty: %w", l.path, sensor.ErrNotFound)
	}

	c := &conn{
		data:      data,
		interval:  l.interval,
		chunkSize: l.chunkSize,
		loop:      l.loop,
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.feed()
	return c, nil
}

// conn is an active replay. It implements [sensor.Conn].
type conn struct {
	data      []byte
	interval  time.Duration
	chunkSize int
	loop      bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	sub *sensor.Subscription
	off int
}

// Subscribe implements [sensor.Conn].
func (c *conn) Subscribe(sub sensor.Subscription) error {
	if sub.OnChunk == nil {
		return errors.New("replay: subscription needs an OnChunk callback")
	}
	select {
	case <-c.done:
		return fmt.Errorf("replay: connection is closed: %w", sensor.ErrNotReady)
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return sensor.ErrAlreadySubscribed
	}
	c.sub = &sub
	return nil
}

// Unsubscribe implements [sensor.Conn].
func (c *conn) Unsubscribe() {
	c.mu.Lock()
	c.sub = nil
	c.mu.Unlock()
}

// Disconnect implements [sensor.Conn].
func (c *conn) Disconnect() error {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

// feed paces chunks out of the capture. Once a non-looping capture is
// exhausted the stream has ended, which is reported as a failure just
// like a live sensor dropping off the air.
func (c *conn) feed() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.emit() {
				c.fail(fmt.Errorf("replay: capture exhausted: %w", io.EOF))
				return
			}
		}
	}
}

// emit delivers the next chunk to the subscriber. Ticks that land while
// no subscriber is attached do not advance the stream, so a late
// subscriber still sees the capture from the beginning. Returns false
// once a non-looping capture is exhausted.
func (c *conn) emit() bool {
	c.mu.Lock()
	sub := c.sub
	if sub == nil {
		c.mu.Unlock()
		return true
	}
	if c.off >= len(c.data) {
		if !c.loop {
			c.mu.Unlock()
			return false
		}
		c.off = 0
	}
	end := min(c.off+c.chunkSize, len(c.data))
	chunk := c.data[c.off:end]
	c.off = end
	c.mu.Unlock()

	sub.OnChunk(sensor.Chunk(chunk))
	return true
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub != nil && sub.OnFailure != nil {
		sub.OnFailure(err)
	}
}
