// Package mock provides in-memory mock implementations of the
// [sensor.Link] and [sensor.Conn] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Conn{}
//	link := &mock.Link{ConnectResult: conn}
//	got, err := link.Connect(ctx)
//	// drive the subscriber from the test:
//	conn.EmitChunk(sensor.Chunk("0.5\n0.75\n"))
//	conn.EmitFailure(errors.New("radio gone"))
package mock

import (
	"context"
	"sync"

	"github.com/fennwaldt/pulsetrace/pkg/sensor"
)

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock implementation of [sensor.Conn].
// Set the exported Result fields before use; inspect the Call* fields after.
type Conn struct {
	mu sync.Mutex

	// SubscribeError, when non-nil, is returned by [Conn.Subscribe]
	// instead of registering the subscription.
	SubscribeError error

	// DisconnectError is returned by [Conn.Disconnect].
	DisconnectError error

	// CallCountSubscribe records how many times Subscribe was called.
	CallCountSubscribe int

	// CallCountUnsubscribe records how many times Unsubscribe was called.
	CallCountUnsubscribe int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedSubscriptions holds every subscription passed to Subscribe,
	// in order of registration, including rejected ones.
	RecordedSubscriptions []sensor.Subscription

	subscribed bool
	active     sensor.Subscription
}

// Subscribe implements [sensor.Conn]. Registers the subscription unless
// SubscribeError is set or a subscriber is already active.
func (c *Conn) Subscribe(sub sensor.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountSubscribe++
	c.RecordedSubscriptions = append(c.RecordedSubscriptions, sub)
	if c.SubscribeError != nil {
		return c.SubscribeError
	}
	if c.subscribed {
		return sensor.ErrAlreadySubscribed
	}
	c.subscribed = true
	c.active = sub
	return nil
}

// Unsubscribe implements [sensor.Conn]. Releases the subscriber slot.
func (c *Conn) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountUnsubscribe++
	c.subscribed = false
	c.active = sensor.Subscription{}
}

// Disconnect implements [sensor.Conn]. Returns DisconnectError.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	c.subscribed = false
	c.active = sensor.Subscription{}
	return c.DisconnectError
}

// EmitChunk delivers a chunk to the active subscriber, if any.
// Use this in tests to simulate sensor traffic.
func (c *Conn) EmitChunk(chunk sensor.Chunk) {
	c.mu.Lock()
	cb := c.active.OnChunk
	subscribed := c.subscribed
	c.mu.Unlock()
	if subscribed && cb != nil {
		cb(chunk)
	}
}

// EmitFailure delivers a transport failure to the active subscriber, if
// any. Use this in tests to simulate the sensor dropping off the air.
func (c *Conn) EmitFailure(err error) {
	c.mu.Lock()
	cb := c.active.OnFailure
	subscribed := c.subscribed
	c.mu.Unlock()
	if subscribed && cb != nil {
		cb(err)
	}
}

// ─── Link ─────────────────────────────────────────────────────────────────────

// Link is a mock implementation of [sensor.Link].
type Link struct {
	mu sync.Mutex

	// ConnectResult is the [sensor.Conn] returned by Connect.
	ConnectResult sensor.Conn

	// ConnectError is the error returned by Connect.
	ConnectError error

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int
}

// Connect implements [sensor.Link]. Records the call and returns
// ConnectResult / ConnectError.
func (l *Link) Connect(_ context.Context) (sensor.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.CallCountConnect++
	return l.ConnectResult, l.ConnectError
}
