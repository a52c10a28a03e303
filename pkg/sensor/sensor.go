// Package sensor defines the interfaces and types for wireless biosignal
// sensor connectivity within pulsetrace.
//
// The two primary abstractions are:
//
//   - [Link] — reaches a sensor device and returns a [Conn].
//   - [Conn] — represents an active data channel on that device, delivering
//     raw payload chunks and a terminal failure notification.
//
// Implementations of these interfaces are provided by transport-specific
// adapter packages (e.g., sensor/ws, sensor/replay). The interfaces are
// intentionally narrow to keep the acquisition session decoupled from
// transport details: chunks are opaque bytes here, and record framing is
// the concern of the reassembly layer.
//
// This package lives under pkg/ because external code (alternative
// transport bridges) is expected to implement [Link] and [Conn].
package sensor

import (
	"context"
	"errors"
)

// Sentinel errors returned by link and connection operations. Adapters
// wrap these so callers can classify failures with [errors.Is] without
// depending on transport-specific error types.
var (
	// ErrNotSupported indicates the link cannot perform the requested
	// operation (for example, a transport without streaming support).
	ErrNotSupported = errors.New("operation not supported by this link")

	// ErrNotFound indicates the sensor device or its data source does
	// not exist (unknown device address, missing capture file).
	ErrNotFound = errors.New("sensor not found")

	// ErrConnection indicates the transport could not be established or
	// broke during setup.
	ErrConnection = errors.New("sensor connection failed")

	// ErrNotReady indicates an operation arrived before the link or
	// connection reached the required state.
	ErrNotReady = errors.New("sensor link is not ready")

	// ErrAlreadySubscribed indicates a second Subscribe on a connection
	// that already has a subscriber.
	ErrAlreadySubscribed = errors.New("a subscriber is already registered")
)

// Chunk is one raw payload delivered by a sensor connection. Chunk
// boundaries carry no meaning; record framing is reconstructed downstream.
type Chunk []byte

// Subscription carries the callbacks through which a [Conn] delivers its
// stream. Both callbacks are invoked on an internal goroutine of the
// connection and must not block; chunk delivery order matches arrival
// order on the transport.
type Subscription struct {
	// OnChunk receives each raw payload. Required.
	OnChunk func(Chunk)

	// OnFailure is invoked at most once, when the transport dies for any
	// reason other than a local Disconnect. After OnFailure no further
	// chunks are delivered. Optional.
	OnFailure func(error)
}

// Conn represents an active data channel to a sensor.
//
// A Conn is obtained by calling [Link.Connect] and remains valid until
// [Conn.Disconnect] is called or the transport fails.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// Subscribe registers the subscription and starts chunk delivery.
	// A connection carries at most one subscriber; a second Subscribe
	// returns [ErrAlreadySubscribed] until Unsubscribe is called.
	Subscribe(sub Subscription) error

	// Unsubscribe stops chunk delivery and releases the subscriber slot.
	// Safe to call without an active subscription.
	Unsubscribe()

	// Disconnect tears down the transport and stops all delivery
	// goroutines before returning. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Link is the entry point for a sensor transport. Implementations wrap
// transport-specific mechanics (WebSocket bridges, recorded captures)
// and expose a uniform [Conn] abstraction.
//
// Implementations must be safe for concurrent use.
type Link interface {
	// Connect establishes the transport and returns an active [Conn].
	// The supplied ctx governs the lifetime of the connection attempt
	// only; once connected, the Conn remains alive until
	// [Conn.Disconnect] is called or the transport fails.
	Connect(ctx context.Context) (Conn, error)
}
