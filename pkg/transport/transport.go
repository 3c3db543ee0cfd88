// Package transport abstracts the message queue connecting the socket edge
// and the listener service. The AMQP implementation talks to a broker with
// durable queues and manual acknowledgement; the memory implementation backs
// tests.
package transport

import (
	"context"
	"errors"
)

// ErrClosed reports an operation against a transport whose connection is
// gone. Worker loops treat it as a signal to reconnect with backoff.
var ErrClosed = errors.New("transport: connection closed")

// Delivery is one consumed message with the handle needed to settle it.
type Delivery struct {
	Tag  uint64
	Body []byte
}

// Publisher is the outbound half of a transport. The outbound channel and the
// router's direct error publishes only need this.
type Publisher interface {
	Publish(body []byte) error
}

// Transport is a bidirectional queue connection owned by a single worker.
type Transport interface {
	Publisher

	// Connect (re-)establishes the connection. Safe to call after a
	// connection loss; no state from the broken connection is reused.
	Connect() error

	// IsClosed reports whether the connection needs a Connect.
	IsClosed() bool

	// Consume returns a channel of deliveries. The channel closes when the
	// connection drops or the context is cancelled.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Ack settles a delivery as processed.
	Ack(tag uint64) error

	// Nack rejects a delivery without requeueing it; broker-side dead
	// letter configuration decides its fate.
	Nack(tag uint64) error

	// Close shuts the connection down for good.
	Close() error
}
