// Package outbound provides a transactional wrapper around message
// publication. While a transaction is open, sends are buffered; Commit
// flushes them to the transport in enqueue order and Rollback discards them.
// A handler that enqueues notifications and then fails therefore never leaks
// a partial set of messages.
package outbound

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// Options are the head flags attached to a message at enqueue time. They are
// frozen into the encoded frame immediately; nothing is re-derived at flush.
type Options struct {
	ConnectionID string
	Broadcast    bool
	AvoidSelf    bool
	IsControl    bool
	ReqLevel     int
}

// Channel buffers outbound frames for one request.
type Channel struct {
	publisher transport.Publisher
	logger    *zap.Logger
	open      bool
	buffer    [][]byte
}

// New creates a channel over the given publisher.
func New(publisher transport.Publisher, logger *zap.Logger) *Channel {
	return &Channel{publisher: publisher, logger: logger.Named("outbound")}
}

// Begin opens a transaction. Subsequent sends buffer until Commit.
func (c *Channel) Begin() {
	c.open = true
	c.buffer = nil
}

// Send encodes body into a frame with the given head flags. Inside a
// transaction the encoded frame is buffered; outside, it is published
// immediately.
func (c *Channel) Send(body any, opts Options) error {
	frame := envelope.Frame{
		Head: envelope.Head{
			ConnectionID: opts.ConnectionID,
			Broadcast:    opts.Broadcast,
			AvoidSelf:    opts.AvoidSelf,
			IsControl:    opts.IsControl,
			ReqLevel:     opts.ReqLevel,
		},
	}
	encodedBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	frame.Body = encodedBody
	encoded, err := frame.Encode()
	if err != nil {
		return err
	}

	if c.open {
		c.buffer = append(c.buffer, encoded)
		return nil
	}
	return c.publisher.Publish(encoded)
}

// Commit publishes every buffered frame in enqueue order, then clears the
// buffer and closes the transaction. On a publish failure the remaining
// frames are dropped and the error is returned; durable state has already
// committed by the time Commit runs, so there is nothing to unwind here.
func (c *Channel) Commit() error {
	for i, msg := range c.buffer {
		if err := c.publisher.Publish(msg); err != nil {
			c.logger.Error("Outbound flush failed",
				zap.Int("flushed", i),
				zap.Int("buffered", len(c.buffer)),
				zap.Error(err),
			)
			c.buffer = nil
			c.open = false
			return err
		}
	}
	c.buffer = nil
	c.open = false
	return nil
}

// Rollback discards buffered frames without publishing.
func (c *Channel) Rollback() {
	c.buffer = nil
	c.open = false
}

// Close clears any remaining buffer. Safe after Commit or Rollback.
func (c *Channel) Close() {
	c.buffer = nil
	c.open = false
}

// Buffered returns the number of frames waiting for Commit.
func (c *Channel) Buffered() int {
	return len(c.buffer)
}
