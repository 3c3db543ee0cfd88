// Package consumer runs the listener service's delivery loop: consume one
// frame at a time from the queue, hand it to the router, and settle it with
// an ack or a no-requeue nack. Lost connections to either the broker or the
// database heal themselves with a fixed backoff.
package consumer

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/store"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// Handler processes one decoded frame. A nil return acknowledges the
// delivery; an error rejects it without requeueing.
type Handler interface {
	Handle(frame *envelope.Frame) error
}

// StoreConn is a store with a reconnectable connection.
type StoreConn interface {
	store.Store
	Connect() error
	IsClosed() bool
	Invalidate()
}

// Consumer owns one transport connection and one store connection and drains
// deliveries until its context is cancelled.
type Consumer struct {
	transport transport.Transport
	store     StoreConn
	handler   Handler
	logger    *zap.Logger
	backoff   time.Duration
	metrics   *Metrics
}

// New creates a consumer. backoff is the delay between reconnection attempts
// after a connection loss.
func New(tr transport.Transport, st StoreConn, handler Handler, backoff time.Duration, metrics *Metrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		transport: tr,
		store:     st,
		handler:   handler,
		logger:    logger.Named("consumer"),
		backoff:   backoff,
		metrics:   metrics,
	}
}

// Run consumes until ctx is cancelled. It only returns the context's error;
// every infrastructure failure is retried in place.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			return err
		}

		deliveries, err := c.transport.Consume(ctx)
		if err != nil {
			c.logger.Warn("Consume failed", zap.Error(err))
			c.transport.Close()
			if err := c.wait(ctx); err != nil {
				return err
			}
			continue
		}

		c.drain(ctx, deliveries)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The delivery channel closed without cancellation: the broker
		// connection dropped.
		c.logger.Warn("Delivery stream closed, reconnecting")
		c.transport.Close()
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
}

// drain processes deliveries until the channel closes, re-establishing the
// store connection between deliveries when a fault invalidated it.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan transport.Delivery) {
	for d := range deliveries {
		c.handleDelivery(d)
		if c.store.IsClosed() {
			if err := c.ensureConnected(ctx); err != nil {
				return
			}
		}
	}
}

// handleDelivery settles exactly one delivery. Undecodable frames and handler
// faults are rejected without requeueing; a fault classified as a lost store
// connection also invalidates the pool so the next delivery starts fresh.
func (c *Consumer) handleDelivery(d transport.Delivery) {
	c.metrics.Consumed.Inc()
	started := time.Now()

	frame, err := envelope.DecodeFrame(d.Body)
	if err != nil {
		c.logger.Warn("Undecodable frame", zap.Error(err))
		c.nack(d.Tag)
		return
	}

	if err := c.handler.Handle(frame); err != nil {
		c.logger.Error("Request processing failed", zap.Error(err))
		if connectivityFault(err) {
			c.store.Invalidate()
		}
		c.nack(d.Tag)
		return
	}

	if err := c.transport.Ack(d.Tag); err != nil {
		c.logger.Warn("Ack failed", zap.Uint64("tag", d.Tag), zap.Error(err))
		return
	}
	c.metrics.Acked.Inc()
	c.metrics.HandleDuration.Observe(time.Since(started).Seconds())
}

// connectivityFault reports whether err is a lost-connection signal rather
// than a request-level failure. Request-level failures are settled with a
// nack and leave both connections alone.
func connectivityFault(err error) bool {
	return errors.Is(err, store.ErrNotConnected) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, transport.ErrClosed)
}

func (c *Consumer) nack(tag uint64) {
	if err := c.transport.Nack(tag); err != nil {
		c.logger.Warn("Nack failed", zap.Uint64("tag", tag), zap.Error(err))
		return
	}
	c.metrics.Nacked.Inc()
}

// ensureConnected brings both connections up, retrying with backoff until
// success or cancellation.
func (c *Consumer) ensureConnected(ctx context.Context) error {
	for c.store.IsClosed() || c.transport.IsClosed() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.store.IsClosed() {
			if err := c.store.Connect(); err != nil {
				c.logger.Warn("Database reconnect failed", zap.Error(err))
				c.metrics.Reconnects.Inc()
				if err := c.wait(ctx); err != nil {
					return err
				}
				continue
			}
			c.metrics.Reconnects.Inc()
		}
		if c.transport.IsClosed() {
			if err := c.transport.Connect(); err != nil {
				c.logger.Warn("Broker reconnect failed", zap.Error(err))
				c.metrics.Reconnects.Inc()
				if err := c.wait(ctx); err != nil {
					return err
				}
				continue
			}
			c.metrics.Reconnects.Inc()
			c.logger.Info("Broker connection established")
		}
	}
	return nil
}

// wait sleeps for the backoff period, cut short by cancellation.
func (c *Consumer) wait(ctx context.Context) error {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
