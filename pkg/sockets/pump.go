package sockets

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/fanout"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// Pump consumes response frames from the queue and routes them to connected
// sockets. Like the listener's loop, it reconnects with a fixed backoff.
type Pump struct {
	transport transport.Transport
	registry  *fanout.Registry
	backoff   time.Duration
	logger    *zap.Logger
}

// NewPump creates the response pump.
func NewPump(tr transport.Transport, registry *fanout.Registry, backoff time.Duration, logger *zap.Logger) *Pump {
	return &Pump{
		transport: tr,
		registry:  registry,
		backoff:   backoff,
		logger:    logger.Named("pump"),
	}
}

// Run pumps until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	for {
		if p.transport.IsClosed() {
			if err := p.transport.Connect(); err != nil {
				p.logger.Warn("Broker reconnect failed", zap.Error(err))
				if err := p.wait(ctx); err != nil {
					return err
				}
				continue
			}
			p.logger.Info("Broker connection established")
		}

		deliveries, err := p.transport.Consume(ctx)
		if err != nil {
			p.logger.Warn("Consume failed", zap.Error(err))
			p.transport.Close()
			if err := p.wait(ctx); err != nil {
				return err
			}
			continue
		}

		for d := range deliveries {
			p.handleDelivery(d)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.logger.Warn("Delivery stream closed, reconnecting")
		p.transport.Close()
		if err := p.wait(ctx); err != nil {
			return err
		}
	}
}

func (p *Pump) handleDelivery(d transport.Delivery) {
	frame, err := envelope.DecodeFrame(d.Body)
	if err != nil {
		p.logger.Warn("Undecodable frame", zap.Error(err))
		if err := p.transport.Nack(d.Tag); err != nil {
			p.logger.Warn("Nack failed", zap.Error(err))
		}
		return
	}
	p.registry.Route(frame)
	if err := p.transport.Ack(d.Tag); err != nil {
		p.logger.Warn("Ack failed", zap.Error(err))
	}
}

func (p *Pump) wait(ctx context.Context) error {
	timer := time.NewTimer(p.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
