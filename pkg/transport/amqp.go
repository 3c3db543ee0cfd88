package transport

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPConfig names the broker resources an AMQP transport binds.
type AMQPConfig struct {
	URL      string
	Exchange string

	// ConsumeQueue is the queue this worker drains.
	ConsumeQueue string

	// PublishKey is the routing key (and queue name) outbound messages are
	// published under.
	PublishKey string
}

// AMQP implements Transport over a RabbitMQ connection. One worker owns the
// connection exclusively; it declares a durable direct exchange and both
// queues on connect so either process can start first.
type AMQP struct {
	cfg    AMQPConfig
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ Transport = (*AMQP)(nil)

// NewAMQP prepares an AMQP transport without connecting.
func NewAMQP(cfg AMQPConfig, logger *zap.Logger) *AMQP {
	return &AMQP{cfg: cfg, logger: logger.Named("mq")}
}

// Connect dials the broker and declares the exchange and queues.
func (t *AMQP) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := amqp.Dial(t.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(t.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}
	for _, queue := range []string{t.cfg.ConsumeQueue, t.cfg.PublishKey} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return err
		}
		if err := ch.QueueBind(queue, queue, t.cfg.Exchange, false, nil); err != nil {
			_ = conn.Close()
			return err
		}
	}

	t.conn = conn
	t.channel = ch
	t.logger.Info("Connected to broker",
		zap.String("exchange", t.cfg.Exchange),
		zap.String("consume_queue", t.cfg.ConsumeQueue),
		zap.String("publish_key", t.cfg.PublishKey),
	)
	return nil
}

// IsClosed reports whether the connection needs to be re-established.
func (t *AMQP) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn == nil || t.conn.IsClosed()
}

// Publish sends one message to the configured routing key.
func (t *AMQP) Publish(body []byte) error {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return ErrClosed
	}
	err := ch.PublishWithContext(context.Background(), t.cfg.Exchange, t.cfg.PublishKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return ErrClosed
	}
	return nil
}

// Consume starts draining the consume queue with manual acknowledgement. The
// returned channel closes when the broker connection drops or ctx ends.
func (t *AMQP) Consume(ctx context.Context) (<-chan Delivery, error) {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return nil, ErrClosed
	}

	deliveries, err := ch.Consume(t.cfg.ConsumeQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, ErrClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- Delivery{Tag: d.DeliveryTag, Body: d.Body}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ack settles a delivery.
func (t *AMQP) Ack(tag uint64) error {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return ErrClosed
	}
	return ch.Ack(tag, false)
}

// Nack rejects a delivery without requeueing.
func (t *AMQP) Nack(tag uint64) error {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return ErrClosed
	}
	return ch.Nack(tag, false, false)
}

// Close shuts the connection down.
func (t *AMQP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.channel = nil
	t.logger.Info("Broker connection closed")
	return err
}
