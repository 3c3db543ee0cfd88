package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guildhall-net/guildhall/pkg/transport"
)

// Metrics are the delivery-loop counters exposed by the listener service.
type Metrics struct {
	Consumed       prometheus.Counter
	Acked          prometheus.Counter
	Nacked         prometheus.Counter
	Published      prometheus.Counter
	Reconnects     prometheus.Counter
	HandleDuration prometheus.Histogram
}

// NewMetrics registers the delivery-loop metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Consumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_deliveries_consumed_total",
			Help: "Frames consumed from the request queue.",
		}),
		Acked: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_deliveries_acked_total",
			Help: "Frames processed and acknowledged.",
		}),
		Nacked: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_deliveries_nacked_total",
			Help: "Frames rejected without requeueing.",
		}),
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_messages_published_total",
			Help: "Response frames published to the outbound queue.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_reconnect_attempts_total",
			Help: "Database and broker reconnection attempts.",
		}),
		HandleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "listener_handle_duration_seconds",
			Help:    "Wall time spent settling one delivery.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// countingPublisher counts successful publishes on their way to the broker.
type countingPublisher struct {
	inner   transport.Publisher
	counter prometheus.Counter
}

// CountPublishes wraps a publisher so every successful publish increments the
// published counter.
func CountPublishes(p transport.Publisher, m *Metrics) transport.Publisher {
	return &countingPublisher{inner: p, counter: m.Published}
}

func (c *countingPublisher) Publish(body []byte) error {
	if err := c.inner.Publish(body); err != nil {
		return err
	}
	c.counter.Inc()
	return nil
}
