package transport

import (
	"context"
	"sync"
)

// Memory implements Transport in-process for tests. Published messages are
// recorded in order; Feed injects deliveries for a consumer to drain.
type Memory struct {
	mu        sync.Mutex
	closed    bool
	published [][]byte
	inbox     chan Delivery
	acked     []uint64
	nacked    []uint64

	// FailPublish makes every Publish fail with ErrClosed, for fault tests.
	FailPublish bool
}

var _ Transport = (*Memory)(nil)

// NewMemory returns a connected in-memory transport.
func NewMemory() *Memory {
	return &Memory{inbox: make(chan Delivery, 64)}
}

func (t *Memory) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = false
	return nil
}

func (t *Memory) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Memory) Publish(body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.FailPublish {
		return ErrClosed
	}
	// Copy so later caller mutations can't alter the record.
	b := make([]byte, len(body))
	copy(b, body)
	t.published = append(t.published, b)
	return nil
}

func (t *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	inbox := t.inbox
	t.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-inbox:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Memory) Ack(tag uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.acked = append(t.acked, tag)
	return nil
}

func (t *Memory) Nack(tag uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.nacked = append(t.nacked, tag)
	return nil
}

func (t *Memory) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
	return nil
}

// Feed injects a delivery for consumers.
func (t *Memory) Feed(d Delivery) {
	t.inbox <- d
}

// Published returns all published message bodies in publish order.
func (t *Memory) Published() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.published))
	copy(out, t.published)
	return out
}

// Acked returns the tags acknowledged so far.
func (t *Memory) Acked() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint64(nil), t.acked...)
}

// Nacked returns the tags rejected so far.
func (t *Memory) Nacked() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint64(nil), t.nacked...)
}
