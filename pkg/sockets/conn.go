// Package sockets is the client-facing edge: a websocket server that forwards
// client requests onto the queue and a pump that delivers queue responses
// back to the right sockets. The edge caches each connection's session key
// and level from control frames so the listener can authorize without a
// round trip.
package sockets

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// sendBuffer bounds the per-connection outbound queue. A client that cannot
// keep up is disconnected rather than allowed to stall the pump.
const sendBuffer = 64

// Conn is one websocket client. It implements fanout.Endpoint.
type Conn struct {
	id        string
	ws        *websocket.Conn
	publisher transport.Publisher
	limiter   ratelimit.Limiter
	logger    *zap.Logger

	level atomic.Int64

	mu         sync.Mutex
	sessionKey string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(id string)
}

// newConn wraps an upgraded websocket.
func newConn(id string, ws *websocket.Conn, publisher transport.Publisher, limiter ratelimit.Limiter, onClose func(id string), logger *zap.Logger) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		publisher: publisher,
		limiter:   limiter,
		logger:    logger.With(zap.String("connection_id", id)),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		onClose:   onClose,
	}
}

// ID returns the connection id assigned at upgrade time.
func (c *Conn) ID() string {
	return c.id
}

// Level returns the cached authorization level.
func (c *Conn) Level() int {
	return int(c.level.Load())
}

// Deliver queues a payload for the client. A full queue closes the
// connection.
func (c *Conn) Deliver(body json.RawMessage) {
	select {
	case c.send <- body:
	case <-c.done:
	default:
		c.logger.Warn("Send queue full, dropping connection")
		c.close()
	}
}

// DeliverControl applies a session state update from the listener.
func (c *Conn) DeliverControl(ctl envelope.Control) {
	if ctl.LoggedIn {
		c.setSession(ctl.SessionKey, ctl.Level)
	} else {
		c.setSession("", session.LevelGuest)
	}
}

func (c *Conn) setSession(key string, level int) {
	c.mu.Lock()
	c.sessionKey = key
	c.mu.Unlock()
	c.level.Store(int64(level))
}

func (c *Conn) currentSessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// run drives the read and write pumps until either side fails, then closes
// the socket and deregisters.
func (c *Conn) run() {
	go c.writePump()
	c.readPump()
	c.close()
}

// readPump forwards client messages onto the queue, rate limited per
// connection. The raw message becomes the frame body unchanged; the listener
// does all validation.
func (c *Conn) readPump() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Read failed", zap.Error(err))
			}
			return
		}
		c.limiter.Take()

		frame := envelope.Frame{
			Head: envelope.Head{
				ConnectionID: c.id,
				SessionKey:   c.currentSessionKey(),
			},
			Body: msg,
		}
		encoded, err := frame.Encode()
		if err != nil {
			c.logger.Warn("Frame encode failed", zap.Error(err))
			continue
		}
		if err := c.publisher.Publish(encoded); err != nil {
			c.logger.Warn("Publish failed, dropping connection", zap.Error(err))
			return
		}
	}
}

// writePump drains the send queue to the socket.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("Write failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	})
}
