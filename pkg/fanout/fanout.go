// Package fanout delivers outbound frames to connected endpoints. The
// registry tracks live endpoints by connection id and applies the head flags
// of each frame verbatim: targeted delivery, broadcast, origin exclusion and
// minimum-level filtering.
package fanout

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/envelope"
)

// Endpoint is one connected client as the fanout layer sees it.
type Endpoint interface {
	// ID is the endpoint's connection id, stable for its lifetime.
	ID() string

	// Level is the endpoint's current authorization level.
	Level() int

	// Deliver hands the endpoint an end-user payload to forward.
	Deliver(body json.RawMessage)

	// DeliverControl applies a session state update to the endpoint. The
	// control payload is not forwarded to the client as-is.
	DeliverControl(ctl envelope.Control)
}

// Registry is the set of live endpoints. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		endpoints: make(map[string]Endpoint),
		logger:    logger.Named("fanout"),
	}
}

// Add registers an endpoint under its connection id.
func (r *Registry) Add(ep Endpoint) {
	r.mu.Lock()
	r.endpoints[ep.ID()] = ep
	r.mu.Unlock()
}

// Remove drops an endpoint. Safe to call for ids that are already gone.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.endpoints, id)
	r.mu.Unlock()
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Route delivers one frame according to its head flags. Control frames update
// the targeted endpoint's session state. Broadcasts go to every endpoint at
// or above the frame's level, optionally skipping the origin. Targeted frames
// for a departed connection or an endpoint below the frame's level are
// dropped.
func (r *Registry) Route(frame *envelope.Frame) {
	if frame.Head.IsControl {
		var ctl envelope.Control
		if err := json.Unmarshal(frame.Body, &ctl); err != nil {
			r.logger.Warn("Undecodable control frame", zap.Error(err))
			return
		}
		if ep := r.lookup(frame.Head.ConnectionID); ep != nil {
			ep.DeliverControl(ctl)
		}
		return
	}

	if !frame.Head.Broadcast {
		if ep := r.lookup(frame.Head.ConnectionID); ep != nil && ep.Level() >= frame.Head.ReqLevel {
			ep.Deliver(frame.Body)
		}
		return
	}

	for _, ep := range r.snapshot() {
		if frame.Head.AvoidSelf && ep.ID() == frame.Head.ConnectionID {
			continue
		}
		if ep.Level() < frame.Head.ReqLevel {
			continue
		}
		ep.Deliver(frame.Body)
	}
}

func (r *Registry) lookup(id string) Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[id]
}

// snapshot copies the endpoint set so delivery runs without holding the lock.
func (r *Registry) snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	return out
}
