package handlers

import (
	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/session"
)

// PingHandler answers ping.ping for authenticated users. Its main effect is
// the session activity touch the router performs on every request.
type PingHandler struct {
	c *Context
}

// NewPing constructs the ping handler for one request.
func NewPing(c *Context) Handler {
	return &PingHandler{c: c}
}

func (h *PingHandler) Routes() dispatch.Table {
	return dispatch.Table{
		"ping": dispatch.Op(h.c.RequireLevel(session.LevelUser, h.ping)),
	}
}

func (h *PingHandler) ping(_ []string, _ *envelope.Inbound) error {
	return h.c.SendMessage(map[string]any{})
}
