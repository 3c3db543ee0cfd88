// Package handlers contains the pluggable route handlers invoked by the
// router: authentication, forum, news, admin and ping. Each handler exposes a
// route table consulted by the dispatcher, and runs against a per-request
// Context carrying the storage transaction, the outbound channel and the
// resolved session.
package handlers

import (
	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/outbound"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
)

// Handler is one top-level route module. The leading route segment selects
// the handler; its table resolves the rest.
type Handler interface {
	Routes() dispatch.Table
}

// Constructor builds a handler instance bound to one request's context.
type Constructor func(*Context) Handler

// Registry maps leading route segments to handler constructors.
func Registry() map[string]Constructor {
	return map[string]Constructor{
		"auth":  NewAuth,
		"forum": NewForum,
		"news":  NewNews,
		"admin": NewAdmin,
		"ping":  NewPing,
	}
}

// Context is the per-request environment handed to a handler instance. The
// router owns the transaction and channel; the context only borrows them.
type Context struct {
	Tx           store.Tx
	Out          *outbound.Channel
	Session      *session.UserSession
	ConnectionID string
	Receipt      any
	FullRoute    string
	Logger       *zap.Logger
}

// SendMessage enqueues a success response addressed to the requesting
// connection, echoing the route and receipt.
func (c *Context) SendMessage(data any) error {
	return c.Out.Send(envelope.Success(c.FullRoute, c.Receipt, data), outbound.Options{
		ConnectionID: c.ConnectionID,
	})
}

// SendError enqueues an error response with a single untagged message.
func (c *Context) SendError(code int, message string) error {
	return c.Out.Send(envelope.ErrorMessage(c.FullRoute, c.Receipt, code, message), outbound.Options{
		ConnectionID: c.ConnectionID,
	})
}

// SendFieldErrors enqueues an error response carrying every field violation.
func (c *Context) SendFieldErrors(code int, errs []envelope.FieldError) error {
	return c.Out.Send(envelope.Error(c.FullRoute, c.Receipt, code, errs), outbound.Options{
		ConnectionID: c.ConnectionID,
	})
}

// SendControl enqueues a control frame for the requesting endpoint. Control
// frames update the socket edge's cached session state and carry no receipt.
func (c *Context) SendControl(ctl envelope.Control) error {
	ctl.Route = c.FullRoute
	return c.Out.Send(ctl, outbound.Options{
		ConnectionID: c.ConnectionID,
		IsControl:    true,
	})
}

// Broadcast enqueues a notification for every connected endpoint at or above
// reqLevel, optionally skipping the requesting endpoint.
func (c *Context) Broadcast(data any, avoidSelf bool, reqLevel int) error {
	return c.Out.Send(envelope.Success(c.FullRoute, nil, data), outbound.Options{
		ConnectionID: c.ConnectionID,
		Broadcast:    true,
		AvoidSelf:    avoidSelf,
		ReqLevel:     reqLevel,
	})
}
