// Package router is the core of the listener service. It takes one decoded
// queue frame at a time, opens a storage transaction and an outbound message
// transaction around it, resolves the session, dispatches to the owning
// handler, and settles both transactions together: storage commits first,
// then the buffered messages flush. Any fault rolls back both sides and
// answers the caller with a generic failure.
package router

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/handlers"
	"github.com/guildhall-net/guildhall/pkg/outbound"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// Router processes inbound request frames.
type Router struct {
	store     store.Store
	publisher transport.Publisher
	registry  map[string]handlers.Constructor
	logger    *zap.Logger
}

// New creates a router over the given store and publisher, serving the
// default handler registry.
func New(st store.Store, publisher transport.Publisher, logger *zap.Logger) *Router {
	return &Router{
		store:     st,
		publisher: publisher,
		registry:  handlers.Registry(),
		logger:    logger.Named("router"),
	}
}

// Handle processes one frame end to end. A nil return means the frame was
// fully settled (including handled client errors) and may be acknowledged; a
// non-nil return means an infrastructure fault where nothing was committed.
func (r *Router) Handle(frame *envelope.Frame) error {
	req, err := envelope.ParseInbound(frame.Body)
	if err != nil {
		return r.rejectMalformed(frame, err)
	}

	segments := strings.Split(req.Route, ".")
	ctor, ok := r.registry[segments[0]]
	if !ok {
		// No such module. Nothing useful to answer; drop quietly.
		r.logger.Warn("Unroutable request", zap.String("route", req.Route))
		return nil
	}

	tx, err := r.store.Begin()
	if err != nil {
		r.respondFault(frame, req)
		return fmt.Errorf("router: begin transaction: %w", err)
	}
	defer tx.Close()

	out := outbound.New(r.publisher, r.logger)
	out.Begin()
	defer out.Close()

	if err := r.process(tx, out, frame, req, ctor, segments); err != nil {
		tx.Rollback()
		out.Rollback()
		r.respondFault(frame, req)
		return err
	}

	if err := tx.Commit(); err != nil {
		out.Rollback()
		r.respondFault(frame, req)
		return fmt.Errorf("router: commit transaction: %w", err)
	}
	return out.Commit()
}

// process runs the session resolution and the dispatched operation inside the
// open transactions, converting panics into errors.
func (r *Router) process(tx store.Tx, out *outbound.Channel, frame *envelope.Frame, req *envelope.Inbound, ctor handlers.Constructor, segments []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic in handler",
				zap.String("route", req.Route),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("router: panic in %s: %v", req.Route, rec)
		}
	}()

	sess, err := session.Resolve(tx, frame.Head.SessionKey, r.logger)
	if err != nil {
		return fmt.Errorf("router: resolve session: %w", err)
	}
	sess.Touch()

	ctx := &handlers.Context{
		Tx:           tx,
		Out:          out,
		Session:      sess,
		ConnectionID: frame.Head.ConnectionID,
		Receipt:      req.Receipt,
		FullRoute:    req.Route,
		Logger:       r.logger,
	}

	op, remaining, err := dispatch.Resolve(ctor(ctx).Routes(), segments[1:])
	if errors.Is(err, dispatch.ErrRouteNotFound) {
		r.logger.Warn("Unknown sub-route", zap.String("route", req.Route))
		return ctx.SendError(404, "Unknown route")
	}
	if err != nil {
		return err
	}
	return op(remaining, req)
}

// rejectMalformed answers a structurally invalid request body with a direct
// 400 when enough could be parsed to correlate a response. Unparseable bodies
// are dropped after logging; there is no one to answer.
func (r *Router) rejectMalformed(frame *envelope.Frame, err error) error {
	var verr *envelope.ValidationError
	if !errors.As(err, &verr) {
		r.logger.Warn("Undecodable request body", zap.Error(err))
		return nil
	}
	r.logger.Warn("Malformed request",
		zap.String("route", verr.Route),
		zap.String("reason", verr.Reason),
	)
	return r.publishDirect(frame, envelope.ErrorMessage(verr.Route, verr.Receipt, 400, "Malformed request"))
}

// respondFault sends a generic 500 outside any transaction, best effort. The
// caller deserves an answer even when the request's own channel was rolled
// back.
func (r *Router) respondFault(frame *envelope.Frame, req *envelope.Inbound) {
	if req.Receipt == nil {
		return
	}
	if err := r.publishDirect(frame, envelope.ErrorMessage(req.Route, req.Receipt, 500, "Server error")); err != nil {
		r.logger.Error("Failed to publish fault response", zap.Error(err))
	}
}

// publishDirect encodes and publishes a response immediately, addressed to
// the frame's origin connection.
func (r *Router) publishDirect(frame *envelope.Frame, body *envelope.Response) error {
	direct := outbound.New(r.publisher, r.logger)
	return direct.Send(body, outbound.Options{ConnectionID: frame.Head.ConnectionID})
}
