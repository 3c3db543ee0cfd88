package handlers

import (
	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/schema"
)

// Guards are composable pre-checks wrapped around an operation, in the manner
// of a middleware chain: each either passes through to the wrapped operation
// or short-circuits by sending a structured error response. A short-circuit
// is a handled outcome, not a fault — the request's transactions still commit
// (there is nothing to roll back).

// RequireLevel passes only sessions at or above level; others get a 403.
func (c *Context) RequireLevel(level int, op dispatch.Operation) dispatch.Operation {
	return func(remaining []string, req *envelope.Inbound) error {
		if !c.Session.HasLevel(level) {
			return c.SendError(403, "Forbidden")
		}
		return op(remaining, req)
	}
}

// RequireAuth passes only authenticated (non-anonymous) sessions.
func (c *Context) RequireAuth(op dispatch.Operation) dispatch.Operation {
	return func(remaining []string, req *envelope.Inbound) error {
		if !c.Session.Valid() {
			return c.SendError(403, "Forbidden")
		}
		return op(remaining, req)
	}
}

// WithSchema validates the request data and short-circuits with a 450
// response listing every violation. The wrapped operation runs only on clean
// input.
func (c *Context) WithSchema(s schema.Schema, op dispatch.Operation) dispatch.Operation {
	return func(remaining []string, req *envelope.Inbound) error {
		if errs := s.Validate(req.Data); len(errs) > 0 {
			return c.SendFieldErrors(450, errs)
		}
		return op(remaining, req)
	}
}
