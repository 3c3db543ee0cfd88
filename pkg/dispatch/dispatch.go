// Package dispatch resolves dot-delimited routes against a handler's route
// table. A table is a finite tree whose leaves are operations and whose inner
// nodes are nested tables; resolution either invokes exactly one operation or
// yields ErrRouteNotFound, never both and never a partial descent.
package dispatch

import (
	"errors"

	"github.com/guildhall-net/guildhall/pkg/envelope"
)

// Operation is an invokable leaf of a route table. It receives the path
// segments remaining after resolution and the full inbound request.
type Operation func(remaining []string, req *envelope.Inbound) error

// Node is either an operation (terminal) or a nested table (sub-routing).
type Node struct {
	op  Operation
	sub Table
}

// Table maps a route segment to its node.
type Table map[string]Node

// Op wraps an operation as a terminal node.
func Op(fn Operation) Node {
	return Node{op: fn}
}

// Sub wraps a nested table as an inner node.
func Sub(t Table) Node {
	return Node{sub: t}
}

// ErrRouteNotFound reports that the segments did not resolve to an operation:
// either a segment was absent from the current table, or the segments were
// exhausted while still pointing at a nested table.
var ErrRouteNotFound = errors.New("dispatch: route not found")

// Resolve descends the table one segment at a time. On success it returns the
// resolved operation and the segments left over after it; otherwise
// ErrRouteNotFound.
func Resolve(table Table, segments []string) (Operation, []string, error) {
	current := table
	for {
		if len(segments) == 0 {
			return nil, nil, ErrRouteNotFound
		}
		head := segments[0]
		segments = segments[1:]

		node, ok := current[head]
		if !ok {
			return nil, nil, ErrRouteNotFound
		}
		if node.op != nil {
			return node.op, segments, nil
		}
		current = node.sub
	}
}
