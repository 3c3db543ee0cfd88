package handlers_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/handlers"
	"github.com/guildhall-net/guildhall/pkg/outbound"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store/storetest"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// env runs handler operations the way the router does: one storage
// transaction and one outbound transaction per request, committed together on
// success.
type env struct {
	t   *testing.T
	mem *storetest.Memory
	mq  *transport.Memory
}

func newEnv(t *testing.T) *env {
	return &env{t: t, mem: storetest.NewMemory(), mq: transport.NewMemory()}
}

// invoke dispatches one request. A nil handler error commits storage first,
// then flushes the outbound buffer; an error rolls both back.
func (e *env) invoke(sessionKey, route string, receipt any, data map[string]any) error {
	e.t.Helper()
	logger := zaptest.NewLogger(e.t)

	tx, err := e.mem.Begin()
	require.NoError(e.t, err)
	defer tx.Close()

	out := outbound.New(e.mq, logger)
	out.Begin()
	defer out.Close()

	sess, err := session.Resolve(tx, sessionKey, logger)
	require.NoError(e.t, err)

	ctx := &handlers.Context{
		Tx:           tx,
		Out:          out,
		Session:      sess,
		ConnectionID: "conn-1",
		Receipt:      receipt,
		FullRoute:    route,
		Logger:       logger,
	}

	segments := strings.Split(route, ".")
	ctor, ok := handlers.Registry()[segments[0]]
	require.True(e.t, ok, "unknown module %q", segments[0])

	op, remaining, err := dispatch.Resolve(ctor(ctx).Routes(), segments[1:])
	require.NoError(e.t, err, "route %q did not resolve", route)

	req := &envelope.Inbound{Route: route, Receipt: receipt, Data: data}
	if opErr := op(remaining, req); opErr != nil {
		tx.Rollback()
		out.Rollback()
		return opErr
	}
	require.NoError(e.t, tx.Commit())
	require.NoError(e.t, out.Commit())
	return nil
}

// published is one decoded outbound frame.
type published struct {
	Head envelope.Head
	Body envelope.Response
}

// responses decodes every non-control frame published so far.
func (e *env) responses() []published {
	e.t.Helper()
	var out []published
	for _, raw := range e.mq.Published() {
		frame, err := envelope.DecodeFrame(raw)
		require.NoError(e.t, err)
		if frame.Head.IsControl {
			continue
		}
		var body envelope.Response
		require.NoError(e.t, json.Unmarshal(frame.Body, &body))
		out = append(out, published{Head: frame.Head, Body: body})
	}
	return out
}

// controls decodes every control frame published so far.
func (e *env) controls() []envelope.Control {
	e.t.Helper()
	var out []envelope.Control
	for _, raw := range e.mq.Published() {
		frame, err := envelope.DecodeFrame(raw)
		require.NoError(e.t, err)
		if !frame.Head.IsControl {
			continue
		}
		var ctl envelope.Control
		require.NoError(e.t, json.Unmarshal(frame.Body, &ctl))
		out = append(out, ctl)
	}
	return out
}

// lastResponse returns the most recent non-control frame.
func (e *env) lastResponse() published {
	e.t.Helper()
	responses := e.responses()
	require.NotEmpty(e.t, responses)
	return responses[len(responses)-1]
}

// data returns the response payload as a map.
func data(t *testing.T, p published) map[string]any {
	t.Helper()
	m, ok := p.Body.Data.(map[string]any)
	require.True(t, ok, "response data is not an object")
	return m
}

// errorCode extracts the error code of an error response.
func errorCode(t *testing.T, p published) int {
	t.Helper()
	require.True(t, p.Body.Error, "expected an error response")
	m := data(t, p)
	code, ok := m["error_code"].(float64)
	require.True(t, ok)
	return int(code)
}
