// Package envelope defines the wire format exchanged between the socket edge
// and the listener service, and the helpers for building outbound payloads.
//
// Every message on the queue is a Frame: a Head carrying transport-level
// routing flags, and a Body carrying the application payload. Inbound bodies
// are client requests (route + optional receipt + data); outbound bodies are
// success/error responses or control payloads for the socket edge.
package envelope

import (
	"encoding/json"
	"fmt"
)

// MaxRouteLength bounds the route field of an inbound request. Longer routes
// are rejected before any handler runs.
const MaxRouteLength = 32

// Head carries the transport-level metadata of a Frame. Flags are set by the
// producer and honored verbatim by the delivery edge; they are never
// re-derived downstream.
type Head struct {
	// ConnectionID targets a single endpoint, or identifies the origin
	// endpoint of a broadcast.
	ConnectionID string `json:"connection_id,omitempty"`

	// SessionKey is the origin endpoint's cached session key. Only present
	// on inbound frames.
	SessionKey string `json:"session_key,omitempty"`

	// Broadcast delivers the frame to every connected endpoint instead of
	// the one matching ConnectionID.
	Broadcast bool `json:"broadcast"`

	// AvoidSelf skips the origin endpoint during a broadcast.
	AvoidSelf bool `json:"avoid_self"`

	// IsControl marks the body as socket-edge state (session key and level)
	// rather than an end-user payload.
	IsControl bool `json:"is_control"`

	// ReqLevel is the minimum authorization level an endpoint must hold to
	// receive this frame.
	ReqLevel int `json:"req_level"`
}

// Frame is the unit of exchange on the message queue.
type Frame struct {
	Head Head            `json:"head"`
	Body json.RawMessage `json:"body"`
}

// DecodeFrame parses a raw queue message into a Frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("envelope: invalid frame: %w", err)
	}
	return &f, nil
}

// Encode marshals the frame for publication.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Inbound is a client request body: a dot-delimited route, an optional
// caller-supplied correlation id (string or integer), and the route-specific
// request fields.
type Inbound struct {
	Route   string         `json:"route"`
	Receipt any            `json:"receipt,omitempty"`
	Data    map[string]any `json:"data"`
}

// ValidationError describes an inbound body that failed shape validation.
// Route and Receipt carry whatever could be extracted so the caller can still
// be sent a correlated error response.
type ValidationError struct {
	Route   string
	Receipt any
	Reason  string
}

func (e *ValidationError) Error() string {
	return "envelope: " + e.Reason
}

// ParseInbound decodes and shape-checks an inbound request body. It returns a
// *ValidationError when the body is syntactically valid JSON but structurally
// invalid (missing route or data, route too long); the error carries any
// route/receipt that could be extracted. A plain error is returned when the
// body is not parseable at all.
func ParseInbound(body []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("envelope: invalid request body: %w", err)
	}
	if in.Route == "" {
		return nil, &ValidationError{Receipt: in.Receipt, Reason: "missing route"}
	}
	if len(in.Route) > MaxRouteLength {
		// Echo a truncated route so the error response still correlates.
		return nil, &ValidationError{Route: in.Route[:MaxRouteLength], Receipt: in.Receipt, Reason: "route too long"}
	}
	if in.Data == nil {
		return nil, &ValidationError{Route: in.Route, Receipt: in.Receipt, Reason: "missing data"}
	}
	return &in, nil
}

// FieldError tags a validation message with the offending request field. An
// empty Field means the error applies to the request as a whole.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Response is the body of an end-user-visible outbound frame.
type Response struct {
	Route   string `json:"route"`
	Receipt any    `json:"receipt,omitempty"`
	Error   bool   `json:"error"`
	Data    any    `json:"data"`
}

// ErrorData is the data payload of an error Response.
type ErrorData struct {
	ErrorCode     int          `json:"error_code"`
	ErrorMessages []FieldError `json:"error_messages"`
}

// Success builds a non-error response body for the given route and receipt.
func Success(route string, receipt any, data any) *Response {
	return &Response{Route: route, Receipt: receipt, Error: false, Data: data}
}

// Error builds an error response body carrying one or more field-tagged
// messages.
func Error(route string, receipt any, code int, messages []FieldError) *Response {
	return &Response{
		Route:   route,
		Receipt: receipt,
		Error:   true,
		Data:    ErrorData{ErrorCode: code, ErrorMessages: messages},
	}
}

// ErrorMessage builds an error response body with a single untagged message.
func ErrorMessage(route string, receipt any, code int, message string) *Response {
	return Error(route, receipt, code, []FieldError{{Message: message}})
}

// Control is the body of a control frame. It updates the socket edge's cached
// session state for one endpoint.
type Control struct {
	Route      string `json:"route"`
	SessionKey string `json:"session_key"`
	Level      int    `json:"level"`
	LoggedIn   bool   `json:"logged_in"`
}
