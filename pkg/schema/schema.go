// Package schema provides declarative validation for request data fields.
//
// A Schema maps field names to constraints. Validation collects every
// violation instead of stopping at the first, so clients can render all
// problems with a form submission at once.
package schema

import (
	"fmt"
	"math"

	"github.com/guildhall-net/guildhall/pkg/envelope"
)

// Kind is the expected primitive type of a field.
type Kind int

const (
	String Kind = iota
	Int
	Bool
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "integer"
	case Bool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Field describes the constraints on a single request field.
type Field struct {
	Kind     Kind
	Required bool

	// MinLen/MaxLen bound string length. Zero means unbounded.
	MinLen int
	MaxLen int

	// Min/Max bound integer values when set.
	Min *int64
	Max *int64

	// Requires lists fields that must also be present whenever this field
	// is present (e.g. new_password requires old_password).
	Requires []string
}

// Schema maps field names to their constraints. Unknown fields in the input
// are ignored; handlers read only what they declared.
type Schema map[string]Field

// Bound returns a pointer for use as a Field Min/Max literal.
func Bound(n int64) *int64 {
	return &n
}

// Validate checks data against the schema and returns every violation found.
// A nil return means the data passed.
func (s Schema) Validate(data map[string]any) []envelope.FieldError {
	var errs []envelope.FieldError

	for name, field := range s {
		value, present := data[name]
		if !present || value == nil {
			if field.Required {
				errs = append(errs, envelope.FieldError{Field: name, Message: "Required field"})
			}
			continue
		}

		switch field.Kind {
		case String:
			str, ok := value.(string)
			if !ok {
				errs = append(errs, envelope.FieldError{Field: name, Message: "Must be a string"})
				continue
			}
			if field.Required && len(str) == 0 {
				errs = append(errs, envelope.FieldError{Field: name, Message: "Required field"})
				continue
			}
			errs = appendLengthErrors(errs, name, str, field.MinLen, field.MaxLen)

		case Int:
			n, ok := asInt(value)
			if !ok {
				errs = append(errs, envelope.FieldError{Field: name, Message: "Must be an integer"})
				continue
			}
			if field.Min != nil && n < *field.Min {
				errs = append(errs, envelope.FieldError{Field: name, Message: fmt.Sprintf("Must be at least %d", *field.Min)})
			}
			if field.Max != nil && n > *field.Max {
				errs = append(errs, envelope.FieldError{Field: name, Message: fmt.Sprintf("Must be at maximum %d", *field.Max)})
			}

		case Bool:
			if _, ok := value.(bool); !ok {
				errs = append(errs, envelope.FieldError{Field: name, Message: "Must be a boolean"})
			}
		}

		for _, dep := range field.Requires {
			if v, ok := data[dep]; !ok || v == nil {
				errs = append(errs, envelope.FieldError{Field: name, Message: fmt.Sprintf("Requires field %s", dep)})
			}
		}
	}

	return errs
}

func appendLengthErrors(errs []envelope.FieldError, name, value string, min, max int) []envelope.FieldError {
	n := len([]rune(value))
	if min > 0 && max > 0 && (n < min || n > max) {
		return append(errs, envelope.FieldError{Field: name, Message: fmt.Sprintf("Must be between %d and %d characters long", min, max)})
	}
	if min > 0 && n < min {
		return append(errs, envelope.FieldError{Field: name, Message: fmt.Sprintf("Must be at least %d characters long", min)})
	}
	if max > 0 && n > max {
		return append(errs, envelope.FieldError{Field: name, Message: fmt.Sprintf("Must be at maximum %d characters long", max)})
	}
	return errs
}

// asInt normalizes the numeric representations a JSON decoder may produce.
// Fractional values are rejected.
func asInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// Values wraps validated request data with typed accessors. Accessors assume
// the schema already verified presence and type; optional fields use the Opt
// variants.
type Values map[string]any

// Str returns a string field, or "" when absent.
func (v Values) Str(name string) string {
	s, _ := v[name].(string)
	return s
}

// OptStr returns a string field and whether it was present and non-empty.
func (v Values) OptStr(name string) (string, bool) {
	s, ok := v[name].(string)
	return s, ok && s != ""
}

// Int returns an integer field, or 0 when absent.
func (v Values) Int(name string) int64 {
	n, _ := asInt(v[name])
	return n
}

// OptInt returns an integer field and whether it was present.
func (v Values) OptInt(name string) (int64, bool) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return 0, false
	}
	n, ok := asInt(raw)
	return n, ok
}

// Bool returns a boolean field, or false when absent.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// OptBool returns a boolean field and whether it was present.
func (v Values) OptBool(name string) (bool, bool) {
	raw, ok := v[name]
	if !ok || raw == nil {
		return false, false
	}
	b, ok := raw.(bool)
	return b, ok
}
