package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a polymorphic result payload kept in its wire form.
//
// Numbers keep their literal text, so the consumer decides whether a reply
// is an integer or a floating-point value: "2" satisfies both AsInt and
// AsFloat, "2.5" only AsFloat.
type Value struct {
	raw json.RawMessage
}

// NewValue marshals v into a Value.
func NewValue(v any) (Value, error) {
	if v == nil {
		return Value{}, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return RawValue(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("failed to marshal value: %w", err)
	}
	return Value{raw: data}, nil
}

// MustValue is NewValue for values known to marshal, such as literals in tests.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

// RawValue wraps an already encoded JSON value.
func RawValue(raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{}
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Value{raw: cp}
}

// IsNull reports whether the value is absent or JSON null.
func (v Value) IsNull() bool {
	return len(v.raw) == 0
}

// Raw returns the JSON encoding of the value ("null" when absent).
func (v Value) Raw() json.RawMessage {
	if v.IsNull() {
		return json.RawMessage("null")
	}
	return v.raw
}

// AsString returns the value as a string.
func (v Value) AsString() (string, error) {
	var s string
	if v.IsNull() || v.raw[0] != '"' {
		return "", v.typeError("string")
	}
	if err := json.Unmarshal(v.raw, &s); err != nil {
		return "", v.typeError("string")
	}
	return s, nil
}

// AsFloat returns a numeric value as float64.
func (v Value) AsFloat() (float64, error) {
	n, err := v.number()
	if err != nil {
		return 0, err
	}
	f, err := n.Float64()
	if err != nil {
		return 0, v.typeError("float")
	}
	return f, nil
}

// AsInt returns a numeric value as int64. Floating-point literals are
// accepted only when they carry no fractional part, which is how integers
// arrive from codecs that only know doubles.
func (v Value) AsInt() (int64, error) {
	n, err := v.number()
	if err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, v.typeError("integer")
	}
	return int64(f), nil
}

// IsInteger reports whether the wire literal is an integer.
func (v Value) IsInteger() bool {
	n, err := v.number()
	if err != nil {
		return false
	}
	_, err = n.Int64()
	return err == nil
}

// AsBool returns the value as a bool.
func (v Value) AsBool() (bool, error) {
	switch string(v.raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, v.typeError("bool")
	}
}

// Decode unmarshals the value into out, typically a record struct.
func (v Value) Decode(out any) error {
	if err := json.Unmarshal(v.Raw(), out); err != nil {
		return fmt.Errorf("failed to decode value into %T: %w", out, err)
	}
	return nil
}

// Interface returns the value as plain Go data; numbers are json.Number.
func (v Value) Interface() (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	var out any
	if err := unmarshalNumber(v.raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// Equal reports whether both values have the same wire encoding.
func (v Value) Equal(o Value) bool {
	return bytes.Equal(v.raw, o.raw)
}

func (v Value) String() string {
	return string(v.Raw())
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = RawValue(data)
	return nil
}

func (v Value) number() (json.Number, error) {
	if v.IsNull() || v.raw[0] == '"' {
		return "", v.typeError("number")
	}
	var n json.Number
	if err := unmarshalNumber(v.raw, &n); err != nil {
		return "", v.typeError("number")
	}
	if n == "" {
		return "", v.typeError("number")
	}
	return n, nil
}

func (v Value) typeError(want string) error {
	return fmt.Errorf("value %s is not a %s", v.Raw(), want)
}
