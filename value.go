package peerrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyValue is returned when decoding a [Value] that carries nothing.
	ErrEmptyValue = errors.New("value is empty")
	// ErrPayloadShape is returned when a single value is consumed as a list or the other way around.
	ErrPayloadShape = errors.New("payload has the wrong shape")
)

// Kind is the shape of a [Value]: nothing, a single value or an ordered list of values.
type Kind int

const (
	KindNone   Kind = iota // No value (params or result omitted).
	KindSingle             // A string, number, boolean, null or object.
	KindList               // A JSON array.
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindList:
		return "list"
	default:
		return "none"
	}
}

// Value is a JSON-RPC payload: the params member of a [Request] or the result member of a [Response].
//
// A Value is either built locally from a Go value ([Single], [List]) or received from the
// wire ([RawValue]); in the latter case the undecoded JSON is kept and only resolved to a Go
// type where it is consumed, with [As], [AsListOf] or [Value.Decode]. The shape of a wire
// value is structural: a JSON array is a list, anything else is a single value.
//
// Values are immutable once built.
type Value struct {
	value   any
	raw     json.RawMessage
	present bool
}

// Params is the params member of a [Request].
type Params = Value

// Result is the result member of a successful [Response].
type Result = Value

// NoParams returns the empty [Value]. Requests built with it omit the params member.
func NoParams() Value {
	return Value{}
}

// Single returns a [Value] wrapping v, which must be marshalable by [Marshal].
// A nil v encodes as JSON null.
//
// Example:
//
//	params := peerrpc.Single("hi")
//	params = peerrpc.Single(map[string]any{"path": "/src/main.go"})
func Single(v any) Value {
	return Value{value: v, present: true}
}

// List returns a [Value] wrapping an ordered list. A nil slice encodes as an empty array.
//
// Example:
//
//	params := peerrpc.List([]string{"a.go", "b.go"})
func List[T any, S ~[]T](vs S) Value {
	if vs == nil {
		vs = S{}
	}

	return Value{value: vs, present: true}
}

// RawValue wraps already encoded JSON. Empty input yields the empty [Value].
//
// The bytes are copied.
func RawValue(raw json.RawMessage) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{}
	}

	return Value{raw: bytes.Clone(trimmed), present: true}
}

// IsZero returns true if the value carries nothing.
func (v Value) IsZero() bool {
	return !v.present
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind {
	if !v.present {
		return KindNone
	}

	if v.raw != nil {
		return kindOfRaw(v.raw)
	}

	switch val := v.value.(type) {
	case nil:
		return KindSingle
	case json.RawMessage:
		return kindOfRaw(val)
	case Value:
		return val.Kind()
	case []byte:
		// Encoded as a base64 string.
		return KindSingle
	}

	switch reflect.ValueOf(v.value).Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	default:
		return KindSingle
	}
}

func kindOfRaw(raw json.RawMessage) Kind {
	trimmed := bytes.TrimSpace(raw)

	switch {
	case len(trimmed) == 0:
		return KindNone
	case trimmed[0] == '[':
		return KindList
	default:
		return KindSingle
	}
}

// Raw returns the JSON encoding of the value. Locally built values are encoded with [Marshal].
//
// The returned slice must not be modified.
func (v Value) Raw() (json.RawMessage, error) {
	if !v.present {
		return nil, ErrEmptyValue
	}

	if v.raw != nil {
		return v.raw, nil
	}

	if nested, ok := v.value.(Value); ok {
		return nested.Raw()
	}

	buf, err := Marshal(v.value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return buf, nil
}

// Decode unmarshals the value into dst regardless of its shape.
//
// [ErrEmptyValue] is returned if the value carries nothing.
func (v Value) Decode(dst any) error {
	raw, err := v.Raw()
	if err != nil {
		return err
	}

	if err := Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	return nil
}

// Elements returns the members of a list value as individual values.
func (v Value) Elements() ([]Value, error) {
	if v.Kind() != KindList {
		return nil, fmt.Errorf("%w: expected list, got %s", ErrPayloadShape, v.Kind())
	}

	raw, err := v.Raw()
	if err != nil {
		return nil, err
	}

	items := gjson.ParseBytes(raw).Array()
	out := make([]Value, 0, len(items))

	for _, item := range items {
		out = append(out, RawValue(json.RawMessage(item.Raw)))
	}

	return out, nil
}

// MarshalJSON implements [json.Marshaler]. The empty value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}

	return v.Raw()
}

// UnmarshalJSON implements [json.Unmarshaler].
func (v *Value) UnmarshalJSON(data []byte) error {
	*v = RawValue(data)

	return nil
}

// As resolves a single value to T.
//
// It returns [ErrPayloadShape] if the value is a list and [ErrEmptyValue] if it carries nothing.
//
// Example:
//
//	s, err := peerrpc.As[string](req.Params)
func As[T any](v Value) (T, error) {
	var out T

	switch v.Kind() {
	case KindNone:
		return out, ErrEmptyValue
	case KindList:
		return out, fmt.Errorf("%w: expected single value, got list", ErrPayloadShape)
	}

	err := v.Decode(&out)

	return out, err
}

// AsListOf resolves a list value to []T.
//
// It returns [ErrPayloadShape] if the value is a single value and [ErrEmptyValue] if it carries nothing.
//
// Example:
//
//	paths, err := peerrpc.AsListOf[string](req.Params)
func AsListOf[T any](v Value) ([]T, error) {
	switch v.Kind() {
	case KindNone:
		return nil, ErrEmptyValue
	case KindSingle:
		return nil, fmt.Errorf("%w: expected list, got single value", ErrPayloadShape)
	}

	out := make([]T, 0)
	err := v.Decode(&out)

	return out, err
}

// toValue wraps a handler result. A non-empty [Value] is used as is; an empty one becomes null.
func toValue(v any) Value {
	if val, ok := v.(Value); ok {
		if val.present {
			return val
		}

		return Single(nil)
	}

	return Single(v)
}
