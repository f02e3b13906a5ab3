package peerrpc

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidID is returned when an id member is neither a string, a number nor null.
var ErrInvalidID = errors.New("id must be a string or a number")

// ID represents a JSON-RPC 2.0 request id.
//
// Ids are compared as strings. Numeric ids are canonicalized when decoded
// (`7`, `7.0` and `7e0` all become "7") so that a response correlates with its
// request no matter how the peer spelled the number. The numeric flag is kept
// so that an id is echoed back with the same JSON type it arrived with.
//
// The zero value is an absent id: a [Request] without an id is a notification.
type ID struct {
	value   string
	numeric bool
	present bool
}

// NewID returns a string id.
//
// Example:
//
//	id := peerrpc.NewID("c-17")
func NewID(v string) ID {
	return ID{value: v, present: true}
}

// NewNumericID returns an id that is encoded as a JSON number.
//
// Example:
//
//	id := peerrpc.NewNumericID(17)
//	fmt.Println(id.String()) // Output: 17
func NewNumericID(v int64) ID {
	return ID{value: strconv.FormatInt(v, 10), numeric: true, present: true}
}

// IsZero returns true if the id is absent.
func (id ID) IsZero() bool {
	return !id.present
}

// IsNumeric returns true if the id is encoded as a JSON number.
func (id ID) IsNumeric() bool {
	return id.numeric
}

// String returns the canonical string form of the id, used for correlation.
func (id ID) String() string {
	return id.value
}

// Equal reports whether both ids are present and have the same canonical string form.
// The JSON type is not compared: NewID("7") equals NewNumericID(7).
func (id ID) Equal(t ID) bool {
	return id.present && t.present && id.value == t.value
}

// raw returns the wire form of the id. Absent ids encode as null.
func (id ID) raw() []byte {
	switch {
	case !id.present:
		return []byte("null")
	case id.numeric:
		return []byte(id.value)
	default:
		return []byte(strconv.Quote(id.value))
	}
}

// MarshalJSON implements [json.Marshaler].
func (id ID) MarshalJSON() ([]byte, error) {
	return id.raw(), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
// JSON null decodes to the absent id.
func (id *ID) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid JSON for id", ErrDecoding)
	}

	parsed, err := idFromResult(gjson.ParseBytes(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	*id = parsed

	return nil
}

// idFromResult converts the id member of a message.
func idFromResult(r gjson.Result) (ID, error) {
	switch r.Type {
	case gjson.Null:
		// Covers both a missing member and an explicit null.
		return ID{}, nil
	case gjson.String:
		return NewID(r.Str), nil
	case gjson.Number:
		canon, err := canonicalNumber(r.Raw)
		if err != nil {
			return ID{}, err
		}

		return ID{value: canon, numeric: true, present: true}, nil
	default:
		return ID{}, ErrInvalidID
	}
}

// canonicalNumber renders a JSON number literal in its shortest form.
// Integral values are rendered exactly, without fraction or exponent.
func canonicalNumber(lit string) (string, error) {
	if !strings.ContainsAny(lit, ".eE") {
		n, ok := new(big.Int).SetString(lit, 10)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, lit)
		}

		return n.String(), nil
	}

	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidID, err)
	}

	if f == math.Trunc(f) {
		if r, ok := new(big.Rat).SetString(lit); ok && r.IsInt() {
			return r.Num().String(), nil
		}
	}

	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
