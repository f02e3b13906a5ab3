package peerrpc

import (
	"errors"
	"strings"
)

// ErrEmptyMethod is returned when building or encoding a request without a method name.
var ErrEmptyMethod = errors.New("method must not be empty")

// Request represents a JSON-RPC 2.0 request or notification.
//
// A request carrying an [ID] expects a [Response]; a request without one is a
// notification and is never answered. Requests are treated as immutable once built.
type Request struct {
	ID     ID
	Method string
	Params Params
}

// NewRequest builds a call for method with the given id and params.
//
// Example:
//
//	req, err := peerrpc.NewRequest(peerrpc.NewID("c-1"), "echo", peerrpc.Single("hi"))
func NewRequest(id ID, method string, params Params) (*Request, error) {
	if strings.TrimSpace(method) == "" {
		return nil, ErrEmptyMethod
	}

	if id.IsZero() {
		return nil, ErrInvalidID
	}

	return &Request{ID: id, Method: method, Params: params}, nil
}

// NewNotification builds a notification for method with the given params.
func NewNotification(method string, params Params) (*Request, error) {
	if strings.TrimSpace(method) == "" {
		return nil, ErrEmptyMethod
	}

	return &Request{Method: method, Params: params}, nil
}

// IsNotification returns true if this request has no id.
func (r *Request) IsNotification() bool {
	return r.ID.IsZero()
}

// ResponseWithResult constructs the successful response to this request.
func (r *Request) ResponseWithResult(result any) *Response {
	return &Response{ID: r.ID, Result: toValue(result)}
}

// ResponseWithError constructs the error response to this request.
// See [AsError] for how e is converted.
func (r *Request) ResponseWithError(e error) *Response {
	return &Response{ID: r.ID, Error: AsError(e)}
}

// MarshalJSON implements [json.Marshaler] using the canonical encoding of [MarshalRequest].
func (r *Request) MarshalJSON() ([]byte, error) {
	return MarshalRequest(r)
}
