package peerrpc

import (
	"errors"
	"fmt"
)

var (
	ErrParse          = NewError(-32700, "Parse error")
	ErrInvalidRequest = NewError(-32600, "Invalid Request")
	ErrMethodNotFound = NewError(-32601, "Method not found")
	ErrInvalidParams  = NewError(-32602, "Invalid params")
	ErrInternalError  = NewError(-32603, "Internal error")
)

var (
	ErrDecoding = errors.New("peerrpc: decoding error")
	ErrEncoding = errors.New("peerrpc: encoding error")
)

// rpcError is the wire representation of an [Error].
type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    Value  `json:"data,omitzero"`
}

// Error represents a JSON-RPC 2.0 error object.
//
// [Error] supports the go error interface and may be used as a normal error.
// Handlers return it to choose the code and message of the error response;
// rejected calls surface it from [Future.Wait].
type Error struct {
	err     rpcError
	present bool
}

// NewError returns a new [Error] with its Code and Message fields assigned to the given values.
func NewError(code int64, msg string) Error {
	return Error{present: true, err: rpcError{Code: code, Message: msg}}
}

// NewErrorWithData is the same as [NewError] but also sets the Data field.
func NewErrorWithData(code int64, msg string, data any) Error {
	return Error{present: true, err: rpcError{Code: code, Message: msg, Data: Single(data)}}
}

// MethodNotRegistered returns the [ErrMethodNotFound] error sent back for a call to an unknown method.
func MethodNotRegistered(method string) Error {
	return NewError(ErrMethodNotFound.Code(), fmt.Sprintf("Method '%s' not registered", method))
}

// AsError converts e into an [Error].
//
// If e is, or wraps, an [Error] it is returned directly.
// Other errors become an [ErrInternalError] carrying the error text as data.
func AsError(e error) Error {
	var je Error

	if errors.As(e, &je) {
		return je
	}

	return ErrInternalError.WithData(e.Error())
}

// Code returns the code present in the error.
func (e Error) Code() int64 {
	return e.err.Code
}

// Message returns the message present in the error.
func (e Error) Message() string {
	return e.err.Message
}

// Data returns the data present in the error. It is empty if none was sent.
func (e Error) Data() Value {
	return e.err.Data
}

// WithData returns a copy of the error with its Data field set to data.
func (e Error) WithData(data any) Error {
	return Error{present: true, err: rpcError{Code: e.err.Code, Message: e.err.Message, Data: Single(data)}}
}

// Is returns true if t is an [Error] with the same code.
func (e Error) Is(t error) bool {
	if jerr, ok := t.(Error); ok {
		return e.err.Code == jerr.err.Code
	}

	if jerr, ok := t.(*Error); ok && jerr != nil {
		return e.err.Code == jerr.err.Code
	}

	return false
}

// IsZero returns true if the error is empty.
func (e Error) IsZero() bool {
	return !e.present
}

// Error implements the error interface.
func (e Error) Error() string {
	return fmt.Sprintf("jsonrpc2 error %d: %s", e.err.Code, e.err.Message)
}

// MarshalJSON implements [json.Marshaler].
func (e Error) MarshalJSON() ([]byte, error) {
	return Marshal(&e.err)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (e *Error) UnmarshalJSON(b []byte) error {
	if err := Unmarshal(b, &e.err); err != nil {
		return err
	}

	e.present = true

	return nil
}
