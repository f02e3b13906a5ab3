package peerrpc

// Response represents a JSON-RPC 2.0 response object.
//
// A response carries either a [Result] or an [Error], never both. Use the
// constructors to build one; [MarshalResponse] refuses anything else.
type Response struct {
	ID     ID
	Result Result
	Error  Error
}

// NewResponseWithResult creates a successful response. result is wrapped with [Single]
// unless it already is a [Value]; nil becomes JSON null.
//
// Example:
//
//	resp := peerrpc.NewResponseWithResult(peerrpc.NewID("c-1"), "pong")
//	// Marshals to: {"jsonrpc":"2.0","id":"c-1","result":"pong"}
func NewResponseWithResult(id ID, result any) *Response {
	return &Response{ID: id, Result: toValue(result)}
}

// NewResponseWithError creates an error response. See [AsError] for how e is converted.
// An absent id encodes as null, which is used when the request id could not be determined.
//
// Example:
//
//	resp := peerrpc.NewResponseWithError(peerrpc.ID{}, peerrpc.ErrParse)
//	// Marshals to: {"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}
func NewResponseWithError(id ID, e error) *Response {
	return &Response{ID: id, Error: AsError(e)}
}

// HasResult returns true if the response carries a result and no error.
func (r *Response) HasResult() bool {
	return !r.Result.IsZero() && r.Error.IsZero()
}

// HasError returns true if the response carries an error and no result.
func (r *Response) HasError() bool {
	return !r.Error.IsZero() && r.Result.IsZero()
}

// IsError is an alias of [Response.HasError].
func (r *Response) IsError() bool {
	return r.HasError()
}

// MarshalJSON implements [json.Marshaler] using the canonical encoding of [MarshalResponse].
func (r *Response) MarshalJSON() ([]byte, error) {
	return MarshalResponse(r)
}
