package peerrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidResponse is returned when a response carries both or neither of result and error.
var ErrInvalidResponse = errors.New("response must carry exactly one of result or error")

// envelope is the start of every outbound message; members are appended in canonical order.
const envelope = `{"jsonrpc":"` + ProtocolVersion + `"}`

// MarshalRequest encodes r as a JSON-RPC 2.0 request.
//
// Members are written in the order jsonrpc, id, method, params. The id is omitted
// for notifications and params are omitted when empty.
//
// Example:
//
//	req, _ := peerrpc.NewRequest(peerrpc.NewID("c-1"), "echo", peerrpc.Single("hi"))
//	buf, _ := peerrpc.MarshalRequest(req)
//	// {"jsonrpc":"2.0","id":"c-1","method":"echo","params":"hi"}
func MarshalRequest(r *Request) ([]byte, error) {
	if r == nil || r.Method == "" {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, ErrEmptyMethod)
	}

	buf := []byte(envelope)

	var err error

	if !r.ID.IsZero() {
		if buf, err = sjson.SetRawBytes(buf, "id", r.ID.raw()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
	}

	if buf, err = sjson.SetBytes(buf, "method", r.Method); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	if !r.Params.IsZero() {
		raw, err := r.Params.Raw()
		if err != nil {
			return nil, err
		}

		if buf, err = sjson.SetRawBytes(buf, "params", raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
	}

	return buf, nil
}

// MarshalResponse encodes r as a JSON-RPC 2.0 response.
//
// Members are written in the order jsonrpc, id, result or error. An absent id is written as null.
// [ErrInvalidResponse] is returned unless exactly one of result and error is set.
func MarshalResponse(r *Response) ([]byte, error) {
	if r == nil || r.Result.IsZero() == r.Error.IsZero() {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, ErrInvalidResponse)
	}

	buf, err := sjson.SetRawBytes([]byte(envelope), "id", r.ID.raw())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	if r.HasResult() {
		raw, err := r.Result.Raw()
		if err != nil {
			return nil, err
		}

		if buf, err = sjson.SetRawBytes(buf, "result", raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
		}

		return buf, nil
	}

	raw, err := r.Error.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	if buf, err = sjson.SetRawBytes(buf, "error", raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return buf, nil
}

// MarshalBatch encodes a batch as a JSON array of its encoded members.
func MarshalBatch[B *Request | *Response](b Batch[B]) ([]byte, error) {
	frames := make([][]byte, 0, len(b))

	for _, item := range b {
		var (
			buf []byte
			err error
		)

		switch v := any(item).(type) {
		case *Request:
			buf, err = MarshalRequest(v)
		case *Response:
			buf, err = MarshalResponse(v)
		}

		if err != nil {
			return nil, err
		}

		frames = append(frames, buf)
	}

	return joinFrames(frames), nil
}

// joinFrames wraps already encoded messages into a batch frame.
func joinFrames(frames [][]byte) []byte {
	var out bytes.Buffer

	out.WriteByte('[')
	out.Write(bytes.Join(frames, []byte{','}))
	out.WriteByte(']')

	return out.Bytes()
}

// UnmarshalRequest decodes a single JSON-RPC request.
//
// Malformed JSON yields [ErrParse]; valid JSON that is not a well formed request yields [ErrInvalidRequest].
func UnmarshalRequest(text []byte) (*Request, error) {
	if err := Validate(text); err != nil {
		return nil, err
	}

	return requestFromResult(gjson.ParseBytes(text))
}

// UnmarshalResponse decodes a single JSON-RPC response.
//
// Malformed JSON yields [ErrParse]; valid JSON that is not a well formed response yields [ErrInvalidRequest].
func UnmarshalResponse(text []byte) (*Response, error) {
	if err := Validate(text); err != nil {
		return nil, err
	}

	return responseFromResult(gjson.ParseBytes(text))
}

// UnmarshalFrame validates an inbound frame and decodes every message in it.
//
// A frame holding a top-level array is a batch (reported by the bool result); each element
// is qualified and decoded on its own, and an element that fails carries its error in
// [Message.Err] without affecting its siblings. The returned error is only set when the
// frame as a whole is unusable: malformed JSON ([ErrParse]), an empty batch or a scalar
// ([ErrInvalidRequest]).
func UnmarshalFrame(text []byte) ([]Message, bool, error) {
	if err := Validate(text); err != nil {
		return nil, false, err
	}

	root := gjson.ParseBytes(text)

	switch {
	case root.IsArray():
		elems := root.Array()
		if len(elems) == 0 {
			return nil, true, ErrInvalidRequest.WithData("empty batch")
		}

		msgs := make([]Message, 0, len(elems))
		for _, elem := range elems {
			msgs = append(msgs, classify(elem))
		}

		return msgs, true, nil
	case root.IsObject():
		return []Message{classify(root)}, false, nil
	default:
		return nil, false, ErrInvalidRequest.WithData("message must be an object or an array")
	}
}

// classify qualifies and decodes one message.
func classify(elem gjson.Result) Message {
	// Best effort, used to address error responses.
	id, _ := idFromResult(elem.Get("id"))

	switch qualifyResult(elem) {
	case QualifiedRequest:
		req, err := requestFromResult(elem)

		return Message{Kind: MessageRequest, Request: req, ID: id, Err: err}
	case QualifiedResponse:
		resp, err := responseFromResult(elem)

		return Message{Kind: MessageResponse, Response: resp, ID: id, Err: err}
	default:
		return Message{Kind: MessageUndefined, ID: id, Err: ErrInvalidRequest.WithData("message is neither a request nor a response")}
	}
}

func requestFromResult(msg gjson.Result) (*Request, error) {
	if !msg.IsObject() {
		return nil, ErrInvalidRequest.WithData("request must be an object")
	}

	if err := checkVersion(msg); err != nil {
		return nil, err
	}

	method := msg.Get("method")
	if method.Type != gjson.String || method.Str == "" {
		return nil, ErrInvalidRequest.WithData("method must be a non-empty string")
	}

	id, err := idFromResult(msg.Get("id"))
	if err != nil {
		return nil, ErrInvalidRequest.WithData(err.Error())
	}

	req := &Request{ID: id, Method: method.Str}

	if params := msg.Get("params"); params.Exists() {
		req.Params = RawValue(json.RawMessage(params.Raw))
	}

	return req, nil
}

func responseFromResult(msg gjson.Result) (*Response, error) {
	if !msg.IsObject() {
		return nil, ErrInvalidRequest.WithData("response must be an object")
	}

	if err := checkVersion(msg); err != nil {
		return nil, err
	}

	id, err := idFromResult(msg.Get("id"))
	if err != nil {
		return nil, ErrInvalidRequest.WithData(err.Error())
	}

	result, rpcErr := msg.Get("result"), msg.Get("error")

	switch {
	case result.Exists() == rpcErr.Exists():
		return nil, ErrInvalidRequest.WithData(ErrInvalidResponse.Error())
	case result.Exists():
		return &Response{ID: id, Result: RawValue(json.RawMessage(result.Raw))}, nil
	}

	e, err := errorFromResult(rpcErr)
	if err != nil {
		return nil, err
	}

	return &Response{ID: id, Error: e}, nil
}

func errorFromResult(obj gjson.Result) (Error, error) {
	code := obj.Get("code")
	if !obj.IsObject() || code.Type != gjson.Number {
		return Error{}, ErrInvalidRequest.WithData("error must be an object with a numeric code")
	}

	e := NewError(code.Int(), obj.Get("message").String())

	if data := obj.Get("data"); data.Exists() {
		e.err.Data = RawValue(json.RawMessage(data.Raw))
	}

	return e, nil
}
