package peerrpc

import (
	"github.com/tidwall/gjson"
)

// Qualification is the classification of a single message by its top-level members.
type Qualification int

const (
	QualifiedUndefined Qualification = iota // Neither a request nor a response.
	QualifiedRequest                        // Has a method member.
	QualifiedResponse                       // Has exactly one of result or error.
)

// String implements [fmt.Stringer].
func (q Qualification) String() string {
	switch q {
	case QualifiedRequest:
		return "request"
	case QualifiedResponse:
		return "response"
	default:
		return "undefined"
	}
}

// Validate returns an [ErrParse] error if text is not syntactically valid JSON.
func Validate(text []byte) error {
	if !gjson.ValidBytes(text) {
		return ErrParse.WithData("malformed JSON")
	}

	return nil
}

// Qualify validates text and classifies it as a request, a response or neither.
//
// Only the top-level members of the message are inspected; payloads are never decoded.
// A top-level array is a batch and is always [QualifiedUndefined]; split it with [UnmarshalFrame].
func Qualify(text []byte) (Qualification, error) {
	if err := Validate(text); err != nil {
		return QualifiedUndefined, err
	}

	return qualifyResult(gjson.ParseBytes(text)), nil
}

func qualifyResult(msg gjson.Result) Qualification {
	if !msg.IsObject() {
		return QualifiedUndefined
	}

	if msg.Get("method").Exists() {
		return QualifiedRequest
	}

	if msg.Get("result").Exists() != msg.Get("error").Exists() {
		return QualifiedResponse
	}

	return QualifiedUndefined
}
