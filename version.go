package peerrpc

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ProtocolVersion is the value of the jsonrpc member emitted on every outbound message.
const ProtocolVersion = "2.0"

var ErrWrongProtocolVersion = errors.New("wrong protocol version for jsonrpc2")

// checkVersion inspects the jsonrpc member of a message.
//
// A missing member is tolerated for peers that omit it; a member carrying
// anything other than "2.0" is rejected.
func checkVersion(msg gjson.Result) error {
	v := msg.Get("jsonrpc")

	if !v.Exists() {
		return nil
	}

	if v.Type != gjson.String || v.Str != ProtocolVersion {
		return ErrInvalidRequest.WithData(fmt.Sprintf("%s: %s", ErrWrongProtocolVersion, v.Raw))
	}

	return nil
}
