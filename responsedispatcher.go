package peerrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicatePendingCall is returned when a call is registered under a key that is already pending.
	ErrDuplicatePendingCall = errors.New("a call with this id is already pending for the endpoint")
	// ErrEndpointClosed rejects the pending calls of an endpoint whose session was terminated.
	ErrEndpointClosed = errors.New("endpoint session terminated")
)

// Expectation describes how the result of a call is resolved once its response arrives.
//
// Build one with [ExpectNone], [ExpectRaw], [ExpectSingle] or [ExpectList].
type Expectation struct {
	decode func(Result) (any, error)
	kind   Kind
}

// Kind returns the shape of result the expectation resolves.
func (e Expectation) Kind() Kind {
	return e.kind
}

// ExpectNone ignores the result of the call and resolves with [Void].
func ExpectNone() Expectation {
	return Expectation{kind: KindNone, decode: func(Result) (any, error) { return Void{}, nil }}
}

// ExpectRaw resolves with the undecoded [Result].
func ExpectRaw() Expectation {
	return Expectation{kind: KindNone, decode: func(r Result) (any, error) { return r, nil }}
}

// ExpectSingle resolves the result with [As].
func ExpectSingle[T any]() Expectation {
	return Expectation{kind: KindSingle, decode: func(r Result) (any, error) { return As[T](r) }}
}

// ExpectList resolves the result with [AsListOf].
func ExpectList[T any]() Expectation {
	return Expectation{kind: KindList, decode: func(r Result) (any, error) { return AsListOf[T](r) }}
}

// callKey identifies a pending call. The endpoint is kept apart from the id so that
// neither may contain the separator used by String.
type callKey struct {
	endpoint string
	id       string
}

// String renders the key as endpointID@requestID.
func (k callKey) String() string {
	return k.endpoint + "@" + k.id
}

type pendingCall struct {
	onResolve func(any)
	onReject  func(error)
	expect    Expectation
}

// PendingCalls is the response dispatcher: it correlates inbound responses with the
// outgoing calls awaiting them, keyed by endpoint and request id.
//
// Each registration is consumed exactly once, by the first matching response. There is
// no timeout: a call whose response never arrives stays pending until its endpoint is
// failed with [PendingCalls.FailEndpoint] or the call is cancelled.
//
// PendingCalls is safe for concurrent use.
type PendingCalls struct {
	callbacks *Callbacks
	calls     map[callKey]*pendingCall
	mu        sync.Mutex
}

// NewPendingCalls returns an empty [*PendingCalls]. callbacks may be nil.
func NewPendingCalls(callbacks *Callbacks) *PendingCalls {
	if callbacks == nil {
		callbacks = &Callbacks{}
	}

	return &PendingCalls{callbacks: callbacks, calls: make(map[callKey]*pendingCall)}
}

// Register records a call that expects a response.
//
// It must complete before the request is handed to the transport, otherwise a fast
// response could arrive before the call is known. onResolve receives the value produced by
// expect; onReject receives an [Error] sent by the peer, a decoding error, or the error passed
// to [PendingCalls.Cancel] / [PendingCalls.FailEndpoint].
//
// Registering a key that is already pending returns [ErrDuplicatePendingCall].
func (p *PendingCalls) Register(endpointID string, id ID, expect Expectation, onResolve func(any), onReject func(error)) error {
	if id.IsZero() {
		return ErrInvalidID
	}

	if expect.decode == nil {
		expect = ExpectRaw()
	}

	key := callKey{endpoint: endpointID, id: id.String()}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.calls[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePendingCall, key)
	}

	p.calls[key] = &pendingCall{expect: expect, onResolve: onResolve, onReject: onReject}

	return nil
}

// Dispatch delivers a response from endpointID to the call awaiting it.
//
// A response carrying a result resolves the call; one carrying an error rejects it with that
// [Error]. A response carrying neither is malformed and is reported through
// [Callbacks.OnDecodingError] without consuming the call. A response matching no pending call
// is dropped and reported through [Callbacks.OnCorrelationMiss].
func (p *PendingCalls) Dispatch(ctx context.Context, endpointID string, resp *Response) {
	if resp == nil {
		return
	}

	if resp.HasResult() == resp.HasError() {
		p.callbacks.runOnDecodingError(ctx, endpointID, nil, fmt.Errorf("%w: id %s", ErrInvalidResponse, resp.ID.String()))
		return
	}

	call, ok := p.take(callKey{endpoint: endpointID, id: resp.ID.String()}, resp.ID)
	if !ok {
		p.callbacks.runOnCorrelationMiss(ctx, endpointID, resp)
		return
	}

	if resp.HasError() {
		call.reject(resp.Error)
		return
	}

	value, err := call.expect.decode(resp.Result)
	if err != nil {
		call.reject(err)
		return
	}

	call.resolve(value)
}

// Cancel removes a pending call and rejects it with err.
// It reports whether the call was pending.
func (p *PendingCalls) Cancel(endpointID string, id ID, err error) bool {
	call, ok := p.take(callKey{endpoint: endpointID, id: id.String()}, id)
	if ok {
		call.reject(err)
	}

	return ok
}

// FailEndpoint rejects every call pending on endpointID with err joined with [ErrEndpointClosed].
// It returns the number of calls rejected.
func (p *PendingCalls) FailEndpoint(endpointID string, err error) int {
	return p.fail(func(key callKey) bool { return key.endpoint == endpointID }, err)
}

// FailAll rejects every pending call of every endpoint, as [PendingCalls.FailEndpoint] does.
func (p *PendingCalls) FailAll(err error) int {
	return p.fail(func(callKey) bool { return true }, err)
}

func (p *PendingCalls) fail(match func(callKey) bool, err error) int {
	p.mu.Lock()

	failed := make([]*pendingCall, 0)

	for key, call := range p.calls {
		if match(key) {
			failed = append(failed, call)
			delete(p.calls, key)
		}
	}

	p.mu.Unlock()

	cause := ErrEndpointClosed
	if err != nil && !errors.Is(err, ErrEndpointClosed) {
		cause = errors.Join(ErrEndpointClosed, err)
	}

	for _, call := range failed {
		call.reject(cause)
	}

	return len(failed)
}

// Len returns the number of pending calls.
func (p *PendingCalls) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.calls)
}

// take removes and returns the call for key. Absent ids never match.
func (p *PendingCalls) take(key callKey, id ID) (*pendingCall, bool) {
	if id.IsZero() {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[key]
	if ok {
		delete(p.calls, key)
	}

	return call, ok
}

func (c *pendingCall) resolve(v any) {
	if c.onResolve != nil {
		c.onResolve(v)
	}
}

func (c *pendingCall) reject(err error) {
	if c.onReject != nil {
		c.onReject(err)
	}
}
