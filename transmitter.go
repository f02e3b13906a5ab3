package peerrpc

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned when sending through an engine that has been closed.
var ErrClosed = errors.New("peerrpc: engine closed")

// Transport delivers encoded frames to endpoints. It is implemented outside this package
// (see the wstransport package); inbound frames are fed to [Engine.Receive].
//
// Send must deliver the frames of one endpoint in the order Send is called and must be
// safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, endpointID string, frame []byte) error
}

// TransportFunc adapts a function to the [Transport] interface.
type TransportFunc func(ctx context.Context, endpointID string, frame []byte) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, endpointID string, frame []byte) error {
	return f(ctx, endpointID, frame)
}

// Transmitter builds outgoing requests and notifications, encodes them and hands them to
// the [Transport]. Calls are registered with the [PendingCalls] before they are sent.
//
// A Transmitter is safe for concurrent use.
type Transmitter struct {
	transport Transport
	pending   *PendingCalls
	ids       IDGenerator
}

// NewTransmitter returns a [*Transmitter] sending through transport and registering calls in pending.
// A nil ids uses a [ULIDGenerator].
func NewTransmitter(transport Transport, pending *PendingCalls, ids IDGenerator) *Transmitter {
	if ids == nil {
		ids = NewULIDGenerator()
	}

	return &Transmitter{transport: transport, pending: pending, ids: ids}
}

// Notify sends a notification. No response is expected and no call is registered.
//
// Example:
//
//	err := tx.Notify(ctx, "agent1", "workspace/didSave", peerrpc.Single(map[string]string{"path": "main.go"}))
func (t *Transmitter) Notify(ctx context.Context, endpointID, method string, params Params) error {
	req, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	frame, err := MarshalRequest(req)
	if err != nil {
		return err
	}

	return t.send(ctx, endpointID, frame)
}

// CallRaw sends a call and returns a [Future] resolving with the undecoded [Result].
func (t *Transmitter) CallRaw(ctx context.Context, endpointID, method string, params Params) (*Future[Result], error) {
	return callWith[Result](ctx, t, endpointID, method, params, ExpectRaw())
}

// Call sends a call whose result is a single value of type R.
//
// The returned [Future] is resolved with the decoded result, or rejected with the [Error]
// sent by the peer. A list result rejects the future with [ErrPayloadShape].
//
// Example:
//
//	future, err := peerrpc.Call[string](ctx, tx, "agent1", "echo", peerrpc.Single("hi"))
//	if err != nil {
//		return err // encoding or transport failure
//	}
//	reply, err := future.Wait(ctx)
func Call[R any](ctx context.Context, t *Transmitter, endpointID, method string, params Params) (*Future[R], error) {
	return callWith[R](ctx, t, endpointID, method, params, ExpectSingle[R]())
}

// CallList sends a call whose result is a list of values of type R.
func CallList[R any](ctx context.Context, t *Transmitter, endpointID, method string, params Params) (*Future[[]R], error) {
	return callWith[[]R](ctx, t, endpointID, method, params, ExpectList[R]())
}

// CallEmpty sends a call whose result is ignored. The future resolves once the peer answers.
func CallEmpty(ctx context.Context, t *Transmitter, endpointID, method string, params Params) (*Future[Void], error) {
	return callWith[Void](ctx, t, endpointID, method, params, ExpectNone())
}

// callWith registers the call before handing its frame to the transport. If sending fails
// the registration is cancelled and the error returned.
func callWith[T any](ctx context.Context, t *Transmitter, endpointID, method string, params Params, expect Expectation) (*Future[T], error) {
	req, err := NewRequest(t.ids.NextID(), method, params)
	if err != nil {
		return nil, err
	}

	frame, err := MarshalRequest(req)
	if err != nil {
		return nil, err
	}

	future := newFuture[T]()
	future.id = req.ID

	if err := t.pending.Register(endpointID, req.ID, expect, future.resolveAny, future.reject); err != nil {
		return nil, err
	}

	if err := t.send(ctx, endpointID, frame); err != nil {
		t.pending.Cancel(endpointID, req.ID, err)

		return nil, err
	}

	return future, nil
}

func (t *Transmitter) send(ctx context.Context, endpointID string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.transport.Send(ctx, endpointID, frame); err != nil {
		return fmt.Errorf("send to %s: %w", endpointID, err)
	}

	return nil
}
