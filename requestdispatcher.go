package peerrpc

import (
	"context"
	"sync"
)

// ContextKey is the type of the keys set on the context passed to handlers.
type ContextKey int

const (
	// CtxEndpoint is set to the id (string) of the endpoint that sent the request.
	CtxEndpoint ContextKey = iota
	// CtxEngine is set to the [*Engine] that received the request.
	CtxEngine
)

// EndpointFromContext returns the id of the endpoint that sent the request being handled.
func EndpointFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(CtxEndpoint).(string)
	return id, ok
}

// EngineFromContext returns the [*Engine] handling the current request, so that a handler
// can call back into the endpoint that sent it.
func EngineFromContext(ctx context.Context) (*Engine, bool) {
	e, ok := ctx.Value(CtxEngine).(*Engine)
	return e, ok
}

// RequestDispatcher runs inbound requests against a [Registry] and sends the responses
// of calls back through a [Transport].
//
// Unless NoRoutines is set, every request is handled on its own goroutine bounded by the
// worker pool, so the goroutine receiving frames never waits for a handler.
type RequestDispatcher struct {
	registry  *Registry
	callbacks *Callbacks
	transport Transport
	pool      *workerPool
	// Run batches in serial without go-routine fan out
	SerialBatch bool
	// Don't run requests in a separate go-routine
	NoRoutines bool
	wg         sync.WaitGroup
}

// newRequestDispatcher returns a [*RequestDispatcher] replying through transport.
// A nil pool runs handlers without a concurrency bound.
func newRequestDispatcher(registry *Registry, callbacks *Callbacks, transport Transport, pool *workerPool) *RequestDispatcher {
	return &RequestDispatcher{registry: registry, callbacks: callbacks, transport: transport, pool: pool}
}

// DispatchRequest handles a single request received from endpointID. The response of a
// call is sent as its own frame; a notification produces nothing.
func (d *RequestDispatcher) DispatchRequest(ctx context.Context, endpointID string, req *Request) {
	ctx = context.WithValue(ctx, CtxEndpoint, endpointID)

	d.spawn(func() {
		var resp *Response

		if err := d.exec(ctx, func() { resp = d.handle(ctx, endpointID, req) }); err != nil {
			d.callbacks.runOnDispatchError(ctx, endpointID, err)
			return
		}

		if resp != nil {
			d.send(ctx, endpointID, d.encode(ctx, endpointID, resp))
		}
	})
}

// DispatchMessage handles one classified message that is not a response: a request, or a
// message that failed to decode, which is answered with its error when it can be addressed.
func (d *RequestDispatcher) DispatchMessage(ctx context.Context, endpointID string, msg Message) {
	if msg.Err == nil && msg.Request != nil {
		d.DispatchRequest(ctx, endpointID, msg.Request)
		return
	}

	if resp := d.rejectMessage(ctx, endpointID, msg); resp != nil {
		d.send(ctx, endpointID, d.encode(ctx, endpointID, resp))
	}
}

// DispatchBatch handles the non-response messages of one inbound batch.
//
// The responses are sent back as one batch frame, in the order of the elements they answer.
// Elements that failed to decode are answered in place; notifications contribute nothing and
// a batch made only of notifications produces no frame at all. Response messages are ignored.
func (d *RequestDispatcher) DispatchBatch(ctx context.Context, endpointID string, msgs []Message) {
	ctx = context.WithValue(ctx, CtxEndpoint, endpointID)

	d.spawn(func() {
		replies := make([]*Response, len(msgs))

		var wg sync.WaitGroup

		for i, msg := range msgs {
			switch {
			case msg.Kind == MessageResponse:
				continue
			case msg.Err != nil || msg.Request == nil:
				replies[i] = d.rejectMessage(ctx, endpointID, msg)
				continue
			}

			run := func() {
				if err := d.exec(ctx, func() { replies[i] = d.handle(ctx, endpointID, msg.Request) }); err != nil {
					d.callbacks.runOnDispatchError(ctx, endpointID, err)
				}
			}

			if d.SerialBatch || d.NoRoutines || len(msgs) == 1 {
				run()
				continue
			}

			wg.Add(1)

			go func() {
				defer wg.Done()
				run()
			}()
		}

		wg.Wait()

		frames := make([][]byte, 0, len(replies))

		for _, resp := range replies {
			if resp != nil {
				frames = append(frames, d.encode(ctx, endpointID, resp))
			}
		}

		if len(frames) > 0 {
			d.send(ctx, endpointID, joinFrames(frames))
		}
	})
}

// ReplyError sends an error response addressed to id. It is used for frames that could not
// be decoded at all, in which case id is absent and encodes as null.
func (d *RequestDispatcher) ReplyError(ctx context.Context, endpointID string, id ID, err error) {
	d.send(ctx, endpointID, d.encode(ctx, endpointID, NewResponseWithError(id, err)))
}

// Wait blocks until every dispatched request has been handled and answered.
func (d *RequestDispatcher) Wait() {
	d.wg.Wait()
}

// rejectMessage reports a message that failed to decode and returns the error response
// answering it, or nil when it must not be answered.
func (d *RequestDispatcher) rejectMessage(ctx context.Context, endpointID string, msg Message) *Response {
	err := msg.Err
	if err == nil {
		err = ErrInvalidRequest
	}

	d.callbacks.runOnDecodingError(ctx, endpointID, nil, err)

	// A broken request without id may have been a notification.
	if msg.Kind == MessageRequest && msg.ID.IsZero() {
		return nil
	}

	return NewResponseWithError(msg.ID, err)
}

// handle runs the handler for req and builds the response. It returns nil for notifications.
func (d *RequestDispatcher) handle(ctx context.Context, endpointID string, req *Request) (resp *Response) {
	// Catch panics from inside the handler
	defer func() {
		if r := recover(); r != nil {
			d.callbacks.runOnHandlerPanic(ctx, endpointID, req, r)

			resp = nil
			if !req.IsNotification() {
				resp = req.ResponseWithError(ErrInternalError)
			}
		}
	}()

	handler, ok := d.registry.Lookup(req.Method)
	if !ok {
		if req.IsNotification() {
			d.callbacks.runOnNotificationError(ctx, endpointID, req, MethodNotRegistered(req.Method))
			return nil
		}

		return req.ResponseWithError(MethodNotRegistered(req.Method))
	}

	result, err := handler.Handle(ctx, req)

	if aw, ok := result.(Awaitable); ok && err == nil {
		result, err = aw.Await(ctx)
	}

	if req.IsNotification() {
		if err != nil {
			d.callbacks.runOnNotificationError(ctx, endpointID, req, err)
		}

		return nil
	}

	if err != nil {
		return req.ResponseWithError(err)
	}

	return req.ResponseWithResult(result)
}

// encode marshals resp. A result that cannot be encoded is replaced by [ErrInternalError].
func (d *RequestDispatcher) encode(ctx context.Context, endpointID string, resp *Response) []byte {
	buf, err := MarshalResponse(resp)
	if err == nil {
		return buf
	}

	d.callbacks.runOnEncodingError(ctx, endpointID, resp, err)

	// Cannot fail: the error carries no data.
	buf, _ = MarshalResponse(NewResponseWithError(resp.ID, ErrInternalError))

	return buf
}

func (d *RequestDispatcher) send(ctx context.Context, endpointID string, frame []byte) {
	if err := d.transport.Send(ctx, endpointID, frame); err != nil {
		d.callbacks.runOnSendError(ctx, endpointID, err)
	}
}

// spawn runs fn on a new goroutine unless NoRoutines is set.
func (d *RequestDispatcher) spawn(fn func()) {
	if d.NoRoutines {
		fn()
		return
	}

	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// exec runs fn on a pooled worker, waiting for one to be free.
func (d *RequestDispatcher) exec(ctx context.Context, fn func()) error {
	if d.pool == nil || d.NoRoutines {
		fn()
		return nil
	}

	return d.pool.run(ctx, fn)
}
