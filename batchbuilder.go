package peerrpc

import (
	"context"
	"errors"
)

// ErrEmptyBatch is returned when sending a [BatchBuilder] holding nothing.
var ErrEmptyBatch = errors.New("batch is empty")

type batchCall struct {
	req       *Request
	expect    Expectation
	onResolve func(any)
	onReject  func(error)
}

// BatchBuilder accumulates calls and notifications for one endpoint and sends them as a
// single batch frame. Each call gets its own [Future]; the peer may answer them in any order.
//
// Calls are registered when the batch is sent, not when they are added. A BatchBuilder
// is NOT goroutine-safe and must not be reused after [BatchBuilder.Send].
//
// Example:
//
//	b := tx.NewBatch("agent1")
//	sum, _ := peerrpc.AddCall[int](b, "sum", peerrpc.List([]int{1, 2}))
//	_ = b.AddNotification("log", peerrpc.Single("batch sent"))
//	if err := b.Send(ctx); err != nil {
//		return err
//	}
//	total, err := sum.Wait(ctx)
type BatchBuilder struct {
	t          *Transmitter
	endpointID string
	items      []*batchCall
}

// NewBatch returns a [*BatchBuilder] for endpointID.
func (t *Transmitter) NewBatch(endpointID string) *BatchBuilder {
	return &BatchBuilder{t: t, endpointID: endpointID}
}

// Len returns the number of calls and notifications in the batch.
func (b *BatchBuilder) Len() int {
	return len(b.items)
}

// AddNotification appends a notification to the batch.
func (b *BatchBuilder) AddNotification(method string, params Params) error {
	req, err := NewNotification(method, params)
	if err != nil {
		return err
	}

	b.items = append(b.items, &batchCall{req: req})

	return nil
}

// AddCall appends a call whose result is a single value of type R.
func AddCall[R any](b *BatchBuilder, method string, params Params) (*Future[R], error) {
	return addCallWith[R](b, method, params, ExpectSingle[R]())
}

// AddCallList appends a call whose result is a list of values of type R.
func AddCallList[R any](b *BatchBuilder, method string, params Params) (*Future[[]R], error) {
	return addCallWith[[]R](b, method, params, ExpectList[R]())
}

func addCallWith[T any](b *BatchBuilder, method string, params Params, expect Expectation) (*Future[T], error) {
	req, err := NewRequest(b.t.ids.NextID(), method, params)
	if err != nil {
		return nil, err
	}

	future := newFuture[T]()
	future.id = req.ID
	b.items = append(b.items, &batchCall{req: req, expect: expect, onResolve: future.resolveAny, onReject: future.reject})

	return future, nil
}

// Send registers every call of the batch and sends the batch frame.
//
// On failure no call stays registered and every future of the batch is rejected with the error.
func (b *BatchBuilder) Send(ctx context.Context) error {
	if len(b.items) == 0 {
		return ErrEmptyBatch
	}

	batch := NewBatch[*Request](len(b.items))
	for _, item := range b.items {
		batch.Add(item.req)
	}

	frame, err := MarshalBatch(batch)
	if err != nil {
		b.rejectAll(err)
		return err
	}

	registered := make([]*batchCall, 0, len(b.items))

	for _, item := range b.items {
		if item.req.IsNotification() {
			continue
		}

		if err := b.t.pending.Register(b.endpointID, item.req.ID, item.expect, item.onResolve, item.onReject); err != nil {
			b.cancel(registered, err)
			b.rejectAll(err)

			return err
		}

		registered = append(registered, item)
	}

	if err := b.t.send(ctx, b.endpointID, frame); err != nil {
		b.cancel(registered, err)
		return err
	}

	return nil
}

func (b *BatchBuilder) cancel(calls []*batchCall, err error) {
	for _, item := range calls {
		b.t.pending.Cancel(b.endpointID, item.req.ID, err)
	}
}

func (b *BatchBuilder) rejectAll(err error) {
	for _, item := range b.items {
		if item.onReject != nil {
			item.onReject(err)
		}
	}
}
