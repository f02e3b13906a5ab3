package peerrpc

import (
	"context"
	"errors"
	"sync"
)

// ErrNotSettled is returned by [Future.Result] while the call awaits its response.
var ErrNotSettled = errors.New("future not settled")

// Future is the eventual outcome of an outgoing call.
//
// It is settled exactly once, when the matching response arrives, when the call is
// cancelled, or when its endpoint is terminated. The engine applies no timeout; use a
// context deadline with [Future.Wait] to bound the wait.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
	id    ID
	once  sync.Once
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Done returns a channel closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is settled or ctx is done.
//
// If ctx ends first its error is returned; the call itself stays pending and may
// still be settled later.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await implements [Awaitable], so a handler may return the future of a nested call.
func (f *Future[T]) Await(ctx context.Context) (any, error) {
	v, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}

	return v, nil
}

// ID returns the id of the request the future waits on.
func (f *Future[T]) ID() ID {
	return f.id
}

// Settled reports whether the future already holds its outcome.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking. It returns [ErrNotSettled] until [Future.Settled] is true.
func (f *Future[T]) Result() (T, error) {
	if !f.Settled() {
		var zero T
		return zero, ErrNotSettled
	}

	return f.value, f.err
}

func (f *Future[T]) resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

func (f *Future[T]) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// resolveAny is used as the onResolve continuation of a pending call.
func (f *Future[T]) resolveAny(v any) {
	typed, ok := v.(T)
	if !ok {
		f.reject(ErrPayloadShape)
		return
	}

	f.resolve(typed)
}
