package peerrpc

import (
	"context"
)

// Properties describe an endpoint session as reported by the transport, for example
// the remote address or the URL that was dialed.
type Properties map[string]string

// Binder prepares an [Engine] for a new endpoint session. It is run by [Engine.Open]
// before any traffic from the endpoint is received, typically to register handlers or
// to send an initial notification.
//
// Returning an error aborts the session: the engine terminates the endpoint again.
type Binder interface {
	Bind(ctx context.Context, engine *Engine, endpointID string, props Properties) error
}

// NewFuncBinder returns a [Binder] that runs the given function on bind.
//
//nolint:ireturn //Helper function
func NewFuncBinder(binder func(ctx context.Context, engine *Engine, endpointID string, props Properties) error) Binder {
	return &funcBinder{funcBind: binder}
}

// funcBinder is used to wrap a function into a [Binder].
type funcBinder struct {
	funcBind func(context.Context, *Engine, string, Properties) error
}

// Bind implements [Binder].
func (fb *funcBinder) Bind(ctx context.Context, engine *Engine, endpointID string, props Properties) error {
	return fb.funcBind(ctx, engine, endpointID, props)
}
