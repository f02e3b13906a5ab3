package peerrpc

import (
	"context"
	"time"
)

// EndpointClient calls methods on one endpoint of an [Engine].
//
// Unlike the [Transmitter] it waits for the response: Call blocks until the endpoint
// answers, ctx is done, or the endpoint is terminated.
//
// EndpointClient is goroutine-safe.
type EndpointClient struct {
	engine     *Engine
	endpointID string
}

// ID returns the id of the endpoint.
func (c *EndpointClient) ID() string {
	return c.endpointID
}

// Call calls the given method on the endpoint and returns its undecoded [Result].
// An error sent back by the endpoint is returned as an [Error].
func (c *EndpointClient) Call(ctx context.Context, method string, params Params) (Result, error) {
	future, err := c.engine.transmitter.CallRaw(ctx, c.endpointID, method, params)
	if err != nil {
		return Result{}, err
	}

	return future.Wait(ctx)
}

// CallWithTimeout behaves the same as [EndpointClient.Call] but also accepts a timeout for the call.
//
// The call is forgotten once the timeout expires, so a late response is reported as a correlation miss.
func (c *EndpointClient) CallWithTimeout(ctx context.Context, timeout time.Duration, method string, params Params) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	future, err := c.engine.transmitter.CallRaw(ctx, c.endpointID, method, params)
	if err != nil {
		return Result{}, err
	}

	result, err := future.Wait(ctx)
	if ctx.Err() != nil && !future.Settled() {
		c.engine.pending.Cancel(c.endpointID, future.ID(), err)
	}

	return result, err
}

// Notify sends the given method as a notification, not waiting for a response.
func (c *EndpointClient) Notify(ctx context.Context, method string, params Params) error {
	return c.engine.transmitter.Notify(ctx, c.endpointID, method, params)
}

// NewBatch returns a [*BatchBuilder] sending to the endpoint.
func (c *EndpointClient) NewBatch() *BatchBuilder {
	return c.engine.transmitter.NewBatch(c.endpointID)
}

// Invoke calls method on the endpoint and waits for a single result of type R.
//
// Example:
//
//	files, err := peerrpc.Invoke[[]string](ctx, engine.Endpoint("agent1"), "workspace/list", peerrpc.NoParams())
func Invoke[R any](ctx context.Context, c *EndpointClient, method string, params Params) (R, error) {
	future, err := Call[R](ctx, c.engine.transmitter, c.endpointID, method, params)
	if err != nil {
		var zero R
		return zero, err
	}

	return future.Wait(ctx)
}
