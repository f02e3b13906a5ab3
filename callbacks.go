package peerrpc

import (
	"context"
	"log/slog"
)

// Callbacks defines a set of functions executed upon specific events while an [Engine]
// processes traffic. They are meant for logging and metrics and must be safe for
// concurrent use, since handlers run on their own goroutines.
//
// Callbacks should *not* modify engine state directly.
//
// Example:
//
//	cb := peerrpc.DefaultCallbacks(logger)
//	cb.OnCorrelationMiss = func(ctx context.Context, endpointID string, resp *peerrpc.Response) {
//		missed.Add(1)
//	}
//	engine, err := peerrpc.New(transport, peerrpc.WithCallbacks(cb))
type Callbacks struct {
	// OnDecodingError is called when an inbound frame, or an element of a batch frame,
	// cannot be decoded. raw is the offending frame.
	OnDecodingError func(ctx context.Context, endpointID string, raw []byte, err error)

	// OnEncodingError is called when an outbound response cannot be encoded.
	OnEncodingError func(ctx context.Context, endpointID string, value any, err error)

	// OnSendError is called when the [Transport] fails to send a response frame.
	// Failures sending calls and notifications are returned to the caller instead.
	OnSendError func(ctx context.Context, endpointID string, err error)

	// OnHandlerPanic is called when a [Handler] panics. The panic is recovered.
	OnHandlerPanic func(ctx context.Context, endpointID string, req *Request, rec any)

	// OnNotificationError is called when a notification cannot be handled: no handler is
	// registered for it, or its handler failed. Notifications cannot carry errors back.
	OnNotificationError func(ctx context.Context, endpointID string, req *Request, err error)

	// OnCorrelationMiss is called for a response that matches no pending call
	// (unexpected, duplicate or late). The response is dropped.
	OnCorrelationMiss func(ctx context.Context, endpointID string, resp *Response)

	// OnDispatchError is called when an inbound request cannot be scheduled,
	// typically because the engine is closing.
	OnDispatchError func(ctx context.Context, endpointID string, err error)
}

// DefaultCallbacks returns [Callbacks] logging every event to logger.
// A nil logger uses [slog.Default].
func DefaultCallbacks(logger *slog.Logger) Callbacks {
	if logger == nil {
		logger = slog.Default()
	}

	return Callbacks{
		OnDecodingError: func(ctx context.Context, endpointID string, raw []byte, err error) {
			logger.WarnContext(ctx, "Dropping undecodable JSON-RPC message", "endpoint", endpointID, "error", err, "raw", string(raw))
		},
		OnEncodingError: func(ctx context.Context, endpointID string, value any, err error) {
			logger.ErrorContext(ctx, "Failed to encode JSON-RPC message", "endpoint", endpointID, "error", err, "value", value)
		},
		OnSendError: func(ctx context.Context, endpointID string, err error) {
			logger.ErrorContext(ctx, "Failed to send JSON-RPC response", "endpoint", endpointID, "error", err)
		},
		OnHandlerPanic: func(ctx context.Context, endpointID string, req *Request, rec any) {
			logger.ErrorContext(ctx, "Panic recovered in JSON-RPC handler", "endpoint", endpointID, "method", req.Method, "id", req.ID.String(), "panic_value", rec)
		},
		OnNotificationError: func(ctx context.Context, endpointID string, req *Request, err error) {
			logger.WarnContext(ctx, "JSON-RPC notification failed", "endpoint", endpointID, "method", req.Method, "error", err)
		},
		OnCorrelationMiss: func(ctx context.Context, endpointID string, resp *Response) {
			logger.DebugContext(ctx, "Dropping JSON-RPC response without pending call", "endpoint", endpointID, "id", resp.ID.String())
		},
		OnDispatchError: func(ctx context.Context, endpointID string, err error) {
			logger.ErrorContext(ctx, "Failed to dispatch JSON-RPC request", "endpoint", endpointID, "error", err)
		},
	}
}

func (c *Callbacks) runOnDecodingError(ctx context.Context, endpointID string, raw []byte, e error) {
	if c.OnDecodingError != nil {
		c.OnDecodingError(ctx, endpointID, raw, e)
	}
}

func (c *Callbacks) runOnEncodingError(ctx context.Context, endpointID string, v any, e error) {
	if c.OnEncodingError != nil {
		c.OnEncodingError(ctx, endpointID, v, e)
	}
}

func (c *Callbacks) runOnSendError(ctx context.Context, endpointID string, e error) {
	if c.OnSendError != nil {
		c.OnSendError(ctx, endpointID, e)
	}
}

func (c *Callbacks) runOnHandlerPanic(ctx context.Context, endpointID string, r *Request, recovery any) {
	if c.OnHandlerPanic != nil {
		c.OnHandlerPanic(ctx, endpointID, r, recovery)
	}
}

func (c *Callbacks) runOnNotificationError(ctx context.Context, endpointID string, r *Request, e error) {
	if c.OnNotificationError != nil {
		c.OnNotificationError(ctx, endpointID, r, e)
	}
}

func (c *Callbacks) runOnCorrelationMiss(ctx context.Context, endpointID string, r *Response) {
	if c.OnCorrelationMiss != nil {
		c.OnCorrelationMiss(ctx, endpointID, r)
	}
}

func (c *Callbacks) runOnDispatchError(ctx context.Context, endpointID string, e error) {
	if c.OnDispatchError != nil {
		c.OnDispatchError(ctx, endpointID, e)
	}
}
