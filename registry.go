package peerrpc

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Handler defines the interface for processing inbound JSON-RPC requests and notifications.
//
// Handle receives the request context and the [Request]. It should return a result value
// (encoded with [Marshal]) and a nil error on success, or an error on failure.
//
// Result Handling:
//   - A [Value] is used directly as the result.
//   - An [Awaitable] (for example a [*Future] from a nested call) is awaited on the
//     handler goroutine and its outcome is used instead.
//   - nil is encoded as JSON null.
//
// Error Handling:
//   - If the returned error is, or wraps, an [Error], that [Error] is sent back.
//   - Otherwise the error becomes an [ErrInternalError] with the error text as data.
//
// Notifications:
//   - For a notification the result is discarded and an error is only reported through
//     [Callbacks.OnNotificationError]; there is no way to send it to the peer.
type Handler interface {
	Handle(ctx context.Context, req *Request) (result any, err error)
}

// HandlerFunc adapts a function to the [Handler] interface.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// Awaitable is a handler result that completes later.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Void is the params or result type of handlers and calls that carry no value.
// It encodes as JSON null and decodes from anything.
type Void struct{}

// MarshalJSON implements [json.Marshaler].
func (Void) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// UnmarshalJSON implements [json.Unmarshaler].
func (*Void) UnmarshalJSON([]byte) error {
	return nil
}

// Registry maps method names to handlers. Method names are case-sensitive.
//
// There is one handler per method; registering a method again replaces the previous
// handler. A Registry is owned by one [Engine] and is safe for concurrent use:
// registration and lookup may happen from any goroutine.
type Registry struct {
	handlers sync.Map // map[string]Handler
}

// NewRegistry creates and returns a new, empty [*Registry].
func NewRegistry() *Registry {
	return &Registry{}
}

// Register associates a [Handler] with a method name, replacing any previous handler.
//
// Example:
//
//	reg := peerrpc.NewRegistry()
//	err := reg.Register("workspace/open", openHandler) // openHandler implements peerrpc.Handler
func (r *Registry) Register(method string, handler Handler) error {
	if strings.TrimSpace(method) == "" {
		return ErrEmptyMethod
	}

	r.handlers.Store(method, handler)

	return nil
}

// RegisterFunc associates a handler function with a method name, replacing any previous handler.
func (r *Registry) RegisterFunc(method string, f func(context.Context, *Request) (any, error)) error {
	return r.Register(method, HandlerFunc(f))
}

// Unregister removes the handler for method. It is a no-op if none is registered.
func (r *Registry) Unregister(method string) {
	r.handlers.Delete(method)
}

// Lookup returns the handler registered for method.
func (r *Registry) Lookup(method string) (Handler, bool) {
	value, ok := r.handlers.Load(method)
	if !ok {
		return nil, false
	}

	//nolint:errcheck //Only Handlers are stored
	return value.(Handler), true
}

// Methods returns the sorted names of all registered methods.
func (r *Registry) Methods() []string {
	methods := make([]string, 0)

	//nolint:errcheck //Internally managed, key is never not a string
	r.handlers.Range(func(key, _ any) bool { methods = append(methods, key.(string)); return true })

	slices.Sort(methods)

	return methods
}

// RegisterRequestHandler registers a typed handler for calls to method.
//
// The params of the request are decoded into P; use [Void] for methods without params.
// The returned R becomes the result; use [Void] for methods without a result (sent as null).
// Params that cannot be decoded into P are answered with [ErrInvalidParams].
//
// Example:
//
//	err := peerrpc.RegisterRequestHandler(reg, "echo", func(_ context.Context, s string) (string, error) {
//		return s, nil
//	})
func RegisterRequestHandler[P, R any](reg *Registry, method string, fn func(ctx context.Context, params P) (R, error)) error {
	return reg.Register(method, HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		params, err := decodeParams[P](req.Params)
		if err != nil {
			return nil, err
		}

		return fn(ctx, params)
	}))
}

// RegisterNotificationHandler registers a typed handler for notifications to method.
//
// Should a call (a request with an id) arrive for method, it is answered with a null result
// once fn returns.
func RegisterNotificationHandler[P any](reg *Registry, method string, fn func(ctx context.Context, params P) error) error {
	return reg.Register(method, HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		params, err := decodeParams[P](req.Params)
		if err != nil {
			return nil, err
		}

		return Void{}, fn(ctx, params)
	}))
}

// decodeParams resolves request params to P. [Void] accepts any params, including none.
func decodeParams[P any](params Params) (P, error) {
	var out P

	if _, ok := any(out).(Void); ok {
		return out, nil
	}

	if params.IsZero() {
		return out, ErrInvalidParams.WithData("params are required")
	}

	if err := params.Decode(&out); err != nil {
		return out, ErrInvalidParams.WithData(err.Error())
	}

	return out, nil
}
