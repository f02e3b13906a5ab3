package peerrpc

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNilTransport is returned by [New] when no [Transport] is given.
var ErrNilTransport = errors.New("transport must not be nil")

// Option configures an [Engine] created by [New].
type Option func(*engineOptions)

type engineOptions struct {
	config    Config
	callbacks *Callbacks
	ids       IDGenerator
	logger    *slog.Logger
	binders   []Binder
}

// WithConfig sets the [Config] of the engine. The default is [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(o *engineOptions) { o.config = cfg }
}

// WithCallbacks replaces the [Callbacks] of the engine. The default is [DefaultCallbacks].
func WithCallbacks(cb Callbacks) Option {
	return func(o *engineOptions) { o.callbacks = &cb }
}

// WithIDGenerator sets the generator of outgoing request ids. The default issues ULIDs.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *engineOptions) { o.ids = ids }
}

// WithBinder adds a [Binder] run by [Engine.Open]. Binders run in the order they are added.
func WithBinder(b Binder) Option {
	return func(o *engineOptions) { o.binders = append(o.binders, b) }
}

// WithLogger sets the logger of the [DefaultCallbacks]. It has no effect together with [WithCallbacks].
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// Engine is a bidirectional JSON-RPC 2.0 peer shared by any number of endpoints.
//
// It answers the requests endpoints send, using the handlers of its [Registry], and lets the
// application call methods on endpoints through its [Transmitter]. Frames arrive through
// [Engine.Receive]; frames leave through the [Transport] given to [New].
//
// An Engine owns all of its state; separate engines share nothing.
type Engine struct {
	logger      *slog.Logger
	registry    *Registry
	pending     *PendingCalls
	dispatcher  *RequestDispatcher
	transmitter *Transmitter
	pool        *workerPool
	callbacks   *Callbacks
	sessions    map[string]Properties
	binders     []Binder
	sessionsMu  sync.RWMutex
	closed      atomic.Bool
}

// New creates an [*Engine] sending frames through transport.
//
// Example:
//
//	engine, err := peerrpc.New(hub, peerrpc.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	_ = peerrpc.RegisterRequestHandler(engine.Registry(), "echo", func(_ context.Context, s string) (string, error) {
//		return s, nil
//	})
func New(transport Transport, opts ...Option) (*Engine, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}

	o := engineOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.config.validate(); err != nil {
		return nil, err
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	if o.callbacks == nil {
		cb := DefaultCallbacks(o.logger)
		o.callbacks = &cb
	}

	e := &Engine{
		logger:    o.logger,
		registry:  NewRegistry(),
		pending:   NewPendingCalls(o.callbacks),
		callbacks: o.callbacks,
		sessions:  make(map[string]Properties),
		binders:   o.binders,
	}

	if !o.config.NoRoutines {
		pool, err := newWorkerPool(o.config.MaxWorkers, time.Duration(o.config.WorkerIdleTimeout))
		if err != nil {
			return nil, err
		}

		e.pool = pool
	}

	// Responses of handlers still running while Close waits for them may go out.
	e.dispatcher = newRequestDispatcher(e.registry, e.callbacks, transport, e.pool)
	e.dispatcher.NoRoutines = o.config.NoRoutines
	e.dispatcher.SerialBatch = o.config.SerialBatch
	e.transmitter = NewTransmitter(&closedGuard{closed: &e.closed, transport: transport}, e.pending, o.ids)

	return e, nil
}

// Registry returns the handler registry of the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Transmitter returns the transmitter used to call methods on endpoints.
func (e *Engine) Transmitter() *Transmitter {
	return e.transmitter
}

// Pending returns the calls awaiting a response.
func (e *Engine) Pending() *PendingCalls {
	return e.pending
}

// WorkerStats returns a snapshot of the handler worker pool. It is zero when handlers run inline.
func (e *Engine) WorkerStats() WorkerStats {
	if e.pool == nil {
		return WorkerStats{}
	}

	return e.pool.stats()
}

// Receive processes one inbound frame from endpointID. Transports call it for every
// message they read, in delivery order.
//
// Responses settle the pending calls they answer. Requests are handed to the handlers
// without waiting for them, so Receive returns quickly unless the engine was configured
// with NoRoutines. Frames that are not valid JSON are answered with [ErrParse].
func (e *Engine) Receive(ctx context.Context, endpointID string, frame []byte) {
	ctx = context.WithValue(ctx, CtxEngine, e)

	if e.closed.Load() {
		e.callbacks.runOnDispatchError(ctx, endpointID, ErrClosed)
		return
	}

	msgs, batch, err := UnmarshalFrame(frame)
	if err != nil {
		e.callbacks.runOnDecodingError(ctx, endpointID, frame, err)
		e.dispatcher.ReplyError(ctx, endpointID, ID{}, err)

		return
	}

	if !batch {
		if msgs[0].Kind == MessageResponse {
			e.dispatchResponse(ctx, endpointID, msgs[0], frame)
			return
		}

		e.dispatcher.DispatchMessage(ctx, endpointID, msgs[0])

		return
	}

	requests := 0

	for _, msg := range msgs {
		if msg.Kind == MessageResponse {
			e.dispatchResponse(ctx, endpointID, msg, frame)
			continue
		}

		requests++
	}

	if requests > 0 {
		e.dispatcher.DispatchBatch(ctx, endpointID, msgs)
	}
}

// dispatchResponse settles the call answered by msg. Malformed responses are never answered.
func (e *Engine) dispatchResponse(ctx context.Context, endpointID string, msg Message, frame []byte) {
	if msg.Err != nil {
		e.callbacks.runOnDecodingError(ctx, endpointID, frame, msg.Err)
		return
	}

	e.pending.Dispatch(ctx, endpointID, msg.Response)
}

// Notify sends a notification to endpointID.
func (e *Engine) Notify(ctx context.Context, endpointID, method string, params Params) error {
	return e.transmitter.Notify(ctx, endpointID, method, params)
}

// Endpoint returns a client bound to endpointID.
func (e *Engine) Endpoint(endpointID string) *EndpointClient {
	return &EndpointClient{engine: e, endpointID: endpointID}
}

// Open starts a session with endpointID and runs the configured binders for it.
// If a binder fails the session is terminated again and the error returned.
func (e *Engine) Open(ctx context.Context, endpointID string, props Properties) error {
	if e.closed.Load() {
		return ErrClosed
	}

	if props == nil {
		props = Properties{}
	}

	e.sessionsMu.Lock()
	e.sessions[endpointID] = props
	e.sessionsMu.Unlock()

	e.logger.DebugContext(ctx, "Endpoint session opened", "endpoint", endpointID)

	for _, b := range e.binders {
		if err := b.Bind(ctx, e, endpointID, props); err != nil {
			e.Terminate(endpointID, err)
			return err
		}
	}

	return nil
}

// Terminate ends the session with endpointID. Every call still awaiting a response from it
// is rejected with [ErrEndpointClosed] joined with cause. It returns the number of calls rejected.
func (e *Engine) Terminate(endpointID string, cause error) int {
	e.sessionsMu.Lock()
	delete(e.sessions, endpointID)
	e.sessionsMu.Unlock()

	failed := e.pending.FailEndpoint(endpointID, cause)

	e.logger.Debug("Endpoint session terminated", "endpoint", endpointID, "rejected_calls", failed, "cause", cause)

	return failed
}

// Sessions returns the ids of the endpoints with an open session, sorted.
func (e *Engine) Sessions() []string {
	e.sessionsMu.RLock()
	defer e.sessionsMu.RUnlock()

	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// SessionProperties returns the properties endpointID was opened with.
func (e *Engine) SessionProperties(endpointID string) (Properties, bool) {
	e.sessionsMu.RLock()
	defer e.sessionsMu.RUnlock()

	props, ok := e.sessions[endpointID]

	return props, ok
}

// Close stops the engine. Every pending call is rejected with [ErrClosed], then Close waits
// for running handlers to return. Later frames are dropped and later sends fail with [ErrClosed].
//
// It is safe to call Close multiple times.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.pending.FailAll(ErrClosed)
	e.dispatcher.Wait()

	if e.pool != nil {
		e.pool.close()
	}

	return nil
}

// closedGuard refuses to send calls and notifications once the engine is closed.
type closedGuard struct {
	closed    *atomic.Bool
	transport Transport
}

func (g *closedGuard) Send(ctx context.Context, endpointID string, frame []byte) error {
	if g.closed.Load() {
		return ErrClosed
	}

	return g.transport.Send(ctx, endpointID, frame)
}
