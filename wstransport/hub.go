// Package wstransport carries peerrpc frames over WebSocket connections.
//
// A [Hub] is the [peerrpc.Transport] of an engine: it keeps one connection per endpoint,
// feeds every text message it reads to [peerrpc.Engine.Receive] and writes outbound frames
// as text messages. Connections are either dialed ([Hub.Dial]) or accepted ([Hub.Handler]);
// both sides are symmetric peers once connected.
//
//	hub := wstransport.NewHub(logger)
//	engine, err := peerrpc.New(hub)
//	if err != nil {
//		return err
//	}
//	hub.Attach(engine)
//
//	http.Handle("/rpc", hub.Handler(wstransport.QueryID("agent")))
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/rrb3942/peerrpc"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// Subprotocol is the WebSocket subprotocol negotiated by both sides.
const Subprotocol = "jsonrpc"

// DefaultReadLimit is the largest frame accepted when [Hub.ReadLimit] is not set.
const DefaultReadLimit = 1 << 20

var (
	// ErrUnknownEndpoint is returned when sending to an endpoint without a connection.
	ErrUnknownEndpoint = errors.New("no connection for endpoint")
	// ErrDuplicateEndpoint is returned when an endpoint id is already connected.
	ErrDuplicateEndpoint = errors.New("endpoint already connected")
	// ErrSubprotocol is returned when the peer did not agree on [Subprotocol].
	ErrSubprotocol = errors.New("missing " + Subprotocol + " subprotocol")
	// ErrNotAttached is returned when a connection is made before [Hub.Attach].
	ErrNotAttached = errors.New("hub has no engine attached")
)

type conn struct {
	ws     *websocket.Conn
	cancel context.CancelCauseFunc
}

// Hub maps endpoint ids to WebSocket connections.
//
// ReadLimit and OriginPatterns may be set before the first connection is made.
type Hub struct {
	engine *peerrpc.Engine
	logger *slog.Logger
	conns  map[string]*conn
	// Largest accepted frame in bytes. Zero means DefaultReadLimit.
	ReadLimit int64
	// Origins accepted by Handler. Empty accepts any origin.
	OriginPatterns []string
	loops          sync.WaitGroup
	mu             sync.RWMutex
	closed         bool
}

// NewHub returns an empty [*Hub]. A nil logger uses [slog.Default].
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{logger: logger, conns: make(map[string]*conn)}
}

// Attach sets the engine fed by the hub. It must be called before connections are made.
func (h *Hub) Attach(engine *peerrpc.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.engine = engine
}

// Send implements [peerrpc.Transport]. Frames are written as text messages; writes to one
// connection are serialized by the websocket library, so frames keep the order of Send calls.
func (h *Hub) Send(ctx context.Context, endpointID string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.conns[endpointID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpointID)
	}

	return c.ws.Write(ctx, websocket.MessageText, frame)
}

// Endpoints returns the number of connected endpoints.
func (h *Hub) Endpoints() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Disconnect closes the connection of endpointID. Its session is terminated by the read loop.
func (h *Hub) Disconnect(endpointID string) error {
	h.mu.RLock()
	c, ok := h.conns[endpointID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpointID)
	}

	return c.ws.Close(websocket.StatusNormalClosure, "disconnect")
}

// Close closes every connection and waits for their read loops to finish.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true

	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var g errgroup.Group

	for _, c := range conns {
		g.Go(func() error {
			err := c.ws.Close(websocket.StatusGoingAway, "hub closed")
			c.cancel(err)

			return ignoreClosed(err)
		})
	}

	err := g.Wait()

	h.loops.Wait()

	return err
}

// add registers c as the connection of endpointID.
func (h *Hub) add(endpointID string, c *conn) (*peerrpc.Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.engine == nil:
		return nil, ErrNotAttached
	case h.closed:
		return nil, peerrpc.ErrClosed
	}

	if _, exists := h.conns[endpointID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEndpoint, endpointID)
	}

	h.conns[endpointID] = c
	h.loops.Add(1)

	return h.engine, nil
}

func (h *Hub) remove(endpointID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, endpointID)
}

func (h *Hub) readLimit() int64 {
	if h.ReadLimit <= 0 {
		return DefaultReadLimit
	}

	return h.ReadLimit
}

// serve opens the endpoint session and feeds frames read from ws to the engine until the
// connection fails. It always closes ws. The outcome of opening the session is sent on
// opened when it is not nil.
func (h *Hub) serve(ctx context.Context, endpointID string, ws *websocket.Conn, props peerrpc.Properties, opened chan<- error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ws.SetReadLimit(h.readLimit())

	engine, err := h.add(endpointID, &conn{ws: ws, cancel: cancel})
	if err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, err.Error())
		notify(opened, err)

		return err
	}

	defer h.loops.Done()

	return h.readLoop(ctx, engine, endpointID, ws, props, opened)
}

func (h *Hub) readLoop(ctx context.Context, engine *peerrpc.Engine, endpointID string, ws *websocket.Conn, props peerrpc.Properties, opened chan<- error) (err error) {
	defer func() {
		h.remove(endpointID)
		engine.Terminate(endpointID, err)

		_ = ws.CloseNow()
	}()

	if err = engine.Open(ctx, endpointID, props); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "session rejected")
		notify(opened, err)

		return err
	}

	notify(opened, nil)

	h.logger.InfoContext(ctx, "Endpoint connected", "endpoint", endpointID)

	for {
		typ, data, rerr := ws.Read(ctx)
		if rerr != nil {
			h.logger.InfoContext(ctx, "Endpoint disconnected", "endpoint", endpointID, "status", websocket.CloseStatus(rerr))
			return ignoreClosed(rerr)
		}

		if typ != websocket.MessageText {
			h.logger.WarnContext(ctx, "Dropping binary WebSocket message", "endpoint", endpointID, "size", len(data))
			continue
		}

		engine.Receive(ctx, endpointID, data)
	}
}

func notify(opened chan<- error, err error) {
	if opened != nil {
		opened <- err
	}
}

// ignoreClosed drops the errors of connections that were closed normally.
func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}

	return err
}
