package wstransport

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/rrb3942/peerrpc"
	"nhooyr.io/websocket"
)

// ErrUnknownScheme is returned by [Hub.Dial] for URLs that are not WebSocket or HTTP URLs.
var ErrUnknownScheme = errors.New("unknown scheme in dial uri")

// Dial connects to the WebSocket endpoint at destURI and registers it as endpointID.
//
// Supported schemes are `ws` and `wss`; `http` and `https` are accepted as aliases.
// The session is opened with the [peerrpc.Properties] `url` before Dial returns, and the
// connection is then read on its own goroutine until it fails or the hub is closed.
//
// Examples:
//   - `ws://127.0.0.1:8080/rpc`
//   - `wss://agents.example.com/rpc?agent=build`
//
// If ctx ends before the session is open, the connection is closed and ctx.Err() returned.
//
// Returns [ErrUnknownScheme] if the scheme is not supported.
// Other errors may be returned from the WebSocket handshake or by the engine's binders.
func (h *Hub) Dial(ctx context.Context, endpointID, destURI string) error {
	return h.DialWithHeader(ctx, endpointID, destURI, nil)
}

// DialWithHeader behaves the same as [Hub.Dial] but also sends header with the handshake.
func (h *Hub) DialWithHeader(ctx context.Context, endpointID, destURI string, header http.Header) error {
	uri, err := url.Parse(destURI)
	if err != nil {
		return err
	}

	switch uri.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return ErrUnknownScheme
	}

	ws, _, err := websocket.Dial(ctx, destURI, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return err
	}

	if ws.Subprotocol() != Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, ErrSubprotocol.Error())
		return ErrSubprotocol
	}

	props := peerrpc.Properties{"url": destURI, "direction": "outbound"}
	opened := make(chan error, 1)

	// The connection outlives the dial context.
	loopCtx := context.WithoutCancel(ctx)

	go func() {
		if err := h.serve(loopCtx, endpointID, ws, props, opened); err != nil {
			h.logger.WarnContext(loopCtx, "Endpoint connection failed", "endpoint", endpointID, "error", err)
		}
	}()

	select {
	case err := <-opened:
		return err
	case <-ctx.Done():
		// The read loop sees the closed connection and terminates the session.
		_ = ws.CloseNow()

		return ctx.Err()
	}
}
