package wstransport

import (
	"net/http"

	"github.com/rrb3942/peerrpc"
	"nhooyr.io/websocket"
)

// IDFunc names the endpoint behind an inbound connection. An empty id rejects the connection.
type IDFunc func(r *http.Request) string

// QueryID returns an [IDFunc] reading the endpoint id from the query parameter key.
func QueryID(key string) IDFunc {
	return func(r *http.Request) string {
		return r.URL.Query().Get(key)
	}
}

// Handler returns an [http.Handler] accepting WebSocket connections from endpoints.
//
// The session is opened with the [peerrpc.Properties] `remote_addr` and `path`, and the
// connection is served on the request goroutine until it fails.
func (h *Hub) Handler(idFunc IDFunc) http.Handler {
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		endpointID := idFunc(req)
		if endpointID == "" {
			http.Error(resp, "missing endpoint id", http.StatusBadRequest)
			return
		}

		opts := &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}}

		if len(h.OriginPatterns) == 0 {
			opts.InsecureSkipVerify = true
		} else {
			opts.OriginPatterns = h.OriginPatterns
		}

		ws, err := websocket.Accept(resp, req, opts)
		if err != nil {
			// Accept has already written the error response.
			h.logger.WarnContext(req.Context(), "WebSocket upgrade failed", "endpoint", endpointID, "error", err)
			return
		}

		if ws.Subprotocol() != Subprotocol {
			_ = ws.Close(websocket.StatusPolicyViolation, ErrSubprotocol.Error())
			return
		}

		props := peerrpc.Properties{"remote_addr": req.RemoteAddr, "path": req.URL.Path, "direction": "inbound"}

		if err := h.serve(req.Context(), endpointID, ws, props, nil); err != nil {
			h.logger.WarnContext(req.Context(), "Endpoint connection failed", "endpoint", endpointID, "error", err)
		}
	})
}
