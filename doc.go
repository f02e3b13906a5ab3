// Package peerrpc provides a bidirectional JSON-RPC 2.0 message-dispatch engine.
//
// # Overview
//
// An [Engine] exchanges requests, notifications and responses with any number of
// remote endpoints over a message-oriented transport (one JSON text per frame).
// Unlike a classic client/server split, both sides of a connection may issue calls:
// inbound requests are routed to handlers registered in a [Registry], while inbound
// responses are correlated with the outgoing calls awaiting them.
//
// # Features
//
//   - Transport agnostic. Anything that can deliver frames per endpoint implements [Transport]
//     and feeds inbound frames to [Engine.Receive]. A WebSocket adapter lives in the wstransport package.
//   - Deferred payload typing. [Params] and [Result] keep the wire JSON and are decoded at the
//     point of consumption with [As], [AsListOf] or [Value.Decode].
//   - Typed handlers without per-shape types: [RegisterRequestHandler] and [RegisterNotificationHandler]
//     take any params and result types, with [Void] standing in for "nothing".
//   - Typed calls: [Call], [CallList] and [CallEmpty] return a [Future] resolved exactly once by the
//     matching response. [Transmitter.Notify] sends fire-and-forget notifications.
//   - Batches. Inbound batch frames are split and every element is handled independently; a broken
//     element never aborts its siblings. Outbound batches are built with [BatchBuilder].
//   - Bounded handler concurrency on a worker pool, so a slow handler never stalls the receive path.
//   - Hooks: [Callbacks] for decoding, encoding, panic and correlation events, [Binder] for session setup.
//
// # Basic Usage
//
//	hub := wstransport.NewHub(nil)
//
//	engine, err := peerrpc.New(hub)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	hub.Attach(engine)
//
//	_ = peerrpc.RegisterRequestHandler(engine.Registry(), "echo", func(_ context.Context, s string) (string, error) {
//		return s, nil
//	})
//
//	if err := hub.Dial(ctx, "agent1", "ws://localhost:9090/rpc"); err != nil {
//		log.Fatal(err)
//	}
//
//	future, err := peerrpc.Call[string](ctx, engine.Transmitter(), "agent1", "echo", peerrpc.Single("hi"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// The engine never times out a pending call; bound the wait with ctx.
//	reply, err := future.Wait(ctx)
//
// [JSON-RPC 2.0]: https://www.jsonrpc.org/specification
package peerrpc

import (
	"encoding/json"
)

// Marshal is used to encode payload values (params, results and error data) into JSON.
// By default it is [encoding/json.Marshal]. Applications may replace it *at startup*
// with a compatible function from another JSON library.
var Marshal = json.Marshal

// Unmarshal is used to decode payload values at the point of consumption.
// By default it is [encoding/json.Unmarshal]. Applications may replace it *at startup*.
var Unmarshal = json.Unmarshal
