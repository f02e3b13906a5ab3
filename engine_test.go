package peerrpc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// --- Mocks ---

// loopback delivers every frame to a peer engine, as if sent by the endpoint named from.
type loopback struct {
	peer atomic.Pointer[Engine]
	from string
}

func (l *loopback) Send(ctx context.Context, _ string, frame []byte) error {
	peer := l.peer.Load()
	if peer == nil {
		return errors.New("loopback has no peer")
	}

	peer.Receive(context.WithoutCancel(ctx), l.from, bytes.Clone(frame))

	return nil
}

// --- Test Helpers ---

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(t *testing.T, transport Transport, opts ...Option) *Engine {
	t.Helper()

	opts = append([]Option{WithLogger(quietLogger()), WithIDGenerator(NewSequenceGenerator("c"))}, opts...)

	e, err := New(transport, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Close() })

	return e
}

// newPair connects two engines: a sees b as endpoint "b" and b sees a as endpoint "a".
func newPair(t *testing.T) (*Engine, *Engine) {
	t.Helper()

	toB := &loopback{from: "a"}
	toA := &loopback{from: "b"}

	a := newTestEngine(t, toB)
	b := newTestEngine(t, toA)

	toB.peer.Store(b)
	toA.peer.Store(a)

	return a, b
}

func registerEcho(t *testing.T, e *Engine) {
	t.Helper()

	require.NoError(t, RegisterRequestHandler(e.Registry(), "echo", func(_ context.Context, s string) (string, error) {
		return s, nil
	}))
}

// --- Tests ---

func TestNewRequiresTransport(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilTransport)

	_, err = New(newRecordingTransport(), WithConfig(Config{MaxWorkers: -1}))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngineEcho(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)
	registerEcho(t, b)

	future, err := Call[string](t.Context(), a.Transmitter(), "b", "echo", Single("hi"))
	require.NoError(t, err)

	got, err := future.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	assert.Equal(t, 0, a.Pending().Len())
}

func TestEngineMissingMethod(t *testing.T) {
	t.Parallel()

	a, _ := newPair(t)

	future, err := Call[string](t.Context(), a.Transmitter(), "b", "missing", NoParams())
	require.NoError(t, err)

	_, err = future.Wait(t.Context())
	require.ErrorIs(t, err, ErrMethodNotFound)

	var rpcErr Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(-32601), rpcErr.Code())
	assert.Contains(t, rpcErr.Message(), "missing")
}

func TestEngineBidirectional(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)

	// a answers "whoami" with the id under which it sees the caller.
	require.NoError(t, a.Registry().RegisterFunc("whoami", func(ctx context.Context, _ *Request) (any, error) {
		id, _ := EndpointFromContext(ctx)
		return "a sees " + id, nil
	}))

	// b relays any call back to the endpoint that sent it and answers with the nested result.
	require.NoError(t, b.Registry().RegisterFunc("relay", func(ctx context.Context, _ *Request) (any, error) {
		engine, ok := EngineFromContext(ctx)
		if !ok {
			return nil, errors.New("no engine in context")
		}

		caller, _ := EndpointFromContext(ctx)

		return Call[string](ctx, engine.Transmitter(), caller, "whoami", NoParams())
	}))

	got, err := Invoke[string](t.Context(), a.Endpoint("b"), "relay", NoParams())
	require.NoError(t, err)
	assert.Equal(t, "a sees b", got)
}

func TestEngineNotification(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)

	received := make(chan string, 1)

	require.NoError(t, RegisterNotificationHandler(b.Registry(), "log", func(_ context.Context, line string) error {
		received <- line
		return nil
	}))

	require.NoError(t, a.Notify(t.Context(), "b", "log", Single("hello")))

	select {
	case line := <-received:
		assert.Equal(t, "hello", line)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "notification not delivered")
	}

	assert.Equal(t, 0, a.Pending().Len())
}

func TestEngineOutboundBatch(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)
	registerEcho(t, b)

	batch := a.Endpoint("b").NewBatch()

	first, err := AddCall[string](batch, "echo", Single("one"))
	require.NoError(t, err)

	second, err := AddCall[string](batch, "echo", Single("two"))
	require.NoError(t, err)

	missing, err := AddCall[string](batch, "missing", NoParams())
	require.NoError(t, err)

	require.NoError(t, batch.Send(t.Context()))

	got, err := first.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	got, err = second.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "two", got)

	_, err = missing.Wait(t.Context())
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestEngineReceiveBatchIsolation(t *testing.T) {
	t.Parallel()

	rt := newRecordingTransport()
	e := newTestEngine(t, rt)
	registerEcho(t, e)

	e.Receive(t.Context(), "e1", []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"echo","params":"hi"},
		{"jsonrpc":"2.0","id":2,"method":5},
		{"jsonrpc":"2.0","method":"echo","params":"note"},
		{"jsonrpc":"2.0","id":3,"method":"missing"}
	]`))

	sent := rt.next(t)
	replies := gjson.ParseBytes(sent.frame).Array()
	require.Len(t, replies, 3)

	assert.Equal(t, "hi", replies[0].Get("result").String())
	assert.Equal(t, ErrInvalidRequest.Code(), replies[1].Get("error.code").Int())
	assert.Equal(t, int64(2), replies[1].Get("id").Int())
	assert.Equal(t, ErrMethodNotFound.Code(), replies[2].Get("error.code").Int())
	assert.Contains(t, replies[2].Get("error.message").String(), "missing")
}

func TestEngineReceiveMixedBatch(t *testing.T) {
	t.Parallel()

	rt := newRecordingTransport()
	e := newTestEngine(t, rt)
	registerEcho(t, e)

	future, err := Call[int](t.Context(), e.Transmitter(), "e1", "count", NoParams())
	require.NoError(t, err)
	rt.next(t)

	e.Receive(t.Context(), "e1", []byte(`[
		{"jsonrpc":"2.0","id":"c1","result":42},
		{"jsonrpc":"2.0","id":9,"method":"echo","params":"x"}
	]`))

	got, err := future.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	sent := rt.next(t)
	assert.JSONEq(t, `[{"jsonrpc":"2.0","id":9,"result":"x"}]`, string(sent.frame))
}

func TestEngineReceiveInvalidFrames(t *testing.T) {
	t.Parallel()

	//nolint:govet //Do not reorder struct
	tests := []struct {
		name     string
		frame    string
		wantCode int64
	}{
		{"MalformedJSON", `{"jsonrpc":"2.0","method":`, ErrParse.Code()},
		{"EmptyBatch", `[]`, ErrInvalidRequest.Code()},
		{"Scalar", `"hello"`, ErrInvalidRequest.Code()},
		{"Undefined", `{"jsonrpc":"2.0","id":4}`, ErrInvalidRequest.Code()},
		{"WrongVersion", `{"jsonrpc":"1.0","id":4,"method":"echo","params":"x"}`, ErrInvalidRequest.Code()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rt := newRecordingTransport()
			e := newTestEngine(t, rt)
			registerEcho(t, e)

			e.Receive(t.Context(), "e1", []byte(tt.frame))

			sent := rt.next(t)
			assert.Equal(t, tt.wantCode, gjson.GetBytes(sent.frame, "error.code").Int(), string(sent.frame))
		})
	}
}

func TestEngineMalformedResponseIsNotAnswered(t *testing.T) {
	t.Parallel()

	var decodeErrs atomic.Int32

	cb := DefaultCallbacks(quietLogger())
	cb.OnDecodingError = func(context.Context, string, []byte, error) { decodeErrs.Add(1) }

	rt := newRecordingTransport()
	e := newTestEngine(t, rt, WithCallbacks(cb))

	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":"c1","error":"bad"}`))

	rt.assertSilent(t, 50*time.Millisecond)
	assert.Equal(t, int32(1), decodeErrs.Load())
}

func TestEngineLateResponseIsCorrelationMiss(t *testing.T) {
	t.Parallel()

	var misses atomic.Int32

	cb := DefaultCallbacks(quietLogger())
	cb.OnCorrelationMiss = func(context.Context, string, *Response) { misses.Add(1) }

	rt := newRecordingTransport()
	e := newTestEngine(t, rt, WithCallbacks(cb))

	future, err := Call[int](t.Context(), e.Transmitter(), "e1", "count", NoParams())
	require.NoError(t, err)
	rt.next(t)

	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":"c1","result":1}`))
	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":"c1","result":2}`))
	e.Receive(t.Context(), "e2", []byte(`{"jsonrpc":"2.0","id":"c1","result":3}`))

	got, err := future.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, int32(2), misses.Load())
	rt.assertSilent(t, 20*time.Millisecond)
}

func TestEngineNoRoutines(t *testing.T) {
	t.Parallel()

	rt := newRecordingTransport()
	e := newTestEngine(t, rt, WithConfig(Config{NoRoutines: true}))
	registerEcho(t, e)

	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":1,"method":"echo","params":"inline"}`))

	require.Len(t, rt.frames, 1, "response is sent before Receive returns")
	assert.Equal(t, WorkerStats{}, e.WorkerStats())
}

func TestEngineSlowHandlerDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	rt := newRecordingTransport()
	e := newTestEngine(t, rt, WithConfig(Config{MaxWorkers: 4}))
	registerEcho(t, e)

	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, e.Registry().RegisterFunc("slow", func(context.Context, *Request) (any, error) {
		close(started)
		<-release

		return "done", nil
	}))

	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "slow handler never started")
	}

	// Another endpoint and another call from the same endpoint are answered while slow runs.
	e.Receive(t.Context(), "e2", []byte(`{"jsonrpc":"2.0","id":2,"method":"echo","params":"other endpoint"}`))

	sent := rt.next(t)
	assert.Equal(t, "e2", sent.endpoint)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":"other endpoint"}`, string(sent.frame))

	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":3,"method":"echo","params":"same endpoint"}`))

	sent = rt.next(t)
	assert.Equal(t, "e1", sent.endpoint)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":"same endpoint"}`, string(sent.frame))

	close(release)

	sent = rt.next(t)
	assert.Equal(t, "e1", sent.endpoint)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"done"}`, string(sent.frame))
}

func TestEngineSessions(t *testing.T) {
	t.Parallel()

	rejected := errors.New("not welcome")

	var bound []string

	binder := NewFuncBinder(func(_ context.Context, _ *Engine, endpointID string, props Properties) error {
		if props["reject"] == "yes" {
			return rejected
		}

		bound = append(bound, endpointID)

		return nil
	})

	rt := newRecordingTransport()
	e := newTestEngine(t, rt, WithBinder(binder))

	require.NoError(t, e.Open(t.Context(), "e2", Properties{"url": "ws://two"}))
	require.NoError(t, e.Open(t.Context(), "e1", nil))
	require.ErrorIs(t, e.Open(t.Context(), "e3", Properties{"reject": "yes"}), rejected)

	assert.Equal(t, []string{"e1", "e2"}, e.Sessions())
	assert.Equal(t, []string{"e2", "e1"}, bound)

	props, ok := e.SessionProperties("e2")
	require.True(t, ok)
	assert.Equal(t, "ws://two", props["url"])

	future, err := Call[int](t.Context(), e.Transmitter(), "e1", "slow", NoParams())
	require.NoError(t, err)
	rt.next(t)

	cause := errors.New("connection reset")
	assert.Equal(t, 1, e.Terminate("e1", cause))
	assert.Equal(t, []string{"e2"}, e.Sessions())

	_, err = future.Wait(t.Context())
	require.ErrorIs(t, err, ErrEndpointClosed)
	require.ErrorIs(t, err, cause)
}

func TestEngineClose(t *testing.T) {
	t.Parallel()

	rt := newRecordingTransport()

	e, err := New(rt, WithLogger(quietLogger()))
	require.NoError(t, err)

	future, err := CallEmpty(t.Context(), e.Transmitter(), "e1", "wait", NoParams())
	require.NoError(t, err)
	rt.next(t)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = future.Wait(t.Context())
	require.ErrorIs(t, err, ErrClosed)

	_, err = CallEmpty(t.Context(), e.Transmitter(), "e1", "wait", NoParams())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, e.Notify(t.Context(), "e1", "log", NoParams()), ErrClosed)
	require.ErrorIs(t, e.Open(t.Context(), "e1", nil), ErrClosed)

	e.Receive(t.Context(), "e1", []byte(`{"jsonrpc":"2.0","id":1,"method":"echo"}`))
	rt.assertSilent(t, 20*time.Millisecond)
}

func TestEndpointClient(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)
	registerEcho(t, b)

	client := a.Endpoint("b")
	assert.Equal(t, "b", client.ID())

	result, err := client.Call(t.Context(), "echo", Single("raw"))
	require.NoError(t, err)

	s, err := As[string](result)
	require.NoError(t, err)
	assert.Equal(t, "raw", s)

	result, err = client.CallWithTimeout(t.Context(), time.Second, "echo", Single("timed"))
	require.NoError(t, err)

	s, err = As[string](result)
	require.NoError(t, err)
	assert.Equal(t, "timed", s)

	require.NoError(t, client.Notify(t.Context(), "echo", Single("ignored")))
}

func TestEndpointClientTimeoutForgetsCall(t *testing.T) {
	t.Parallel()

	rt := newRecordingTransport()
	e := newTestEngine(t, rt)

	_, err := e.Endpoint("e1").CallWithTimeout(t.Context(), 10*time.Millisecond, "never", NoParams())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, e.Pending().Len())
}
