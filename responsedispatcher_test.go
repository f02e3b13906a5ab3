package peerrpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome records how a pending call was settled.
type outcome struct {
	value    any
	err      error
	resolved int
	rejected int
	mu       sync.Mutex
}

func (o *outcome) resolve(v any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.value = v
	o.resolved++
}

func (o *outcome) reject(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.err = err
	o.rejected++
}

func (o *outcome) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.resolved, o.rejected
}

func resultResponse(id ID, raw string) *Response {
	return &Response{ID: id, Result: RawValue(json.RawMessage(raw))}
}

func TestPendingCallsResolve(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectSingle[string](), out.resolve, out.reject))
	assert.Equal(t, 1, p.Len())

	p.Dispatch(t.Context(), "e1", resultResponse(NewID("1"), `"hi"`))

	resolved, rejected := out.counts()
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, rejected)
	assert.Equal(t, "hi", out.value)
	assert.Equal(t, 0, p.Len())
}

func TestPendingCallsSettleOnce(t *testing.T) {
	t.Parallel()

	var misses atomic.Int32

	cb := &Callbacks{OnCorrelationMiss: func(context.Context, string, *Response) { misses.Add(1) }}
	p := NewPendingCalls(cb)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectRaw(), out.resolve, out.reject))

	p.Dispatch(t.Context(), "e1", resultResponse(NewID("1"), `1`))
	p.Dispatch(t.Context(), "e1", resultResponse(NewID("1"), `2`))

	resolved, rejected := out.counts()
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, rejected)
	assert.Equal(t, int32(1), misses.Load(), "second response is a correlation miss")
}

func TestPendingCallsKeyedByEndpoint(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out1, out2 := &outcome{}, &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectSingle[int](), out1.resolve, out1.reject))
	require.NoError(t, p.Register("e2", NewID("1"), ExpectSingle[int](), out2.resolve, out2.reject))

	p.Dispatch(t.Context(), "e2", resultResponse(NewID("1"), `2`))

	r1, _ := out1.counts()
	r2, _ := out2.counts()
	assert.Equal(t, 0, r1)
	assert.Equal(t, 1, r2)
	assert.Equal(t, 2, out2.value)
}

func TestPendingCallsNumericCanonicalization(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewNumericID(7), ExpectRaw(), out.resolve, out.reject))

	resp, err := UnmarshalResponse([]byte(`{"jsonrpc":"2.0","id":7.0,"result":true}`))
	require.NoError(t, err)

	p.Dispatch(t.Context(), "e1", resp)

	resolved, _ := out.counts()
	assert.Equal(t, 1, resolved)
}

func TestPendingCallsLargeNumericIDs(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out1, out2 := &outcome{}, &outcome{}

	var id1, id2 ID

	require.NoError(t, json.Unmarshal([]byte(`12345678901234567890`), &id1))
	require.NoError(t, json.Unmarshal([]byte(`12345678901234567891`), &id2))

	require.NoError(t, p.Register("e1", id1, ExpectRaw(), out1.resolve, out1.reject))
	require.NoError(t, p.Register("e1", id2, ExpectRaw(), out2.resolve, out2.reject))

	resp, err := UnmarshalResponse([]byte(`{"jsonrpc":"2.0","id":12345678901234567891,"result":true}`))
	require.NoError(t, err)

	p.Dispatch(t.Context(), "e1", resp)

	r1, _ := out1.counts()
	r2, _ := out2.counts()
	assert.Equal(t, 0, r1)
	assert.Equal(t, 1, r2)
	assert.Equal(t, 1, p.Len())
}

func TestPendingCallsDuplicate(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectRaw(), out.resolve, out.reject))
	require.ErrorIs(t, p.Register("e1", NewID("1"), ExpectRaw(), out.resolve, out.reject), ErrDuplicatePendingCall)
	require.ErrorIs(t, p.Register("e1", ID{}, ExpectRaw(), out.resolve, out.reject), ErrInvalidID)
}

func TestPendingCallsErrorResponse(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectSingle[string](), out.resolve, out.reject))

	p.Dispatch(t.Context(), "e1", &Response{ID: NewID("1"), Error: MethodNotRegistered("missing")})

	_, rejected := out.counts()
	assert.Equal(t, 1, rejected)
	require.ErrorIs(t, out.err, ErrMethodNotFound)
	assert.Contains(t, out.err.Error(), "missing")
}

func TestPendingCallsShapeMismatch(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectSingle[int](), out.resolve, out.reject))
	p.Dispatch(t.Context(), "e1", resultResponse(NewID("1"), `[1,2]`))

	require.ErrorIs(t, out.err, ErrPayloadShape)

	require.NoError(t, p.Register("e1", NewID("2"), ExpectList[int](), out.resolve, out.reject))
	p.Dispatch(t.Context(), "e1", resultResponse(NewID("2"), `[1,2]`))

	assert.Equal(t, []int{1, 2}, out.value)
}

func TestPendingCallsMalformedKeepsCall(t *testing.T) {
	t.Parallel()

	var decodeErrs atomic.Int32

	cb := &Callbacks{OnDecodingError: func(context.Context, string, []byte, error) { decodeErrs.Add(1) }}
	p := NewPendingCalls(cb)
	out := &outcome{}

	require.NoError(t, p.Register("e1", NewID("1"), ExpectRaw(), out.resolve, out.reject))

	p.Dispatch(t.Context(), "e1", &Response{ID: NewID("1")})

	assert.Equal(t, int32(1), decodeErrs.Load())
	assert.Equal(t, 1, p.Len())
}

func TestPendingCallsCancelAndFail(t *testing.T) {
	t.Parallel()

	p := NewPendingCalls(nil)
	a, b, c := &outcome{}, &outcome{}, &outcome{}
	cause := errors.New("connection reset")

	require.NoError(t, p.Register("e1", NewID("1"), ExpectRaw(), a.resolve, a.reject))
	require.NoError(t, p.Register("e1", NewID("2"), ExpectRaw(), b.resolve, b.reject))
	require.NoError(t, p.Register("e2", NewID("1"), ExpectRaw(), c.resolve, c.reject))

	assert.True(t, p.Cancel("e1", NewID("1"), cause))
	assert.False(t, p.Cancel("e1", NewID("1"), cause))
	require.ErrorIs(t, a.err, cause)

	assert.Equal(t, 1, p.FailEndpoint("e1", cause))
	require.ErrorIs(t, b.err, ErrEndpointClosed)
	require.ErrorIs(t, b.err, cause)

	_, rejected := c.counts()
	assert.Equal(t, 0, rejected, "other endpoints are unaffected")

	assert.Equal(t, 1, p.FailAll(nil))
	require.ErrorIs(t, c.err, ErrEndpointClosed)
	assert.Equal(t, 0, p.Len())
}

func TestCallKeyString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "agent1@c-7", callKey{endpoint: "agent1", id: "c-7"}.String())
}
