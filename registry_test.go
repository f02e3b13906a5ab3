package peerrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	require.ErrorIs(t, reg.Register("", HandlerFunc(func(context.Context, *Request) (any, error) { return nil, nil })), ErrEmptyMethod)

	require.NoError(t, reg.RegisterFunc("b", func(context.Context, *Request) (any, error) { return "first", nil }))
	require.NoError(t, reg.RegisterFunc("a", func(context.Context, *Request) (any, error) { return nil, nil }))
	require.NoError(t, reg.RegisterFunc("b", func(context.Context, *Request) (any, error) { return "second", nil }))

	assert.Equal(t, []string{"a", "b"}, reg.Methods())

	h, ok := reg.Lookup("b")
	require.True(t, ok)

	res, err := h.Handle(t.Context(), &Request{Method: "b"})
	require.NoError(t, err)
	assert.Equal(t, "second", res, "last registration wins")

	_, ok = reg.Lookup("B")
	assert.False(t, ok, "method names are case sensitive")

	reg.Unregister("b")
	_, ok = reg.Lookup("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, reg.Methods())
}

func TestRegisterRequestHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	require.NoError(t, RegisterRequestHandler(reg, "sum", func(_ context.Context, nums []int) (int, error) {
		total := 0
		for _, n := range nums {
			total += n
		}

		return total, nil
	}))

	h, ok := reg.Lookup("sum")
	require.True(t, ok)

	res, err := h.Handle(t.Context(), &Request{ID: NewID("1"), Method: "sum", Params: RawValue(json.RawMessage(`[1,2,3]`))})
	require.NoError(t, err)
	assert.Equal(t, 6, res)

	_, err = h.Handle(t.Context(), &Request{ID: NewID("2"), Method: "sum", Params: RawValue(json.RawMessage(`"x"`))})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = h.Handle(t.Context(), &Request{ID: NewID("3"), Method: "sum"})
	require.ErrorIs(t, err, ErrInvalidParams, "params are required unless P is Void")
}

func TestRegisterRequestHandlerVoid(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	require.NoError(t, RegisterRequestHandler(reg, "ping", func(_ context.Context, _ Void) (string, error) {
		return "pong", nil
	}))

	h, _ := reg.Lookup("ping")

	res, err := h.Handle(t.Context(), &Request{ID: NewID("1"), Method: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", res)

	res, err = h.Handle(t.Context(), &Request{ID: NewID("1"), Method: "ping", Params: Single(1)})
	require.NoError(t, err)
	assert.Equal(t, "pong", res)
}

func TestRegisterNotificationHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	failed := errors.New("failed")

	var got string

	require.NoError(t, RegisterNotificationHandler(reg, "log", func(_ context.Context, line string) error {
		got = line
		if line == "fail" {
			return failed
		}

		return nil
	}))

	h, _ := reg.Lookup("log")

	res, err := h.Handle(t.Context(), &Request{Method: "log", Params: Single("hello")})
	require.NoError(t, err)
	assert.Equal(t, Void{}, res)
	assert.Equal(t, "hello", got)

	_, err = h.Handle(t.Context(), &Request{Method: "log", Params: Single("fail")})
	require.ErrorIs(t, err, failed)
}

func TestVoidJSON(t *testing.T) {
	t.Parallel()

	buf, err := json.Marshal(Void{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(buf))

	var v Void
	require.NoError(t, json.Unmarshal([]byte(`{"anything":[1,2]}`), &v))
}
