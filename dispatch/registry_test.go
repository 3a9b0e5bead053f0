package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingCmd struct{ Name string }
type pongCmd struct{ Name string }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	assert.False(t, HasHandler[pingCmd](r))

	Register(r, func(ctx *Context, cmd pingCmd) (string, error) {
		return "pong:" + cmd.Name, nil
	})
	assert.True(t, HasHandler[pingCmd](r))
	assert.False(t, HasHandler[pongCmd](r))

	h, ok := r.lookup(pingCmd{Name: "a"})
	require.True(t, ok)
	res, err := h(nil, pingCmd{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, "pong:a", res)
}

func TestRegisterReplacesExistingHandler(t *testing.T) {
	r := NewRegistry()
	Register(r, func(ctx *Context, cmd pingCmd) (string, error) { return "v1", nil })
	Register(r, func(ctx *Context, cmd pingCmd) (string, error) { return "v2", nil })

	h, ok := r.lookup(pingCmd{})
	require.True(t, ok)
	res, err := h(nil, pingCmd{})
	require.NoError(t, err)
	assert.Equal(t, "v2", res)
}

func TestRegisteredCommandTypesSorted(t *testing.T) {
	r := NewRegistry()
	Register(r, func(ctx *Context, cmd pongCmd) (string, error) { return "", nil })
	Register(r, func(ctx *Context, cmd pingCmd) (string, error) { return "", nil })

	names := r.RegisteredCommandTypes()
	require.Len(t, names, 2)
	assert.Contains(t, names[0], "pingCmd")
	assert.Contains(t, names[1], "pongCmd")
}
