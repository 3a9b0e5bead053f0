package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoCmd struct{ Payload string }

func TestSendRoutesToRegisteredHandlerNoMiddleware(t *testing.T) {
	r := NewRegistry()
	Register(r, func(ctx *Context, cmd echoCmd) (string, error) {
		return cmd.Payload, nil
	})
	bus := NewBus(r)

	res, err := bus.Send(context.Background(), echoCmd{Payload: "hi"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res)
}

func TestSendUnregisteredCommandFails(t *testing.T) {
	bus := NewBus(NewRegistry())
	_, err := bus.Send(context.Background(), echoCmd{}, Metadata{})
	require.Error(t, err)
	var e *Error
	require.True(t, asError(err, &e))
	assert.Equal(t, KindHandlerNotFound, e.Kind)
}

func TestSendRunsGlobalMiddlewareInPriorityOrder(t *testing.T) {
	r := NewRegistry()
	Register(r, func(ctx *Context, cmd echoCmd) (string, error) { return cmd.Payload, nil })

	var order []string
	auth := MiddlewareFunc{Prio: PriorityAuthentication, Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
		order = append(order, "auth")
		return next(cmd)
	}}
	monitor := MiddlewareFunc{Prio: PriorityMonitoring, Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
		order = append(order, "monitor")
		return next(cmd)
	}}

	bus := NewBus(r, WithGlobalMiddleware(monitor, auth))
	_, err := bus.Send(context.Background(), echoCmd{Payload: "x"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "monitor"}, order)
}

func TestRemoveMiddlewareByType(t *testing.T) {
	r := NewRegistry()
	Register(r, func(ctx *Context, cmd echoCmd) (string, error) { return cmd.Payload, nil })

	mw := MiddlewareFunc{Prio: PriorityValidation, Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
		return next(cmd)
	}}
	bus := NewBus(r)
	bus.AddMiddleware(mw)
	assert.Equal(t, 1, bus.MiddlewareCount())

	bus.RemoveMiddlewareByType(mw)
	assert.Equal(t, 0, bus.MiddlewareCount())
}
