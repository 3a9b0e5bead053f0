package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingMiddleware(name string, prio Priority, order *[]string) Middleware {
	return MiddlewareFunc{
		Prio: prio,
		Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
			*order = append(*order, name+":before")
			res, err := next(cmd)
			*order = append(*order, name+":after")
			return res, err
		},
	}
}

func TestComposeOrdersByPriority(t *testing.T) {
	var order []string
	handler := func(ctx *Context, cmd interface{}) (interface{}, error) {
		order = append(order, "handler")
		return cmd, nil
	}

	// Registered out of order; Compose must sort by Priority.
	ms := []Middleware{
		recordingMiddleware("monitor", PriorityMonitoring, &order),
		recordingMiddleware("auth", PriorityAuthentication, &order),
		recordingMiddleware("validate", PriorityValidation, &order),
	}

	exec, err := Compose(handler, ms, 0)
	require.NoError(t, err)

	_, err = exec(NewContext(context.Background(), Metadata{}), "cmd")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"auth:before", "validate:before", "handler",
		"validate:after", "auth:after",
	}, order)
}

func TestComposeRejectsDoubleNextCall(t *testing.T) {
	handler := func(ctx *Context, cmd interface{}) (interface{}, error) { return cmd, nil }
	double := MiddlewareFunc{
		Prio: PriorityProcessing,
		Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
			if _, err := next(cmd); err != nil {
				return nil, err
			}
			return next(cmd)
		},
	}

	exec, err := Compose(handler, []Middleware{double}, 0)
	require.NoError(t, err)

	_, err = exec(NewContext(context.Background(), Metadata{}), "cmd")
	require.Error(t, err)
	var e *Error
	require.True(t, asError(err, &e))
	assert.Equal(t, KindNextAlreadyCalled, e.Kind)
}

func TestComposeMaxDepthExceeded(t *testing.T) {
	handler := func(ctx *Context, cmd interface{}) (interface{}, error) { return cmd, nil }
	ms := []Middleware{
		recordingMiddleware("a", PriorityProcessing, &[]string{}),
		recordingMiddleware("b", PriorityProcessing, &[]string{}),
	}
	_, err := Compose(handler, ms, 1)
	require.Error(t, err)
	var e *Error
	require.True(t, asError(err, &e))
	assert.Equal(t, KindMaxDepthExceeded, e.Kind)
}

func TestComposeCancellationBeforeNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	handler := func(ctx *Context, cmd interface{}) (interface{}, error) {
		called = true
		return cmd, nil
	}
	passthrough := MiddlewareFunc{
		Prio: PriorityProcessing,
		Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
			return next(cmd)
		},
	}

	exec, err := Compose(handler, []Middleware{passthrough}, 0)
	require.NoError(t, err)

	_, err = exec(NewContext(ctx, Metadata{}), "cmd")
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.False(t, called, "handler must not run once the context is already cancelled")
}

func TestUnsafeMiddlewareMayCallNextMultipleTimes(t *testing.T) {
	calls := 0
	handler := func(ctx *Context, cmd interface{}) (interface{}, error) {
		calls++
		return cmd, nil
	}
	fanout := unsafeMiddlewareFunc{
		MiddlewareFunc: MiddlewareFunc{
			Prio: PriorityProcessing,
			Fn: func(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
				if _, err := next(cmd); err != nil {
					return nil, err
				}
				return next(cmd)
			},
		},
	}

	exec, err := Compose(handler, []Middleware{fanout}, 0)
	require.NoError(t, err)
	_, err = exec(NewContext(context.Background(), Metadata{}), "cmd")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

type unsafeMiddlewareFunc struct {
	MiddlewareFunc
}

func (unsafeMiddlewareFunc) UnsafeNext() {}
