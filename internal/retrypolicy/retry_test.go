package retrypolicy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/dispatch/internal/breaker"
)

var errRetryable = errors.New("transient")

func TestDoSucceedsFirstTry(t *testing.T) {
	p := NewPolicy(MaxAttempts(3), Retryable(func(error) bool { return true }))
	calls := 0
	res, err := Do(context.Background(), p, nil, func(context.Context) (interface{}, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := NewPolicy(MaxAttempts(3), WithDelay(Immediate()), Retryable(func(error) bool { return true }))
	calls := 0
	_, err := Do(context.Background(), p, nil, func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errRetryable
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	p := NewPolicy(MaxAttempts(5), Retryable(func(error) bool { return false }))
	calls := 0
	_, err := Do(context.Background(), p, nil, func(context.Context) (interface{}, error) {
		calls++
		return nil, errRetryable
	})
	assert.ErrorIs(t, err, errRetryable)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCancellationDuringDelay(t *testing.T) {
	p := NewPolicy(MaxAttempts(3), WithDelay(Fixed(time.Hour)), Retryable(func(error) bool { return true }))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		_, err = Do(ctx, p, nil, func(context.Context) (interface{}, error) {
			return nil, errRetryable
		})
		close(done)
	}()
	cancel()
	<-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryThenCircuitBreakerOpenScenario(t *testing.T) {
	// spec.md §8, scenario 3: Exponential{base=10ms,mult=2,cap=100ms,jitter=0},
	// max_attempts=3, breaker failure_threshold=2/open_duration=1s, handler
	// always fails retryably. Expect: closed(1), open(1s), rejected with
	// CircuitOpen on the third attempt.
	cb := breaker.New(breaker.Config{FailureThreshold: 2, OpenDuration: time.Second})
	p := NewPolicy(
		MaxAttempts(3),
		WithDelay(Exponential(10*time.Millisecond, 2, 100*time.Millisecond, 0)),
		Retryable(func(error) bool { return true }),
	)
	calls := 0
	_, err := Do(context.Background(), p, cb, func(context.Context) (interface{}, error) {
		calls++
		return nil, errRetryable
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "third attempt must be rejected by the breaker before invoking the op")
	assert.Equal(t, breaker.Open, cb.State())
}
