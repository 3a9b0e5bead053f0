package middlewares

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/dispatch"
)

// TestTokenBucketAdmitsExactlyCapacity mirrors spec.md §8 scenario 5:
// TokenBucket(capacity=3, refill=0), five immediate calls by the same
// identifier, expecting 3 successes and 2 RateLimitExceeded.
func TestTokenBucketAdmitsExactlyCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Strategy:   TokenBucket,
		Scope:      ScopePerUser,
		Capacity:   3,
		RefillRate: 0,
	})
	defer rl.Close()

	md := dispatch.Metadata{UserID: "u1"}
	ctx := dispatch.NewContext(context.Background(), md)

	successes, rejections := 0, 0
	for i := 0; i < 5; i++ {
		_, err := rl.Execute(ctx, "cmd", func(interface{}) (interface{}, error) { return nil, nil })
		if err == nil {
			successes++
		} else {
			rejections++
			var de *dispatch.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, dispatch.KindRateLimitExceeded, de.Kind)
		}
	}
	assert.Equal(t, 3, successes)
	assert.Equal(t, 2, rejections)
}

func TestRateLimiterScopesByUser(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Strategy:   TokenBucket,
		Scope:      ScopePerUser,
		Capacity:   1,
		RefillRate: 0,
	})
	defer rl.Close()

	ctxA := dispatch.NewContext(context.Background(), dispatch.Metadata{UserID: "a"})
	ctxB := dispatch.NewContext(context.Background(), dispatch.Metadata{UserID: "b"})

	_, err := rl.Execute(ctxA, "cmd", func(interface{}) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	_, err = rl.Execute(ctxB, "cmd", func(interface{}) (interface{}, error) { return nil, nil })
	require.NoError(t, err, "a distinct identifier must have its own bucket")
}

func TestSlidingWindowAdmitsUpToMax(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		Strategy:    SlidingWindow,
		Scope:       ScopeGlobal,
		MaxInWindow: 2,
		Window:      time.Hour, // long enough not to roll over during the test
	})
	defer rl.Close()

	ctx := dispatch.NewContext(context.Background(), dispatch.Metadata{})
	successes := 0
	for i := 0; i < 4; i++ {
		_, err := rl.Execute(ctx, "cmd", func(interface{}) (interface{}, error) { return nil, nil })
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 2, successes)
}
