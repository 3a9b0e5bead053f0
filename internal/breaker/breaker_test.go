package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerClosedToOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 2, OpenDuration: time.Second})
	require.True(t, b.ShouldAllow())
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())
	require.True(t, b.ShouldAllow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.ShouldAllow())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenDuration: time.Minute})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	assert.Equal(t, Open, b.State())

	now = now.Add(time.Minute)
	require.True(t, b.ShouldAllow())
	assert.Equal(t, HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := New(Config{FailureThreshold: 1, OpenDuration: time.Minute})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(time.Minute)
	require.True(t, b.ShouldAllow())
	require.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestRetryThenCircuitOpenScenario(t *testing.T) {
	// Mirrors spec.md §8 scenario 3: two failures trip a breaker with
	// failure_threshold=2; the third attempt is rejected outright.
	b := New(Config{FailureThreshold: 2, OpenDuration: time.Second})

	require.True(t, b.ShouldAllow())
	b.RecordFailure() // closed(1)
	require.True(t, b.ShouldAllow())
	b.RecordFailure() // open
	assert.False(t, b.ShouldAllow())
}
