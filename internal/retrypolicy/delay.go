package retrypolicy

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DelayStrategy computes the delay to wait before the given retry attempt
// (1-indexed: attempt 1 is the wait before the second try).
type DelayStrategy func(attempt uint) time.Duration

// Immediate never delays.
func Immediate() DelayStrategy {
	return func(uint) time.Duration { return 0 }
}

// Fixed waits the same duration before every retry.
func Fixed(d time.Duration) DelayStrategy {
	return func(uint) time.Duration { return d }
}

// Linear waits base*attempt before each retry.
func Linear(base time.Duration) DelayStrategy {
	return func(attempt uint) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Exponential waits min(base*mult^(attempt-1), cap) before each retry, then
// applies uniform jitter in +/- jitter*delay. jitter must be in [0,1]; a
// zero jitter strategy is deterministic, matching spec.md §4.3's example
// scenario.
func Exponential(base time.Duration, mult float64, cap time.Duration, jitter float64) DelayStrategy {
	e := &exponential{
		base:   base,
		mult:   mult,
		cap:    cap,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return e.delay
}

// exponential is not referentially independent across concurrent callers of
// the same DelayStrategy value, unlike the teacher's per-goroutine
// NewBackoff() generators (spec.md §9 notes backoff strategies are
// per-execution in the source); a policy's strategy may be shared across
// concurrent Do calls, so the rng is mutex-guarded.
type exponential struct {
	base   time.Duration
	mult   float64
	cap    time.Duration
	jitter float64

	mu  sync.Mutex
	rng *rand.Rand
}

func (e *exponential) delay(attempt uint) time.Duration {
	raw := float64(e.base) * math.Pow(e.mult, float64(attempt-1))
	if raw < 0 || time.Duration(raw) > e.cap {
		raw = float64(e.cap)
	}
	if raw < 0 {
		raw = 0
	}
	if e.jitter <= 0 {
		return time.Duration(raw)
	}
	spread := raw * e.jitter

	e.mu.Lock()
	r := e.rng.Float64()
	e.mu.Unlock()

	delta := (r*2 - 1) * spread // uniform in [-spread, +spread]
	out := raw + delta
	if out < 0 {
		out = 0
	}
	return time.Duration(out)
}
