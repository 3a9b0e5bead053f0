// Package retrypolicy implements the retry envelope of spec.md §4.3,
// generalized from the teacher's go.uber.org/yarpc/internal/retry outbound
// middleware: the same functional-options Policy shape, the same
// context-aware sleep-with-cancellation, but wrapping an arbitrary
// func(context.Context) (interface{}, error) instead of one
// transport.UnaryOutbound.Call.
package retrypolicy

import (
	"context"
	"time"

	"github.com/riftlabs/dispatch/internal/breaker"
)

// Policy bundles attempts, a delay strategy, and a retryability predicate.
type Policy struct {
	maxAttempts uint
	delay       DelayStrategy
	isRetryable func(error) bool
}

var defaultPolicy = Policy{
	maxAttempts: 1,
	delay:       Immediate(),
	isRetryable: func(error) bool { return false },
}

// Option customizes a Policy.
type Option func(*Policy)

// MaxAttempts sets the total number of attempts (including the first).
// Defaults to 1 (no retry).
func MaxAttempts(n uint) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithDelay sets the delay strategy used between attempts. Defaults to
// Immediate.
func WithDelay(d DelayStrategy) Option {
	return func(p *Policy) {
		if d != nil {
			p.delay = d
		}
	}
}

// Retryable sets the predicate used to decide whether a failed attempt
// should be retried. Defaults to "never retry".
func Retryable(f func(error) bool) Option {
	return func(p *Policy) {
		if f != nil {
			p.isRetryable = f
		}
	}
}

// NewPolicy builds a Policy from options.
func NewPolicy(opts ...Option) *Policy {
	p := defaultPolicy
	for _, opt := range opts {
		opt(&p)
	}
	return &p
}

// Op is the operation the retry envelope wraps.
type Op func(ctx context.Context) (interface{}, error)

// Do executes op under the retry envelope described in spec.md §4.3: each
// attempt is gated by cb.ShouldAllow, outcomes are reported via
// RecordSuccess/RecordFailure, and only errors accepted by the policy's
// retryable predicate are retried, up to maxAttempts. cb may be nil, in
// which case every attempt is allowed and no outcome is recorded.
func Do(ctx context.Context, p *Policy, cb *breaker.Breaker, op Op) (interface{}, error) {
	if p == nil {
		p = NewPolicy()
	}
	var (
		result interface{}
		err    error
	)
	for attempt := uint(1); attempt <= p.maxAttempts; attempt++ {
		if cb != nil && !cb.ShouldAllow() {
			return nil, ErrCircuitOpen
		}

		result, err = op(ctx)
		if cb != nil {
			if err == nil {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
		}
		if err == nil {
			return result, nil
		}
		if attempt == p.maxAttempts || !p.isRetryable(err) {
			return result, err
		}

		d := p.delay(attempt)
		if d <= 0 {
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return result, err
}
