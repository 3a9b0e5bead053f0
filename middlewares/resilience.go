package middlewares

import (
	"context"

	"github.com/riftlabs/dispatch"
	"github.com/riftlabs/dispatch/internal/breaker"
	"github.com/riftlabs/dispatch/internal/retrypolicy"
)

// Resilience wraps the remainder of the chain in a retry loop backed by a
// circuit breaker, adapted from the teacher's internal/retry
// OutboundMiddleware generalized from outbound-RPC retry to in-process
// command retry, per spec.md §4.3/§4.8.
type Resilience struct {
	policy  *retrypolicy.Policy
	breaker *breaker.Breaker
	events  dispatch.EventSink
}

// NewResilience constructs the resilience middleware. events may be nil,
// in which case retry/circuit events are simply not emitted.
func NewResilience(policy *retrypolicy.Policy, cb *breaker.Breaker, events dispatch.EventSink) *Resilience {
	return &Resilience{policy: policy, breaker: cb, events: events}
}

// Priority implements dispatch.Middleware.
func (*Resilience) Priority() dispatch.Priority { return dispatch.PriorityErrorHandling }

// UnsafeNext implements dispatch.Unsafe: Execute calls next once per retry
// attempt, so the chain engine's default next-exactly-once guard (dispatch
// middleware.go's runChain) must not apply to this middleware.
func (*Resilience) UnsafeNext() {}

// Execute implements dispatch.Middleware.
func (r *Resilience) Execute(ctx *dispatch.Context, cmd interface{}, next dispatch.Next) (interface{}, error) {
	attempts := 0
	res, err := retrypolicy.Do(ctx.Std(), r.policy, r.breaker, func(_ context.Context) (interface{}, error) {
		attempts++
		out, callErr := next(cmd)
		if callErr != nil && r.events != nil {
			r.events.Event("command_retry", map[string]interface{}{
				"attempt": attempts,
				"error":   callErr.Error(),
			})
		}
		return out, callErr
	})
	if err == retrypolicy.ErrCircuitOpen {
		if r.events != nil {
			r.events.Event("circuit_open", map[string]interface{}{"command": commandTypeName(cmd)})
		}
		return nil, dispatch.ErrCircuitOpen()
	}
	if err != nil && attempts > 1 && r.events != nil {
		r.events.Event("retry_exhausted", map[string]interface{}{"attempts": attempts})
	}
	return res, err
}
