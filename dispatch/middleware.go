package dispatch

import (
	"sort"
	"sync/atomic"
)

// Priority orders middleware execution per spec.md §4.5: lower values run
// closer to the handler boundary's outside, i.e. Authentication wraps
// everything and runs first on the way in, last on the way out.
type Priority int

// Standard priority bands, in ascending (outermost-first) order.
const (
	PriorityAuthentication Priority = 100
	PriorityValidation     Priority = 200
	PriorityPreProcessing  Priority = 300
	PriorityProcessing     Priority = 400
	PriorityPostProcessing Priority = 500
	PriorityErrorHandling  Priority = 600
	PriorityMonitoring     Priority = 700
	PriorityCustom         Priority = 1000
)

// Next invokes the next link in a middleware chain (or the terminal
// handler, for the innermost middleware), exactly once per spec.md §4.5
// unless the middleware declares itself Unsafe.
type Next func(cmd interface{}) (interface{}, error)

// Middleware is one ordered link in a command's execution chain.
type Middleware interface {
	// Execute runs this middleware's logic, calling next at most once
	// (see Unsafe) to continue the chain.
	Execute(ctx *Context, cmd interface{}, next Next) (interface{}, error)
	// Priority reports this middleware's ordering band. Ties are broken by
	// insertion order (stable sort), per spec.md §4.5.
	Priority() Priority
}

// Unsafe is implemented by middlewares that need to call next zero or more
// than one time (e.g. a fan-out middleware invoking the remaining chain
// once per sibling). Implementing it opts a middleware out of the
// next-exactly-once guard enforced by Compose.
type Unsafe interface {
	UnsafeNext()
}

// MiddlewareFunc adapts a plain function to the Middleware interface at a
// fixed priority.
type MiddlewareFunc struct {
	Fn   func(ctx *Context, cmd interface{}, next Next) (interface{}, error)
	Prio Priority
}

// Execute implements Middleware.
func (f MiddlewareFunc) Execute(ctx *Context, cmd interface{}, next Next) (interface{}, error) {
	return f.Fn(ctx, cmd, next)
}

// Priority implements Middleware.
func (f MiddlewareFunc) Priority() Priority { return f.Prio }

// guardState values for the per-link next-exactly-once guard.
const (
	guardUnused int32 = iota
	guardInFlight
	guardUsed
)

// sortMiddlewares returns a stable, priority-ordered copy of ms.
func sortMiddlewares(ms []Middleware) []Middleware {
	sorted := make([]Middleware, len(ms))
	copy(sorted, ms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}

// Handler is the terminal function a composed chain invokes once every
// middleware has called next.
type Handler func(ctx *Context, cmd interface{}) (interface{}, error)

// Compose builds a single callable chain from handler and an unordered set
// of middlewares, sorting them by Priority (stable on ties) and wrapping
// them outside-in, mirroring the teacher's unaryChainExec slice-popping
// composition generalized from outbound-RPC middleware to command
// middleware, plus spec.md §4.5's next-exactly-once guard and cancellation
// checks.
//
// depth is the number of middlewares actually composed; maxDepth, if > 0,
// bounds it -- Compose returns ErrMaxDepthExceeded if len(ms) > maxDepth.
func Compose(handler Handler, ms []Middleware, maxDepth int) (func(ctx *Context, cmd interface{}) (interface{}, error), error) {
	if maxDepth > 0 && len(ms) > maxDepth {
		return nil, ErrMaxDepthExceeded(len(ms), maxDepth)
	}
	sorted := sortMiddlewares(ms)

	exec := func(ctx *Context, cmd interface{}) (interface{}, error) {
		return runChain(ctx, cmd, sorted, handler)
	}
	return exec, nil
}

// runChain executes sorted[0] with a next bound to sorted[1:], terminating
// at handler. Each call builds a fresh guard, so the same composed chain
// may run concurrently for independent commands.
func runChain(ctx *Context, cmd interface{}, chain []Middleware, handler Handler) (interface{}, error) {
	if err := checkCancelled(ctx, "chain entry"); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return handler(ctx, cmd)
	}

	mw := chain[0]
	rest := chain[1:]
	_, unsafe := mw.(Unsafe)

	var guard int32 // guardUnused
	next := func(nextCmd interface{}) (interface{}, error) {
		if !unsafe {
			if !atomic.CompareAndSwapInt32(&guard, guardUnused, guardInFlight) {
				switch atomic.LoadInt32(&guard) {
				case guardInFlight:
					return nil, NewError(KindNextCurrentlyExec, "next is already executing")
				default:
					return nil, NewError(KindNextAlreadyCalled, "next has already been called")
				}
			}
		}
		if err := checkCancelled(ctx, "before next"); err != nil {
			if !unsafe {
				atomic.StoreInt32(&guard, guardUsed)
			}
			return nil, err
		}
		res, err := runChain(ctx, nextCmd, rest, handler)
		if !unsafe {
			atomic.StoreInt32(&guard, guardUsed)
		}
		return res, err
	}

	res, err := mw.Execute(ctx, cmd, next)
	if err2 := checkCancelled(ctx, "after middleware"); err2 != nil && err == nil {
		return res, err2
	}
	return res, err
}

func checkCancelled(ctx *Context, where string) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.done():
		return ErrCancelled(where)
	default:
		return nil
	}
}
