package dispatch

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// defaultMaxDepth bounds middleware chain length absent an explicit
// override, per spec.md §4.6.
const defaultMaxDepth = 100

// BusOption configures a Bus at construction, following the functional
// options idiom used throughout this module (and by the teacher's own
// config.go DispatcherOption).
type BusOption func(*Bus)

// WithGlobalMiddleware adds mw to every command dispatched through the bus.
// Send does not consult any Pipeline, so middleware attached to a Pipeline
// does not run on the Send path.
func WithGlobalMiddleware(mw ...Middleware) BusOption {
	return func(b *Bus) { b.middlewares = append(b.middlewares, mw...) }
}

// WithMaxDepth overrides the default maximum combined middleware count.
func WithMaxDepth(n int) BusOption {
	return func(b *Bus) { b.maxDepth = n }
}

// WithLogger attaches a logger used for dispatch-level diagnostics.
func WithLogger(l *zap.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// Bus is the command dispatch entrypoint: it resolves a command to its
// registered handler and runs it through the bus-level global middleware
// only (no Pipeline or per-command middleware is involved), adapted from the
// teacher's Dispatcher/Registry split (rpc.go, register.go) generalized
// from RPC procedure dispatch to typed in-process command dispatch.
type Bus struct {
	registry *Registry
	maxDepth int
	logger   *zap.Logger

	mu          sync.RWMutex
	middlewares []Middleware
}

// NewBus constructs a Bus backed by registry.
func NewBus(registry *Registry, opts ...BusOption) *Bus {
	b := &Bus{
		registry: registry,
		maxDepth: defaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// AddMiddleware appends a bus-global middleware.
func (b *Bus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

// AddMiddlewares appends several bus-global middlewares.
func (b *Bus) AddMiddlewares(mws ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mws...)
}

// RemoveMiddlewareByType removes every bus-global middleware whose dynamic
// type matches sample's type.
func (b *Bus) RemoveMiddlewareByType(sample Middleware) {
	target := reflect.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.middlewares[:0]
	for _, mw := range b.middlewares {
		if reflect.TypeOf(mw) != target {
			kept = append(kept, mw)
		}
	}
	b.middlewares = kept
}

// ClearMiddlewares removes all bus-global middleware.
func (b *Bus) ClearMiddlewares() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = nil
}

// HasMiddleware reports whether a bus-global middleware of type M is
// currently attached.
func HasMiddleware[M Middleware](b *Bus) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var zero M
	target := reflect.TypeOf(zero)
	for _, mw := range b.middlewares {
		if reflect.TypeOf(mw) == target {
			return true
		}
	}
	return false
}

// MiddlewareTypes returns the type names of all currently attached
// bus-global middleware, in registration order.
func (b *Bus) MiddlewareTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.middlewares))
	for i, mw := range b.middlewares {
		names[i] = reflect.TypeOf(mw).String()
	}
	return names
}

// MiddlewareCount returns the number of bus-global middleware attached.
func (b *Bus) MiddlewareCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.middlewares)
}

// Send dispatches cmd to its registered handler through the bus-global
// middleware chain. std provides cancellation; md carries request
// metadata. Returns ErrHandlerNotFound if no handler is registered for
// cmd's concrete type.
func (b *Bus) Send(std context.Context, cmd interface{}, md Metadata) (interface{}, error) {
	handler, ok := b.registry.lookup(cmd)
	if !ok {
		t := reflect.TypeOf(cmd)
		name := "<nil>"
		if t != nil {
			name = t.String()
		}
		return nil, ErrHandlerNotFound(name)
	}

	b.mu.RLock()
	mws := make([]Middleware, len(b.middlewares))
	copy(mws, b.middlewares)
	maxDepth := b.maxDepth
	b.mu.RUnlock()

	exec, err := Compose(func(dctx *Context, c interface{}) (interface{}, error) {
		return handler(dctx, c)
	}, mws, maxDepth)
	if err != nil {
		return nil, err
	}

	dctx := NewContext(std, md)
	return exec(dctx, cmd)
}
