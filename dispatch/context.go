package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
)

// Metadata is the immutable-after-construction block of ambient request
// attributes carried on a Context, per spec.md §3/§4.4.
type Metadata struct {
	CorrelationID string
	UserID        string
	StartTime     time.Time
	Custom        map[string]string

	// Span carries an externally-created tracing span context through the
	// chain for middlewares that want to attach child spans. This module
	// never starts or finishes spans itself; Span is a pass-through slot,
	// per spec.md §6's EventSink/MetricsSink collaborator boundary.
	Span opentracing.SpanContext
}

// ContextKey is a typed witness identifying one slot in a Context's
// key->value mapping. The zero value is not usable; construct keys with
// NewContextKey. Using a *ContextKey[V] pointer as the map key (rather than
// a name string) gives each key its own identity, matching spec.md §4.4's
// "keyed by a ContextKey witness with an associated value type".
type ContextKey[V any] struct {
	name string
}

// NewContextKey constructs a new, uniquely-identified ContextKey. name is
// used only for diagnostics; it does not affect key identity.
func NewContextKey[V any](name string) *ContextKey[V] {
	return &ContextKey[V]{name: name}
}

// String implements fmt.Stringer for diagnostics.
func (k *ContextKey[V]) String() string { return k.name }

// Context is the per-execution, concurrency-safe scratchpad threaded
// through a middleware chain (spec.md §3/§4.4). The zero value is not
// usable; construct with NewContext.
type Context struct {
	std          context.Context
	metadata     Metadata
	requestID    string
	requestStart time.Time

	mu     sync.RWMutex
	values map[interface{}]interface{}
}

// NewContext constructs a Context bound to std for cancellation, with the
// given metadata, assigning a correlation id and start time if the metadata
// does not already carry them, and always a fresh request id. std may be
// nil, in which case the Context never reports itself cancelled.
func NewContext(std context.Context, md Metadata) *Context {
	if md.CorrelationID == "" {
		md.CorrelationID = uuid.NewString()
	}
	if md.StartTime.IsZero() {
		md.StartTime = time.Now()
	}
	return &Context{
		std:          std,
		metadata:     md,
		requestID:    uuid.NewString(),
		requestStart: md.StartTime,
		values:       make(map[interface{}]interface{}),
	}
}

// done returns the underlying cancellation channel, or nil if this Context
// was not bound to a context.Context.
func (c *Context) done() <-chan struct{} {
	if c.std == nil {
		return nil
	}
	return c.std.Done()
}

// Std returns the underlying context.Context, or context.Background() if
// none was supplied.
func (c *Context) Std() context.Context {
	if c.std == nil {
		return context.Background()
	}
	return c.std
}

// Metadata returns the immutable metadata block.
func (c *Context) Metadata() Metadata { return c.metadata }

// RequestID returns this execution's request id.
func (c *Context) RequestID() string { return c.requestID }

// RequestStartTime returns when this execution began.
func (c *Context) RequestStartTime() time.Time { return c.requestStart }

// Get retrieves the value stored under key, if any. Concurrent Get/Set from
// multiple goroutines (e.g. parallel fan-out siblings, spec.md §4.8) are
// safe; writes are last-writer-wins, with no transactional semantics, per
// spec.md §4.4.
func Get[V any](c *Context, key *ContextKey[V]) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero V
	raw, ok := c.values[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}

// Set stores value under key.
func Set[V any](c *Context, key *ContextKey[V], value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Fork creates a child Context sharing this Context's metadata and a
// shallow copy of its current entries, used to isolate side effects across
// parallel fan-out siblings (spec.md §4.4). Merges back into the parent are
// not automatic.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child := &Context{
		std:          c.std,
		metadata:     c.metadata,
		requestID:    c.requestID,
		requestStart: c.requestStart,
		values:       make(map[interface{}]interface{}, len(c.values)),
	}
	for k, v := range c.values {
		child.values[k] = v
	}
	return child
}

// reset clears all mutable state so a pooled Context can be reused,
// per spec.md §4.4's "optional pooling ... all mutable state must be
// cleared".
func (c *Context) reset() {
	c.mu.Lock()
	for k := range c.values {
		delete(c.values, k)
	}
	c.mu.Unlock()
	c.std = nil
	c.metadata = Metadata{}
	c.requestID = ""
	c.requestStart = time.Time{}
}

// pool is a process-wide Context pool, adapted from the teacher's
// sync.Pool-based writer pooling in internal/observability/middleware.go.
// Using the pool is opt-in: callers that want pooled contexts use
// AcquirePooledContext/ReleasePooledContext explicitly; Pipeline.Execute
// does not use it implicitly, since pooling correctness depends on no
// middleware retaining a reference past the call.
var pool = sync.Pool{New: func() interface{} { return &Context{} }}

// AcquirePooledContext borrows a Context from the process-wide pool,
// initializing it with std and md.
func AcquirePooledContext(std context.Context, md Metadata) *Context {
	c := pool.Get().(*Context)
	if md.CorrelationID == "" {
		md.CorrelationID = uuid.NewString()
	}
	if md.StartTime.IsZero() {
		md.StartTime = time.Now()
	}
	c.std = std
	c.metadata = md
	c.requestID = uuid.NewString()
	c.requestStart = md.StartTime
	if c.values == nil {
		c.values = make(map[interface{}]interface{})
	}
	return c
}

// ReleasePooledContext clears c and returns it to the pool. Callers must
// not use c after calling this.
func ReleasePooledContext(c *Context) {
	c.reset()
	pool.Put(c)
}
