package dispatch

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/riftlabs/dispatch/internal/semaphore"
)

// BackPressureStrategy mirrors internal/semaphore.Strategy at the public
// API boundary so callers configuring a Pipeline need not import the
// internal package directly.
type BackPressureStrategy = semaphore.Strategy

// Re-exported back-pressure strategies, per spec.md §4.1.
const (
	Suspend     = semaphore.Suspend
	DropOldest  = semaphore.DropOldest
	DropNewest  = semaphore.DropNewest
	ErrorOnFull = semaphore.ErrorStrategy
)

// PipelineOptions configures a Pipeline's concurrency and back-pressure
// behavior, per spec.md §4.6.
type PipelineOptions struct {
	// MaxConcurrency is the number of permits the Pipeline's semaphore
	// grants. Zero means unbounded: Execute acquires no permit at all.
	MaxConcurrency       int
	MaxOutstanding       int
	MaxQueueMemory       int64
	BackPressureStrategy BackPressureStrategy
	Timeout              DurationOrZero
	MaxDepth             int
	Logger               *zap.Logger
}

// DurationOrZero is an alias kept for readability at call sites configuring
// optional timeouts; it is a plain time duration in nanoseconds.
type DurationOrZero = int64

// setDefaults fills in everything except MaxConcurrency, which is left as
// given: per spec.md §6, max_concurrency is optional, and a Pipeline
// constructed without one is unbounded -- it acquires no semaphore permit
// at all rather than silently serializing to 1 (see Execute).
func (o *PipelineOptions) setDefaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = defaultMaxDepth
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Pipeline binds exactly one command type to its handler, middleware
// chain, and concurrency bound, per spec.md §4.6. It is the standard unit
// of execution; Bus.Send is a thin wrapper that looks up a handler
// directly without a dedicated semaphore.
type Pipeline struct {
	cmdType     reflect.Type
	handler     Handler
	middlewares []Middleware
	sem         *semaphore.Semaphore
	opts        PipelineOptions
}

// NewPipeline constructs a Pipeline for command type C.
func NewPipeline[C any](handler func(ctx *Context, cmd C) (interface{}, error), middlewares []Middleware, opts PipelineOptions) *Pipeline {
	opts.setDefaults()
	t := reflect.TypeOf((*C)(nil)).Elem()
	erased := func(ctx *Context, cmd interface{}) (interface{}, error) {
		typed, ok := cmd.(C)
		if !ok {
			return nil, Wrap(KindExecutionFailed, "invalid command type", nil).WithContext(&ErrorContext{CommandType: t.String()})
		}
		return handler(ctx, typed)
	}
	p := &Pipeline{
		cmdType:     t,
		handler:     erased,
		middlewares: middlewares,
		opts:        opts,
	}
	if opts.MaxConcurrency > 0 {
		p.sem = semaphore.New(semaphore.Options{
			MaxConcurrency: opts.MaxConcurrency,
			MaxOutstanding: opts.MaxOutstanding,
			MaxQueueMemory: opts.MaxQueueMemory,
			Strategy:       opts.BackPressureStrategy,
			Logger:         opts.Logger,
		})
	}
	return p
}

// Close stops the pipeline's internal semaphore sweeper goroutine, if one
// was started. A no-op for an unbounded Pipeline.
func (p *Pipeline) Close() {
	if p.sem != nil {
		p.sem.Stop()
	}
}

// Execute runs cmd through admission control, context construction, and
// the composed middleware chain, guaranteeing the acquired permit is
// released on every exit path (success, handler error, cancellation, or a
// panic recovered and re-raised by the caller's own defer).
//
// It fails with ExecutionFailed("invalid command type") if cmd is not of
// the type this Pipeline was constructed for, per spec.md §4.6's
// type-erased boundary check.
func (p *Pipeline) Execute(std context.Context, cmd interface{}, md Metadata) (interface{}, error) {
	if reflect.TypeOf(cmd) != p.cmdType {
		return nil, NewError(KindExecutionFailed, "invalid command type").WithContext(&ErrorContext{CommandType: p.cmdType.String()})
	}

	select {
	case <-std.Done():
		return nil, ErrCancelled("pipeline entry")
	default:
	}

	if p.sem != nil {
		tok, err := p.sem.Acquire(std, 0, 0)
		if err != nil {
			return nil, classifyBackPressure(err)
		}
		defer tok.Release()
	}

	exec, err := Compose(func(dctx *Context, c interface{}) (interface{}, error) {
		return p.handler(dctx, c)
	}, p.middlewares, p.opts.MaxDepth)
	if err != nil {
		return nil, err
	}

	dctx := NewContext(std, md)
	return exec(dctx, cmd)
}

func classifyBackPressure(err error) error {
	switch err {
	case semaphore.ErrQueueFull:
		return ErrBackPressure("QueueFull", err.Error())
	case semaphore.ErrCommandDropped:
		return ErrBackPressure("Dropped", err.Error())
	case semaphore.ErrMemoryLimitExceeded:
		return ErrBackPressure("MemoryPressure", err.Error())
	case semaphore.ErrTimeout:
		return ErrBackPressure("Timeout", err.Error())
	case semaphore.ErrCancelled:
		return ErrCancelled("back-pressure queue")
	default:
		return Wrap(KindBackPressure, "back-pressure admission failed", err)
	}
}
