// Package semaphore implements the back-pressure substrate of spec.md §4.1:
// a bounded permit pool with a strict-priority wait queue, configurable
// overflow strategies, and tokens that release exactly once. The waiter
// queue and cancellation race are adapted from the priority-queue/CAS
// pattern in a Chromium build-tool's semaphore package (see DESIGN.md);
// the strategy set, outstanding ceiling, and waiter-timeout sweeper are
// this package's own addition to satisfy spec.md.
package semaphore

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Strategy selects the behavior applied when outstanding work (active +
// queued) would exceed MaxOutstanding.
type Strategy int

const (
	// Suspend queues the waiter indefinitely, subject only to the hard
	// 2*MaxOutstanding ceiling.
	Suspend Strategy = iota
	// DropOldest evicts the oldest queued waiter to admit the new one.
	DropOldest
	// DropNewest rejects the new waiter immediately.
	DropNewest
	// ErrorStrategy rejects immediately unless Timeout is set, in which case
	// it queues for up to that long.
	ErrorStrategy
)

// Options configures a Semaphore.
type Options struct {
	// MaxConcurrency is the number of permits. Required, must be > 0.
	MaxConcurrency int

	// MaxOutstanding caps active+queued. Defaults to MaxConcurrency*10.
	MaxOutstanding int

	// MaxQueueMemory bounds the sum of EstimatedSize across queued waiters,
	// in bytes. Zero disables the check.
	MaxQueueMemory int64

	// Strategy is the overflow policy. Defaults to Suspend.
	Strategy Strategy

	// Timeout is used by ErrorStrategy to allow bounded queueing. Ignored by
	// other strategies.
	Timeout time.Duration

	// WaiterTimeout bounds how long a waiter may sit in the queue before the
	// sweeper fails it. Defaults to 5 minutes.
	WaiterTimeout time.Duration

	// SweepInterval is how often the sweeper walks the queue. Defaults to
	// 30 seconds.
	SweepInterval time.Duration

	// Logger receives diagnostic events. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 1
	}
	if o.MaxOutstanding <= 0 {
		o.MaxOutstanding = o.MaxConcurrency * 10
	}
	if o.WaiterTimeout <= 0 {
		o.WaiterTimeout = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

const (
	waiterWaiting int32 = iota
	waiterServed
	waiterDone // cancelled, timed out, or dropped
)

// waiter is one pending Acquire call.
type waiter struct {
	priority     int
	size         int64
	enqueuedAt   time.Time
	ready        chan *Token
	failure      chan error
	state        atomic.Int32
	index        int // heap index, maintained by container/heap
}

type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

// Less orders by ascending priority (lower number served first); within a
// priority level, earlier enqueuedAt wins, giving strict FIFO-within-level
// per spec.md §4.1.
func (q waiterQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].enqueuedAt.Before(q[j].enqueuedAt)
}

func (q waiterQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waiterQueue) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waiterQueue) Pop() interface{} {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// Semaphore is a bounded, priority-aware, concurrency-safe permit pool.
type Semaphore struct {
	opts Options

	mu          sync.Mutex
	active      int
	queue       waiterQueue
	queueMemory int64
	shutdown    bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New constructs a Semaphore and starts its waiter-timeout sweeper.
func New(opts Options) *Semaphore {
	opts.setDefaults()
	s := &Semaphore{
		opts:      opts,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	heap.Init(&s.queue)
	go s.sweep()
	return s
}

// Stop terminates the waiter-timeout sweeper. It does not affect
// outstanding tokens or queued waiters; it is a liveness-only component
// per spec.md §4.1.
func (s *Semaphore) Stop() {
	close(s.stopSweep)
	<-s.sweepDone
}

// Token represents one outstanding permit. Exactly one of Release or a
// dropped (never-released) Token performs the release, and only once.
type Token struct {
	sem      *Semaphore
	released atomic.Bool
}

// Release returns the permit to the pool. Safe to call multiple times and
// safe to call never (a dropped Token still releases via the finalizer
// installed in the acquiring call) -- see spec.md §9 on avoiding emergency
// release from within a GC finalizer's own goroutine: the finalizer below
// performs the same synchronous, lock-protected mutation Release does,
// rather than scheduling an async callback.
func (t *Token) Release() {
	if t.released.CAS(false, true) {
		runtime.SetFinalizer(t, nil)
		t.sem.release()
	}
}

// Acquire obtains a permit, queueing according to the configured Strategy
// if none is immediately available. The returned Token must eventually be
// released (directly or by becoming unreachable) exactly once.
func (s *Semaphore) Acquire(ctx context.Context, priority int, estimatedSize int64) (*Token, error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	if s.active < s.opts.MaxConcurrency {
		s.active++
		s.mu.Unlock()
		return s.newToken(), nil
	}

	outstanding := s.active + s.queue.Len()
	switch s.opts.Strategy {
	case DropNewest:
		if outstanding >= s.opts.MaxOutstanding {
			s.mu.Unlock()
			return nil, ErrCommandDropped
		}
	case DropOldest:
		if outstanding >= s.opts.MaxOutstanding && s.queue.Len() > 0 {
			oldest := s.queue[0]
			for _, w := range s.queue {
				if w.enqueuedAt.Before(oldest.enqueuedAt) {
					oldest = w
				}
			}
			if oldest.state.CAS(waiterWaiting, waiterDone) {
				heap.Remove(&s.queue, oldest.index)
				s.queueMemory -= oldest.size
				select {
				case oldest.failure <- ErrCommandDropped:
				default:
				}
			}
		}
	case ErrorStrategy:
		if outstanding >= s.opts.MaxOutstanding && s.opts.Timeout <= 0 {
			s.mu.Unlock()
			return nil, ErrQueueFull
		}
	case Suspend:
		if outstanding >= 2*s.opts.MaxOutstanding {
			s.mu.Unlock()
			return nil, ErrQueueFull
		}
	}

	if s.opts.MaxQueueMemory > 0 && s.queueMemory+estimatedSize > s.opts.MaxQueueMemory {
		s.mu.Unlock()
		return nil, ErrMemoryLimitExceeded
	}

	w := &waiter{
		priority:   priority,
		size:       estimatedSize,
		enqueuedAt: time.Now(),
		ready:      make(chan *Token, 1),
		failure:    make(chan error, 1),
	}
	heap.Push(&s.queue, w)
	s.queueMemory += estimatedSize
	s.mu.Unlock()

	var timeoutC <-chan time.Time
	if s.opts.Strategy == ErrorStrategy && s.opts.Timeout > 0 {
		timer := time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case tok := <-w.ready:
		return tok, nil
	case err := <-w.failure:
		return nil, err
	case <-timeoutC:
		if s.cancelWaiter(w) {
			return nil, ErrTimeout
		}
	case <-ctx.Done():
		if s.cancelWaiter(w) {
			return nil, ErrCancelled
		}
	}
	// Lost the race: the waiter was already served (token on w.ready), or
	// dropped or swept (error on w.failure).
	select {
	case tok := <-w.ready:
		return tok, nil
	case err := <-w.failure:
		return nil, err
	}
}

// cancelWaiter attempts to mark w done and remove it from the queue before
// it is served. Returns true if it won that race (no permit was
// consumed); false means another party already settled w: either a token
// is in flight on w.ready (the caller must receive it), or w was dropped or
// swept and its error is on w.failure.
func (s *Semaphore) cancelWaiter(w *waiter) bool {
	if !w.state.CAS(waiterWaiting, waiterDone) {
		return false
	}
	s.mu.Lock()
	if w.index != -1 {
		heap.Remove(&s.queue, w.index)
		s.queueMemory -= w.size
	}
	s.mu.Unlock()
	return true
}

func (s *Semaphore) newToken() *Token {
	t := &Token{sem: s}
	// A Token dropped without an explicit Release must still release its
	// permit exactly once (spec.md §4.1 invariant ii). The finalizer
	// performs the same synchronous, mutex-guarded mutation as Release --
	// it does not hand off to another goroutine or rely on async cleanup,
	// per the guidance in spec.md §9 against "emergency release in
	// destructor" hazards.
	runtime.SetFinalizer(t, func(t *Token) { t.Release() })
	return t
}

// release hands the permit to the highest-priority waiter, or returns it
// to the free pool if none are queued.
func (s *Semaphore) release() {
	s.mu.Lock()
	for s.queue.Len() > 0 {
		w := heap.Pop(&s.queue).(*waiter)
		s.queueMemory -= w.size
		if w.state.CAS(waiterWaiting, waiterServed) {
			s.mu.Unlock()
			w.ready <- s.newToken()
			return
		}
		// Already cancelled/timed out/dropped; try the next waiter.
	}
	s.active--
	s.mu.Unlock()
}

func (s *Semaphore) sweep() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Semaphore) sweepOnce() {
	deadline := time.Now().Add(-s.opts.WaiterTimeout)
	var expired []*waiter

	s.mu.Lock()
	for _, w := range s.queue {
		if w.enqueuedAt.Before(deadline) {
			expired = append(expired, w)
		}
	}
	for _, w := range expired {
		if w.state.CAS(waiterWaiting, waiterDone) && w.index != -1 {
			heap.Remove(&s.queue, w.index)
			s.queueMemory -= w.size
		}
	}
	s.mu.Unlock()

	for _, w := range expired {
		select {
		case w.failure <- ErrTimeout:
		default:
		}
	}
	if len(expired) > 0 {
		s.opts.Logger.Warn("semaphore waiter timeout swept", zap.Int("count", len(expired)))
	}
}

// Stats reports a point-in-time snapshot for introspection/metrics.
type Stats struct {
	Active int
	Queued int
}

// Stats returns the current active and queued counts.
func (s *Semaphore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Active: s.active, Queued: s.queue.Len()}
}
