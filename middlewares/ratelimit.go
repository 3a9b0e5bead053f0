package middlewares

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/riftlabs/dispatch"
)

// RateLimitStrategyKind selects which of the three bucket algorithms a
// RateLimiter instance enforces, per spec.md §6.
type RateLimitStrategyKind int

// Rate limit strategies.
const (
	TokenBucket RateLimitStrategyKind = iota
	SlidingWindow
	Adaptive
)

// RateLimitScope selects how the per-bucket identifier is derived.
type RateLimitScope int

// Rate limit scopes.
const (
	ScopeGlobal RateLimitScope = iota
	ScopePerUser
	ScopePerCommand
	ScopePerIP
)

// IdentifierFunc overrides the default scope-derived identifier.
type IdentifierFunc func(ctx *dispatch.Context, cmd interface{}) string

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	Strategy RateLimitStrategyKind
	Scope    RateLimitScope

	// TokenBucket
	Capacity   int
	RefillRate float64 // tokens per second

	// SlidingWindow
	Window      time.Duration
	MaxInWindow int

	// Adaptive: the refill rate is BaseRate * LoadFn() tokens per second,
	// re-evaluated each call; the burst is Capacity, or 1 if Capacity is
	// unset. LoadFn should return a multiplier in (0, 1], where 1 means
	// unloaded and smaller values throttle harder.
	BaseRate float64
	LoadFn   func() float64

	Identifier IdentifierFunc

	// IdleTimeout bounds how long an unused bucket survives before the
	// sweeper evicts it. Defaults to 10 minutes.
	IdleTimeout time.Duration
	// SweepInterval is how often the sweeper runs. Defaults to 1 minute.
	SweepInterval time.Duration
}

func (c *RateLimitConfig) setDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

// RateLimitError carries the remaining-quota diagnostics spec.md §4.8
// attaches to RateLimitExceeded.
type RateLimitError struct {
	Remaining int
	ResetAt   time.Time
}

func (e RateLimitError) Error() string { return "rate limit exceeded" }

// slidingWindowBucket is a fixed-window counter: simpler than a sliding log
// and adequate for the bounded-admission property in spec.md §8 property 4.
type slidingWindowBucket struct {
	windowStart time.Time
	count       int
}

type bucketEntry struct {
	mu         sync.Mutex
	limiter    *rate.Limiter // TokenBucket, Adaptive
	window     slidingWindowBucket // SlidingWindow
	lastUsed   time.Time
}

// RateLimiter enforces one RateLimitConfig across per-identifier buckets,
// created lazily on first use and evicted by a background sweeper when
// idle, grounded on the teacher's x/ratelimit package (wrapping
// golang.org/x/time/rate, already an indirect teacher dependency) and the
// periodic-sweep idiom shared with internal/semaphore's waiter sweeper.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucketEntry

	stop chan struct{}
	done chan struct{}
}

// NewRateLimiter constructs and starts a RateLimiter's idle-bucket sweeper.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.setDefaults()
	r := &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucketEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Close stops the idle-bucket sweeper.
func (r *RateLimiter) Close() {
	close(r.stop)
	<-r.done
}

// Priority implements dispatch.Middleware.
func (*RateLimiter) Priority() dispatch.Priority { return dispatch.PriorityPreProcessing }

func (r *RateLimiter) identifier(ctx *dispatch.Context, cmd interface{}) string {
	if r.cfg.Identifier != nil {
		return r.cfg.Identifier(ctx, cmd)
	}
	switch r.cfg.Scope {
	case ScopePerUser:
		return "user:" + ctx.Metadata().UserID
	case ScopePerCommand:
		return "command:" + commandTypeName(cmd)
	case ScopePerIP:
		return "ip:" + ctx.Metadata().Custom["client_ip"]
	default:
		return "global"
	}
}

// Execute implements dispatch.Middleware.
func (r *RateLimiter) Execute(ctx *dispatch.Context, cmd interface{}, next dispatch.Next) (interface{}, error) {
	id := r.identifier(ctx, cmd)

	r.mu.Lock()
	b, ok := r.buckets[id]
	if !ok {
		b = &bucketEntry{lastUsed: time.Now()}
		if r.cfg.Strategy != SlidingWindow {
			b.limiter = rate.NewLimiter(rate.Limit(r.effectiveRate()), r.effectiveBurst())
		}
		r.buckets[id] = b
	}
	r.mu.Unlock()

	b.mu.Lock()
	b.lastUsed = time.Now()
	var allowed bool
	var remaining int
	var resetAt time.Time

	switch r.cfg.Strategy {
	case TokenBucket:
		allowed = b.limiter.Allow()
		remaining = int(b.limiter.Tokens())
		// spec.md §9: timeToNextToken is a hardcoded 1s placeholder, not a
		// derivation from the limiter's actual refill schedule.
		resetAt = time.Now().Add(time.Second)
	case Adaptive:
		b.limiter.SetLimit(rate.Limit(r.effectiveRate()))
		allowed = b.limiter.Allow()
		remaining = int(b.limiter.Tokens())
		resetAt = time.Now().Add(time.Second)
	case SlidingWindow:
		now := time.Now()
		if now.Sub(b.window.windowStart) >= r.cfg.Window {
			b.window.windowStart = now
			b.window.count = 0
		}
		if b.window.count < r.cfg.MaxInWindow {
			b.window.count++
			allowed = true
		}
		remaining = r.cfg.MaxInWindow - b.window.count
		resetAt = b.window.windowStart.Add(r.cfg.Window)
	}
	b.mu.Unlock()

	if !allowed {
		return nil, dispatch.Wrap(dispatch.KindRateLimitExceeded, "rate limit exceeded",
			RateLimitError{Remaining: remaining, ResetAt: resetAt})
	}
	return next(cmd)
}

func (r *RateLimiter) effectiveRate() float64 {
	if r.cfg.Strategy == Adaptive {
		load := 1.0
		if r.cfg.LoadFn != nil {
			load = r.cfg.LoadFn()
		}
		return r.cfg.BaseRate * load
	}
	return r.cfg.RefillRate
}

func (r *RateLimiter) effectiveBurst() int {
	if r.cfg.Strategy == Adaptive {
		if r.cfg.Capacity > 0 {
			return r.cfg.Capacity
		}
		return 1
	}
	return r.cfg.Capacity
}

func (r *RateLimiter) sweep() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-r.stop:
			return
		}
	}
}

func (r *RateLimiter) sweepOnce() {
	deadline := time.Now().Add(-r.cfg.IdleTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.buckets {
		b.mu.Lock()
		idle := b.lastUsed.Before(deadline)
		b.mu.Unlock()
		if idle {
			delete(r.buckets, id)
		}
	}
}

func commandTypeName(cmd interface{}) string {
	type named interface{ CommandName() string }
	if n, ok := cmd.(named); ok {
		return n.CommandName()
	}
	return "unknown"
}
