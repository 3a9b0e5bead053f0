// Package breaker implements a three-state circuit breaker gating calls to
// an unreliable operation.
package breaker

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is the externally observable state of a Breaker.
type State int

const (
	// Closed allows all calls through.
	Closed State = iota
	// Open rejects all calls until the open duration elapses.
	Open
	// HalfOpen allows a probe of calls through to test recovery.
	HalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker's thresholds.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// FailureThreshold is the number of consecutive failures (in Closed) or
	// a single failure (in HalfOpen) that trips the breaker open.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes required in
	// HalfOpen before the breaker closes.
	SuccessThreshold int

	// OpenDuration is how long the breaker stays Open before probing.
	OpenDuration time.Duration

	// Logger receives state transition events. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Breaker is a concurrency-safe circuit breaker implementing the FSM in
// spec §4.2. ShouldAllow is the gating query (its only side effect is
// promoting an expired Open to HalfOpen); RecordSuccess/RecordFailure report
// the outcome of a call the caller already decided to make.
type Breaker struct {
	cfg Config

	state     atomic.Int32 // State
	openUntil atomic.Int64 // UnixNano; valid while state == Open
	failures  atomic.Int32 // consecutive failures while Closed
	successes atomic.Int32 // consecutive successes while HalfOpen

	now func() time.Time
}

// New constructs a Breaker, applying defaults for zero-valued fields.
func New(cfg Config) *Breaker {
	cfg.setDefaults()
	b := &Breaker{cfg: cfg, now: time.Now}
	b.state.Store(int32(Closed))
	return b
}

// State returns the current FSM state. If the breaker is Open and the open
// duration has elapsed, this reports HalfOpen without mutating state --
// the transition is only committed by the next ShouldAllow call, matching
// the "multiple probes observe the same transition" allowance in spec §4.2.
func (b *Breaker) State() State {
	s := State(b.state.Load())
	if s == Open && b.now().UnixNano() >= b.openUntil.Load() {
		return HalfOpen
	}
	return s
}

// ShouldAllow reports whether a call may proceed, promoting Open to
// HalfOpen on the first caller to observe the expired timer.
func (b *Breaker) ShouldAllow() bool {
	s := State(b.state.Load())
	switch s {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if b.now().UnixNano() < b.openUntil.Load() {
			return false
		}
		// Timer expired: promote to HalfOpen. Multiple concurrent callers
		// may race here; all of them are admitted as probes, but only one
		// outcome updates the half-open counters per call.
		if b.state.CAS(int32(Open), int32(HalfOpen)) {
			b.successes.Store(0)
			b.cfg.Logger.Info("circuit breaker half-open",
				zap.String("name", b.cfg.Name))
		}
		return true
	default:
		return true
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	switch State(b.state.Load()) {
	case Closed:
		b.failures.Store(0)
	case HalfOpen:
		n := b.successes.Inc()
		if int(n) >= b.cfg.SuccessThreshold {
			if b.state.CAS(int32(HalfOpen), int32(Closed)) {
				b.failures.Store(0)
				b.successes.Store(0)
				b.cfg.Logger.Info("circuit breaker closed", zap.String("name", b.cfg.Name))
			}
		}
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	switch State(b.state.Load()) {
	case Closed:
		n := b.failures.Inc()
		if int(n) >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state.Store(int32(Open))
	b.openUntil.Store(b.now().Add(b.cfg.OpenDuration).UnixNano())
	b.successes.Store(0)
	b.cfg.Logger.Warn("circuit breaker open",
		zap.String("name", b.cfg.Name),
		zap.Duration("open_duration", b.cfg.OpenDuration))
}
