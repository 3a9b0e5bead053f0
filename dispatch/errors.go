// Package dispatch implements the command dispatch and middleware pipeline
// runtime core: typed commands flow through an ordered chain of middleware
// before reaching a registered handler. The bus/registry/pipeline types are
// adapted from go.uber.org/yarpc's register.go (MapRegistry) and
// internal/outboundmiddleware/inboundmiddleware chain composition,
// generalized from "RPC procedure dispatch" to "typed command dispatch".
package dispatch

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// ErrorKind names a stable category of failure, surfaced to callers per
// spec.md §6.
type ErrorKind string

// Error kinds enumerated in spec.md §6.
const (
	KindHandlerNotFound      ErrorKind = "HandlerNotFound"
	KindMaxDepthExceeded     ErrorKind = "MaxDepthExceeded"
	KindExecutionFailed      ErrorKind = "ExecutionFailed"
	KindMiddlewareError      ErrorKind = "MiddlewareError"
	KindTimeout              ErrorKind = "Timeout"
	KindRetryExhausted       ErrorKind = "RetryExhausted"
	KindCancelled            ErrorKind = "Cancelled"
	KindValidation           ErrorKind = "Validation"
	KindAuthorization        ErrorKind = "Authorization"
	KindSecurityPolicy       ErrorKind = "SecurityPolicy"
	KindEncryption           ErrorKind = "Encryption"
	KindRateLimitExceeded    ErrorKind = "RateLimitExceeded"
	KindCircuitBreakerOpen   ErrorKind = "CircuitBreakerOpen"
	KindBackPressure         ErrorKind = "BackPressure"
	KindNextAlreadyCalled    ErrorKind = "NextAlreadyCalled"
	KindNextCurrentlyExec    ErrorKind = "NextCurrentlyExecuting"
	KindNextNeverCalled      ErrorKind = "NextNeverCalled"
)

// ErrorContext carries the diagnostic attributes spec.md §7 associates with
// an Error.
type ErrorContext struct {
	CommandType    string
	MiddlewareType string
	CorrelationID  string
	UserID         string
	Timestamp      time.Time
}

// Error is the single error taxonomy of spec.md §7: every failure surfaced
// by this module carries a stable Kind, a human Message, classification
// bits, and an optional Cause and Context.
type Error struct {
	Kind         ErrorKind
	Message      string
	Retryable    bool
	Security     bool
	Cancellation bool
	Context      *ErrorContext
	Cause        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As against Cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, wrapping cause. If cause is
// already an *Error and retains its own Kind, the original Kind is
// preserved in Cause's chain via Unwrap rather than lost.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext attaches diagnostic context and returns the receiver for
// chaining, mirroring the functional-options style used elsewhere in this
// module.
func (e *Error) WithContext(ctx *ErrorContext) *Error {
	e.Context = ctx
	return e
}

// AsRetryable marks the error retryable and returns the receiver.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// IsRetryable reports whether err is classified retryable per spec.md §7:
// back-pressure and circuit-open errors are retryable by default;
// validation, authorization, and security-policy errors are not.
func IsRetryable(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Retryable
	}
	return false
}

// IsCancellation reports whether err represents cancellation.
func IsCancellation(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Cancellation
	}
	return false
}

// IsSecurity reports whether err originates from a security-relevant
// middleware (validation, authorization, security policy, encryption).
func IsSecurity(err error) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		switch e.Kind {
		case KindValidation, KindAuthorization, KindSecurityPolicy, KindEncryption:
			return true
		}
		return e.Security
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Combine joins multiple simultaneous failures into one error using
// go.uber.org/multierr, the teacher's own aggregate-error dependency,
// rather than the hand-rolled errorGroup in the teacher's errors.go. No
// component in this module calls it itself: FanOut reports only the first
// sibling error, and the semaphore has no shutdown drain.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

func retryableErr(kind ErrorKind, message string) *Error {
	return NewError(kind, message).AsRetryable()
}

// ErrHandlerNotFound builds the error surfaced when send/execute targets an
// unregistered command type.
func ErrHandlerNotFound(typeName string) *Error {
	return NewError(KindHandlerNotFound, fmt.Sprintf("no handler registered for command type %q", typeName))
}

// ErrMaxDepthExceeded builds the error surfaced when a middleware list would
// exceed its configured max depth.
func ErrMaxDepthExceeded(depth, max int) *Error {
	return NewError(KindMaxDepthExceeded, fmt.Sprintf("middleware depth %d exceeds max %d", depth, max))
}

// ErrCancelled builds a Cancelled error tagged with where cancellation was
// observed (spec.md §4.5 "Cancelled(where)").
func ErrCancelled(where string) *Error {
	e := NewError(KindCancelled, fmt.Sprintf("cancelled at %s", where))
	e.Cancellation = true
	return e
}

// ErrCircuitOpen builds the CircuitBreakerOpen error, which is retryable.
func ErrCircuitOpen() *Error {
	return retryableErr(KindCircuitBreakerOpen, "circuit breaker open")
}

// ErrBackPressure builds a BackPressure error of the given sub-kind
// ("QueueFull", "Timeout", "Dropped", "MemoryPressure"), which is retryable.
func ErrBackPressure(subKind, message string) *Error {
	return retryableErr(KindBackPressure, fmt.Sprintf("%s: %s", subKind, message))
}
