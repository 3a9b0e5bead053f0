// Package middlewares provides the cross-cutting command middlewares:
// validation, authorization, security policy, rate limiting, resilience,
// parallel fan-out, audit logging, and field encryption. Each middleware
// is a dispatch.Middleware implementation at a fixed priority band.
package middlewares

import (
	"github.com/riftlabs/dispatch"
)

// Validatable is implemented by commands that can check their own
// well-formedness. A command without this capability passes through
// unchecked.
type Validatable interface {
	Validate() error
}

// ValidationReason names why a Validation error was raised.
type ValidationReason string

// Validation reasons.
const (
	ReasonMissingRequired ValidationReason = "MissingRequired"
	ReasonOutOfRange      ValidationReason = "OutOfRange"
	ReasonMalformed       ValidationReason = "Malformed"
)

// FieldError carries the field name and reason behind a Validation error,
// attached as the dispatch.Error's Cause rather than only folded into the
// message string, so callers can recover it with errors.As and branch on it
// programmatically.
type FieldError struct {
	Field  string
	Reason ValidationReason
}

// Error implements the error interface so FieldError can be wrapped as an
// *dispatch.Error's Cause.
func (f FieldError) Error() string {
	return string(f.Reason) + ": " + f.Field
}

// Validation checks commands implementing Validatable before the rest of
// the chain runs, grounded on the teacher's encoding-layer pattern of
// wrapping a raw decode/validation failure into a typed error at the
// boundary (see encoding/*/inbound.go's error wrapping).
type Validation struct{}

// NewValidation constructs the validation middleware.
func NewValidation() Validation { return Validation{} }

// Priority implements dispatch.Middleware.
func (Validation) Priority() dispatch.Priority { return dispatch.PriorityValidation }

// Execute implements dispatch.Middleware.
func (Validation) Execute(ctx *dispatch.Context, cmd interface{}, next dispatch.Next) (interface{}, error) {
	if v, ok := cmd.(Validatable); ok {
		if err := v.Validate(); err != nil {
			if fe, ok := err.(FieldError); ok {
				return nil, dispatch.Wrap(dispatch.KindValidation, fe.Error(), fe)
			}
			return nil, dispatch.Wrap(dispatch.KindValidation, err.Error(), err)
		}
	}
	return next(cmd)
}
