package middlewares

import (
	"time"

	"github.com/riftlabs/dispatch"
)

// Audit emits CommandStarted/CommandCompleted/CommandFailed-equivalent
// records to an AuditSink, grounded on internal/observability's begin/end
// call-graph timer (call.go's call.started/call.End pattern) generalized
// from RPC edges to command executions.
type Audit struct {
	sink dispatch.AuditSink
}

// NewAudit constructs the audit middleware.
func NewAudit(sink dispatch.AuditSink) *Audit {
	return &Audit{sink: sink}
}

// Priority implements dispatch.Middleware.
func (*Audit) Priority() dispatch.Priority { return dispatch.PriorityMonitoring }

// Execute implements dispatch.Middleware.
func (a *Audit) Execute(ctx *dispatch.Context, cmd interface{}, next dispatch.Next) (interface{}, error) {
	started := time.Now()
	md := ctx.Metadata()
	cmdType := commandTypeName(cmd)

	if a.sink != nil {
		a.sink.RecordAuditEvent(dispatch.AuditEvent{
			CommandType:   cmdType,
			UserID:        md.UserID,
			CorrelationID: md.CorrelationID,
			Outcome:       dispatch.AuditOutcomeStarted,
			Timestamp:     started,
		})
	}

	res, err := next(cmd)

	evt := dispatch.AuditEvent{
		CommandType:   cmdType,
		UserID:        md.UserID,
		CorrelationID: md.CorrelationID,
		Duration:      time.Since(started),
		Timestamp:     started,
		Err:           err,
	}
	if err != nil {
		evt.Outcome = dispatch.AuditOutcomeFailed
	} else {
		evt.Outcome = dispatch.AuditOutcomeCompleted
	}
	if a.sink != nil {
		a.sink.RecordAuditEvent(evt)
	}
	return res, err
}
