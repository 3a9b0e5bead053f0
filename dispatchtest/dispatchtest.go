// Package dispatchtest provides helpers shared across this module's test
// suites: goroutine-leak detection (grounded on the teacher's own
// yarpctest helper package convention of a dedicated testing-support
// package) and small fakes for the collaborator interfaces in package
// dispatch.
package dispatchtest

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/riftlabs/dispatch"
)

// VerifyNoLeaks returns a func that fails t if any goroutine other than the
// calling one is still running, ignoring the background goroutines goleak
// treats as standard and any goroutine whose top frame is time.Sleep. Call
// as:
//
//	defer dispatchtest.VerifyNoLeaks(t)()
func VerifyNoLeaks(t *testing.T) func() {
	t.Helper()
	return func() {
		goleak.VerifyNone(t,
			goleak.IgnoreTopFunction("time.Sleep"),
		)
	}
}

// RecordingAuditSink collects every AuditEvent for later assertions.
type RecordingAuditSink struct {
	Events []dispatch.AuditEvent
}

// RecordAuditEvent implements dispatch.AuditSink.
func (r *RecordingAuditSink) RecordAuditEvent(e dispatch.AuditEvent) {
	r.Events = append(r.Events, e)
}

// RecordingEventSink collects every emitted event name and its fields.
type RecordingEventSink struct {
	Names  []string
	Fields []map[string]interface{}
}

// Event implements dispatch.EventSink.
func (r *RecordingEventSink) Event(name string, fields map[string]interface{}) {
	r.Names = append(r.Names, name)
	r.Fields = append(r.Fields, fields)
}

// FixedClock is a minimal time source for tests needing deterministic
// scheduling decisions outside of a package's own injected now func.
type FixedClock struct {
	Now time.Time
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.Now = c.Now.Add(d)
}
