package dispatch

import "time"

// MetricsSink receives point-in-time counters, timings, gauges and
// histograms. The middlewares, Pipeline and Bus in this module do not emit
// to a MetricsSink themselves; it is the binding point for callers' own
// metric emission. The default adapter lives in package metricsink, backed
// by github.com/uber-go/tally.
type MetricsSink interface {
	IncrCounter(name string, tags map[string]string, delta int64)
	RecordTiming(name string, tags map[string]string, d time.Duration)
	RecordGauge(name string, tags map[string]string, value float64)
	RecordHistogram(name string, tags map[string]string, value float64)
}

// AuditSink receives structured audit events from the audit middleware.
// No production adapter is provided in this module; package dispatchtest
// has an in-memory RecordingAuditSink for tests.
type AuditSink interface {
	RecordAuditEvent(evt AuditEvent)
}

// Audit outcome kinds, per spec.md §4.8's CommandStarted/CommandCompleted/
// CommandFailed record kinds.
const (
	AuditOutcomeStarted   = "started"
	AuditOutcomeCompleted = "completed"
	AuditOutcomeFailed    = "failed"
)

// AuditEvent is one recorded audit entry, per spec.md §4.8. The audit
// middleware records one AuditOutcomeStarted event before the downstream
// chain runs, and one AuditOutcomeCompleted or AuditOutcomeFailed event
// after it returns; Duration and Err are populated on the latter only.
type AuditEvent struct {
	CommandType   string
	UserID        string
	CorrelationID string
	Outcome       string
	Duration      time.Duration
	Timestamp     time.Time
	Err           error
}

// KeyStore resolves and rotates named encryption keys for the encryption
// middleware, per spec.md §6's current_key/key(id)/store(key,id)/
// remove_expired_before(ts) surface. No in-repo implementation is
// provided; callers supply one backed by their own secrets
// infrastructure, per spec.md §9.
type KeyStore interface {
	// CurrentKey returns the key that should be used to seal new
	// ciphertext, along with its id so the id can be recorded alongside
	// the ciphertext for later lookup.
	CurrentKey() (key []byte, id string, err error)

	// Key resolves the key with the given id, for opening ciphertext that
	// was sealed under a (possibly since-rotated-out) earlier key.
	Key(id string) ([]byte, error)

	// Store registers key under id, making it resolvable by Key and a
	// candidate for CurrentKey.
	Store(key []byte, id string) error

	// RemoveExpiredBefore deletes every key whose expiry precedes ts.
	// Ciphertext still sealed under a removed key can no longer be
	// opened; callers are responsible for re-encrypting ahead of
	// rotation if that data must remain readable.
	RemoveExpiredBefore(ts time.Time) error
}

// EventSink receives lifecycle/diagnostic events not tied to a specific
// audit trail, such as middleware state transitions. The default adapter
// lives in package eventsink.
type EventSink interface {
	Event(name string, fields map[string]interface{})
}
