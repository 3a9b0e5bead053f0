// Package metricsink adapts dispatch.MetricsSink onto
// github.com/uber-go/tally, the metrics library the teacher wires in at
// its own Dispatcher config boundary (config.go's Config.Tally
// tally.Scope field).
package metricsink

import (
	"time"

	"github.com/uber-go/tally"

	"github.com/riftlabs/dispatch"
)

// Sink adapts a tally.Scope to dispatch.MetricsSink.
type Sink struct {
	scope tally.Scope
}

// New constructs a Sink rooted at scope.
func New(scope tally.Scope) *Sink {
	return &Sink{scope: scope}
}

var _ dispatch.MetricsSink = (*Sink)(nil)

// IncrCounter implements dispatch.MetricsSink.
func (s *Sink) IncrCounter(name string, tags map[string]string, delta int64) {
	s.scope.Tagged(tags).Counter(name).Inc(delta)
}

// RecordTiming implements dispatch.MetricsSink.
func (s *Sink) RecordTiming(name string, tags map[string]string, d time.Duration) {
	s.scope.Tagged(tags).Timer(name).Record(d)
}

// RecordGauge implements dispatch.MetricsSink.
func (s *Sink) RecordGauge(name string, tags map[string]string, value float64) {
	s.scope.Tagged(tags).Gauge(name).Update(value)
}

// RecordHistogram implements dispatch.MetricsSink, per spec.md §6's
// record_counter|gauge|timer|histogram surface. Buckets are
// tally.DefaultBuckets; callers needing custom boundaries should
// construct their own tally.Scope with a bucketed reporter and wrap it
// in a Sink of their own.
func (s *Sink) RecordHistogram(name string, tags map[string]string, value float64) {
	s.scope.Tagged(tags).Histogram(name, tally.DefaultBuckets).RecordValue(value)
}
