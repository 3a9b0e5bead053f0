// Package eventsink adapts dispatch.EventSink onto go.uber.org/zap,
// grounded on internal/observability's structured zap field building
// (call.go's endLogs assembling a fixed-size zapcore.Field slice per
// call) generalized from RPC call logging to arbitrary named events.
package eventsink

import (
	"go.uber.org/zap"

	"github.com/riftlabs/dispatch"
)

// Sink adapts a zap.Logger to dispatch.EventSink, logging each event at
// Info level with its properties flattened into zap fields.
type Sink struct {
	logger *zap.Logger
}

// New constructs a Sink backed by logger.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

var _ dispatch.EventSink = (*Sink)(nil)

// Event implements dispatch.EventSink.
func (s *Sink) Event(name string, fields map[string]interface{}) {
	zf := make([]zap.Field, 0, len(fields)+1)
	zf = append(zf, zap.String("event", name))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	s.logger.Info("dispatch event", zf...)
}
