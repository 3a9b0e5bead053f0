package eventsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSinkLogsEventWithFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := New(zap.New(core))

	s.Event("circuit_open", map[string]interface{}{"command": "CreateUser"})

	entries := logs.TakeAll()
	assert.Len(t, entries, 1)
	assert.Equal(t, "dispatch event", entries[0].Message)
}
