package component

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name          string
		componentName string
		engineID      string
		nc            *nats.Conn
		wantEnabled   bool
	}{
		{
			name:          "with NATS connection",
			componentName: "device:dmm-bench-1",
			engineID:      "bench",
			nc:            &nats.Conn{}, // Mock connection
			wantEnabled:   true,
		},
		{
			name:          "without NATS connection",
			componentName: "device:dmm-bench-1",
			engineID:      "bench",
			nc:            nil,
			wantEnabled:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := NewLogger(tt.componentName, tt.engineID, tt.nc, logger)

			assert.Equal(t, tt.componentName, cl.componentName)
			assert.Equal(t, tt.engineID, cl.engineID)
			assert.Equal(t, tt.wantEnabled, cl.enabled)
			assert.Equal(t, logger, cl.logger)
		})
	}
}

func TestLogger_DisabledPublishing(t *testing.T) {
	// Create logger without NATS connection
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cl := NewLogger("device:dmm-bench-1", "bench", nil, logger)

	assert.False(t, cl.enabled, "Logger should be disabled without NATS")

	// These should not panic even without NATS connection
	cl.Debug("debug message")
	cl.Info("info message")
	cl.Warn("warning message")
	cl.Error("error message", fmt.Errorf("test error"))
}

func TestLogger_NilSlogLogger(t *testing.T) {
	cl := NewLogger("device:dmm-bench-1", "bench", nil, nil)

	// Local logging is optional too
	cl.Info("info message")
	cl.Error("error message", fmt.Errorf("test error"))
}

func TestLogEntry_JSONMarshaling(t *testing.T) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     LogLevelInfo,
		Component: "device:dmm-bench-1",
		EngineID:  "bench",
		Message:   "test message",
		Stack:     "optional stack trace",
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded LogEntry
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, entry.Timestamp, decoded.Timestamp)
	assert.Equal(t, entry.Level, decoded.Level)
	assert.Equal(t, entry.Component, decoded.Component)
	assert.Equal(t, entry.EngineID, decoded.EngineID)
	assert.Equal(t, entry.Message, decoded.Message)
	assert.Equal(t, entry.Stack, decoded.Stack)
}

func TestLogEntry_JSONMarshaling_NoStack(t *testing.T) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     LogLevelInfo,
		Component: "device:dmm-bench-1",
		EngineID:  "bench",
		Message:   "test message",
		// Stack omitted
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	// Verify stack is omitted in JSON
	var raw map[string]interface{}
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	_, hasStack := raw["stack"]
	assert.False(t, hasStack, "Empty stack should be omitted from JSON")
}
