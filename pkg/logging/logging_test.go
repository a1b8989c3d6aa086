package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.level.String())
	}
}

func TestInfoIncludesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Info("Lifecycle", "service %s started", "web")

	out := buf.String()
	assert.Contains(t, out, "subsystem=Lifecycle")
	assert.Contains(t, out, "service web started")
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Debug("Monitor", "tick")

	assert.Empty(t, buf.String())
}

func TestErrorIncludesErrorAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("Runtime", errors.New("docker not found"), "start failed for %s", "web")

	out := buf.String()
	assert.Contains(t, out, "error=")
	assert.Contains(t, out, "docker not found")
	assert.True(t, strings.Contains(out, "level=ERROR"))
}
