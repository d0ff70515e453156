package logger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.log")
	log, err := NewLogger(LoggingConfig{Level: level, Format: "json", OutputPath: path})
	require.NoError(t, err)
	return log, path
}

func readEntries(t *testing.T, log *Logger, path string) []map[string]any {
	t.Helper()
	_ = log.Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_JSONFields(t *testing.T) {
	log, path := newFileLogger(t, "info")

	log.WithRun("thread-1", "run-1").
		WithFields(zap.String("component", "runner")).
		Info("run started", zap.Int("turns", 2))
	log.Debug("hidden")
	log.WithError(errors.New("boom")).Warn("failed")

	entries := readEntries(t, log, path)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "run started", first["msg"])
	assert.Equal(t, "thread-1", first["thread_id"])
	assert.Equal(t, "run-1", first["run_id"])
	assert.Equal(t, "runner", first["component"])
	assert.EqualValues(t, 2, first["turns"])
	assert.Contains(t, first, "timestamp")

	assert.Equal(t, "warn", entries[1]["level"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestWithContext(t *testing.T) {
	log, path := newFileLogger(t, "debug")

	ctx := ContextWithRun(context.Background(), "thread-2", "run-2")
	ctx = ContextWithRequestID(ctx, "req-9")
	log.WithContext(ctx).Debug("tagged")
	log.WithContext(context.Background()).Debug("plain")

	entries := readEntries(t, log, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "thread-2", entries[0]["thread_id"])
	assert.Equal(t, "run-2", entries[0]["run_id"])
	assert.Equal(t, "req-9", entries[0]["request_id"])
	assert.NotContains(t, entries[1], "request_id")
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, path := newFileLogger(t, "loud")
	log.Debug("dropped")
	log.Info("kept")

	entries := readEntries(t, log, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
}
