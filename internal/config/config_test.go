package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetEnv(t, "JOBPILOT_STORE", "JOBPILOT_JOB_TIMEOUT", "JOBPILOT_LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.NotEmpty(t, cfg.StateFile)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JOBPILOT_STORE", "Redis")
	t.Setenv("JOBPILOT_JOB_TIMEOUT", "30s")
	t.Setenv("JOBPILOT_LOG_LEVEL", "debug")
	t.Setenv("JOBPILOT_STATE_FILE", "/tmp/state.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "/tmp/state.json", cfg.StateFile)
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job queued", "job_id", "abc")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "job_id=abc")
	assert.Contains(t, file.String(), `"job_id":"abc"`)
}

func TestSetupLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, closeLog := SetupLogger(path, slog.LevelInfo)
	logger.Info("daemon started", "addr", ":8484")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"addr":":8484"`)
}
