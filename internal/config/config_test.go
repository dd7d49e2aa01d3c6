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

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-a
  max_drift: 30s
store:
  path: /tmp/a.db
ingest:
  workers: 8
metrics:
  enabled: false
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.Equal(t, 30*time.Second, cfg.Node.MaxDrift)
	assert.Equal(t, "/tmp/a.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 256, cfg.Ingest.QueueSize, "default")
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Node.ID)
	assert.Equal(t, time.Minute, cfg.Node.MaxDrift)
	assert.Equal(t, "recsync.db", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "node:\n  id: from-file\n")
	t.Setenv("RECSYNC_NODE_ID", "from-env")
	t.Setenv("RECSYNC_DB", "/tmp/env.db")
	t.Setenv("RECSYNC_WORKERS", "2")
	t.Setenv("RECSYNC_MAX_DRIFT", "5s")
	t.Setenv("RECSYNC_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node.ID)
	assert.Equal(t, "/tmp/env.db", cfg.Store.Path)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	assert.Equal(t, 5*time.Second, cfg.Node.MaxDrift)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestApplyEnvironmentOverrides_IgnoresGarbage(t *testing.T) {
	cfg := Default()
	env := map[string]string{"RECSYNC_WORKERS": "many", "RECSYNC_MAX_DRIFT": "soon"}
	applyEnvironmentOverrides(cfg, func(k string) string { return env[k] })

	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, time.Minute, cfg.Node.MaxDrift)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "nodes:\n  id: a\n"},
		{"bad yaml", "node: [\n"},
		{"bad workers", "ingest:\n  workers: -1\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad metrics path", "metrics:\n  path: metrics\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.Logger(&buf, false)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	logger = LoggingConfig{Level: "warn", Format: "text"}.Logger(&buf, true)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}
