package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/metrics"
)

func TestServe_IngestsStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "recsync.db")
	cmd := NewServeCommand(testOptions("text"))
	cmd.SetIn(strings.NewReader(strings.Join([]string{createTag, updateColor, deleteOther}, "\n")))

	out, err := execute(cmd, "--db", db, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 3 operation(s): 3 processed, 0 failed, 2 record(s)")

	out, err = execute(NewShowCommand(testOptions("text")), "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "tag/"+tagID+` {"color":"blue","name":"Work"}`+"\n", out)
}

func TestServe_ReportsFailures(t *testing.T) {
	db := filepath.Join(t.TempDir(), "recsync.db")
	feed := writeFeed(t, createTag, "{", badField)

	out, err := execute(NewServeCommand(testOptions("json")), "--db", db, "--input", feed)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   ServeResult `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRejected, resp.Error.Code)
	assert.Equal(t, uint64(2), resp.Data.Submitted)
	assert.Equal(t, uint64(2), resp.Data.Processed)
	assert.Equal(t, uint64(2), resp.Data.Failed)
	assert.Len(t, resp.Data.Errors, 2)
}

func TestServe_WithMetricsServer(t *testing.T) {
	opts := testOptions("text")
	opts.Config.Metrics.Enabled = true
	db := filepath.Join(t.TempDir(), "recsync.db")

	cmd := NewServeCommand(opts)
	cmd.SetIn(strings.NewReader(createTag + "\n"))

	out, err := execute(cmd, "--db", db, "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 1 operation(s)")
}

func TestServe_NegativeWorkers(t *testing.T) {
	_, err := execute(NewServeCommand(testOptions("text")), "--workers", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServe_MissingInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "recsync.db")
	_, err := execute(NewServeCommand(testOptions("text")), "--db", db, "--input", "/nonexistent/ops.jsonl")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMetricsServer_Routes(t *testing.T) {
	m := metrics.New("test-node")
	m.DuplicateOperation()
	srv := newMetricsServer("127.0.0.1:0", "/metrics", m.Handler())

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recsync_")

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestWaitForShutdown(t *testing.T) {
	ingested := make(chan struct{})
	close(ingested)

	done := make(chan struct{})
	go func() {
		waitForShutdown(context.Background(), ingested, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForShutdown did not return after ingestion finished")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	waitForShutdown(ctx, make(chan struct{}), true)
}
