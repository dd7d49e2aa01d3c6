package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/config"
)

const (
	tagID   = "00000000-0000-7000-8000-000000000001"
	otherID = "00000000-0000-7000-8000-000000000002"
)

var (
	createTag   = `{"record_id":"` + tagID + `","model":"tag","type":"Create","timestamp":1000,"node_id":"node-a","data":{"name":"Work"}}`
	updateColor = `{"record_id":"` + tagID + `","model":"tag","type":"Update","timestamp":2000,"node_id":"node-b","field":"color","value":"blue"}`
	deleteOther = `{"record_id":"` + otherID + `","model":"tag","type":"Delete","timestamp":1500,"node_id":"node-a"}`
	badField    = `{"record_id":"` + tagID + `","model":"tag","type":"Update","timestamp":3000,"node_id":"node-a","field":"nickname","value":"w"}`
)

// testOptions returns root options on defaults with metrics disabled.
func testOptions(format string) *RootOptions {
	cfg := config.Default()
	cfg.Node.ID = "test-node"
	cfg.Metrics.Enabled = false
	return &RootOptions{Format: format, Config: cfg}
}

// writeFeed writes lines as a JSONL file in a temp dir.
func writeFeed(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

// execute runs cmd with args and returns its stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedDB applies lines to a fresh database and returns its path.
func seedDB(t *testing.T, lines ...string) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "recsync.db")
	_, err := execute(NewApplyCommand(testOptions("text")), "--db", db, writeFeed(t, lines...))
	require.NoError(t, err)
	return db
}

// bufferFormatter captures formatter output.
type bufferFormatter struct {
	bytes.Buffer
}

func (b *bufferFormatter) formatter(format string) *OutputFormatter {
	return &OutputFormatter{Format: format, Writer: &b.Buffer}
}
