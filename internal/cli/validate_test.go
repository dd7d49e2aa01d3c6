package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noteModel = `package models

model: note: {
	fields: {
		title:  string
		pinned: bool
	}
	required:  ["title"]
	updatable: ["title", "pinned"]
}
`

// writeModels writes src as models.cue in a temp dir.
func writeModels(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.cue"), []byte(src), 0644))
	return dir
}

func TestValidateValidModels(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions("text")), writeModels(t, noteModel))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All models valid: [note]")
}

func TestValidateValidModelsJSON(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions("json")), writeModels(t, noteModel))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"note"}, resp.Data.Models)
}

func TestValidateHarnessSchemas(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "schemas")
	_, err := execute(NewValidateCommand(testOptions("text")), dir)
	require.NoError(t, err)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(testOptions("text")), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005") // ErrCodeNotFound
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(NewValidateCommand(testOptions("text")), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E003") // ErrCodeNoFiles
}

func TestValidateFloatField(t *testing.T) {
	src := `package models

model: note: {
	fields: {
		score: float
	}
	required:  []
	updatable: []
}
`
	out, err := execute(NewValidateCommand(testOptions("text")), writeModels(t, src))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E010")
}

func TestValidateConflictWithBuiltin(t *testing.T) {
	src := `package models

model: tag: {
	fields: {
		label: string
	}
	required:  ["label"]
	updatable: []
}
`
	out, err := execute(NewValidateCommand(testOptions("json")), writeModels(t, src))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E011", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "tag")
}
