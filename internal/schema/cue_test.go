package schema

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileModelBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		model: tag: {
			fields: {
				name:   string
				color?: string | null
			}
			required:  ["name"]
			updatable: ["name", "color"]
		}
	`)
	require.NoError(t, v.Err())

	m, err := CompileModel(v.LookupPath(cue.ParsePath("model.tag")))
	require.NoError(t, err)

	assert.Equal(t, tagModel().normalized(), m)
}

func TestCompileModelAllTypes(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		model: kinds: fields: {
			s: string
			i: int
			b: bool
			a: [...string]
			o: {...}
			n: int | null
		}
	`)
	require.NoError(t, v.Err())

	m, err := CompileModel(v.LookupPath(cue.ParsePath("model.kinds")))
	require.NoError(t, err)

	want := map[string]Field{
		"s": {Name: "s", Type: TypeString},
		"i": {Name: "i", Type: TypeInt},
		"b": {Name: "b", Type: TypeBool},
		"a": {Name: "a", Type: TypeArray},
		"o": {Name: "o", Type: TypeObject},
		"n": {Name: "n", Type: TypeInt, Nullable: true},
	}
	for name, f := range want {
		got, ok := m.Field(name)
		require.True(t, ok, name)
		assert.Equal(t, f, got)
	}
	assert.Empty(t, m.Required)
	assert.Empty(t, m.Updatable)
}

func TestCompileModelRejectsFloat(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		model: volume: fields: {
			total_capacity: float
		}
	`)
	require.NoError(t, v.Err())

	_, err := CompileModel(v.LookupPath(cue.ParsePath("model.volume")))
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "type", ce.Field)
	assert.Contains(t, ce.Message, "float")
}

func TestCompileModelRejectsNumber(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`model: volume: fields: size: number`)
	require.NoError(t, v.Err())

	_, err := CompileModel(v.LookupPath(cue.ParsePath("model.volume")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
}

func TestCompileModelMissingFields(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`model: empty: required: []`)
	require.NoError(t, v.Err())

	_, err := CompileModel(v.LookupPath(cue.ParsePath("model.empty")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields are required")
}

func TestCompileModelUndeclaredRequired(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		model: tag: {
			fields: name: string
			required: ["color"]
		}
	`)
	require.NoError(t, v.Err())

	_, err := CompileModel(v.LookupPath(cue.ParsePath("model.tag")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required field is not declared")
	assert.Contains(t, err.Error(), "color")
}

func writeCUE(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "tag.cue", `
package models

model: tag: {
	fields: {
		name:   string
		color?: string | null
	}
	required:  ["name"]
	updatable: ["name", "color"]
}
`)
	writeCUE(t, dir, "note.cue", `
package models

model: note: {
	fields: body: string
	updatable: ["body"]
}
`)

	result, errs := LoadDir(dir)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Models, 2)

	names := []string{result.Models[0].Name, result.Models[1].Name}
	assert.ElementsMatch(t, []string{"tag", "note"}, names)
}

func TestLoadDirCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "models.cue", `
package models

model: good: fields: name: string
model: bad: fields: ratio: float
`)

	result, errs := LoadDir(dir)
	require.Len(t, errs, 1)
	require.NotNil(t, result)
	require.Len(t, result.Models, 1)
	assert.Equal(t, "good", result.Models[0].Name)

	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeInvalidType, le.Code)
	assert.Contains(t, le.Message, "model.bad")
}

func TestLoadDirErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, errs := LoadDir(filepath.Join(t.TempDir(), "nope"))
		require.Len(t, errs, 1)
		var le *LoadError
		require.ErrorAs(t, errs[0], &le)
		assert.Equal(t, ErrCodeNotFound, le.Code)
	})

	t.Run("no cue files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0644))
		_, errs := LoadDir(dir)
		require.Len(t, errs, 1)
		var le *LoadError
		require.ErrorAs(t, errs[0], &le)
		assert.Equal(t, ErrCodeNoFiles, le.Code)
	})

	t.Run("no models", func(t *testing.T) {
		dir := t.TempDir()
		writeCUE(t, dir, "empty.cue", "package models\n\nother: 1\n")
		_, errs := LoadDir(dir)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "no models found")
	})
}

func TestRegisterDir(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "tag.cue", `
package models

model: tag: {
	fields: {
		name:   string
		color?: string | null
	}
	required:  ["name"]
	updatable: ["name", "color"]
}
`)

	r := newTagRegistry(t)
	models, err := r.RegisterDir(dir)
	require.NoError(t, err)
	assert.Len(t, models, 1)

	conflicting := t.TempDir()
	writeCUE(t, conflicting, "tag.cue", "package models\n\nmodel: tag: fields: name: int\n")
	_, err = r.RegisterDir(conflicting)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}
