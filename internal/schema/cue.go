package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileModel parses a CUE model definition into a Model.
//
// The CUE value is the model struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: tag: { fields: { name: string }, required: ["name"] }`)
//	m, err := CompileModel(v.LookupPath(cue.ParsePath("model.tag")))
//
// The model name is the struct label. Field types come from the CUE kinds;
// a field whose kind admits null (`string | null`) is nullable.
func CompileModel(v cue.Value) (Model, error) {
	if err := v.Err(); err != nil {
		return Model{}, formatCUEError(err)
	}

	var m Model
	if labels := v.Path().Selectors(); len(labels) > 0 {
		m.Name = labels[len(labels)-1].String()
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return Model{}, &CompileError{Field: "fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields(cue.Optional(true))
	if err != nil {
		return Model{}, formatCUEError(err)
	}
	for iter.Next() {
		f, err := compileField(iter.Label(), iter.Value())
		if err != nil {
			return Model{}, err
		}
		m.Fields = append(m.Fields, f)
	}

	m.Required, err = stringList(v, "required")
	if err != nil {
		return Model{}, err
	}
	m.Updatable, err = stringList(v, "updatable")
	if err != nil {
		return Model{}, err
	}

	m = m.normalized()
	if err := m.check(); err != nil {
		var se *Error
		if errors.As(err, &se) {
			return Model{}, &CompileError{Field: "model." + m.Name, Message: se.Message + fieldSuffix(se.Field), Pos: v.Pos()}
		}
		return Model{}, err
	}
	return m, nil
}

func fieldSuffix(field string) string {
	if field == "" {
		return ""
	}
	return " (" + field + ")"
}

func compileField(name string, v cue.Value) (Field, error) {
	kind := v.IncompleteKind()
	f := Field{Name: name, Nullable: kind&cue.NullKind != 0}

	typ, err := fieldType(kind&^cue.NullKind, v)
	if err != nil {
		return Field{}, err
	}
	f.Type = typ
	return f, nil
}

// fieldType converts a CUE kind to a FieldType.
// Floats are forbidden: values must encode identically on every replica.
func fieldType(kind cue.Kind, v cue.Value) (FieldType, error) {
	switch kind {
	case cue.StringKind:
		return TypeString, nil
	case cue.IntKind:
		return TypeInt, nil
	case cue.BoolKind:
		return TypeBool, nil
	case cue.ListKind:
		return TypeArray, nil
	case cue.StructKind:
		return TypeObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func stringList(v cue.Value, path string) ([]string, error) {
	listVal := v.LookupPath(cue.ParsePath(path))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError is a model compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

// Load error codes, shared with the CLI.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
	ErrCodeInvalidType = "E010"
	ErrCodeBadModel    = "E011"
)

// LoadError is an error found while loading a model directory.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult holds the models compiled from a directory.
type LoadResult struct {
	Models    []Model
	FileCount int
}

// LoadDir compiles every `model: <name>: {...}` definition in the CUE
// package at dir. All compile errors are collected; models that compile are
// returned alongside them.
func LoadDir(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	var errs []error

	modelsVal := value.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no models found"}}
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating models: %v", err)}}
	}
	for iter.Next() {
		m, compileErr := CompileModel(iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "model."+iter.Label()))
			continue
		}
		result.Models = append(result.Models, m)
	}
	return result, errs
}

// RegisterDir loads dir and registers every model it defines.
func (r *Registry) RegisterDir(dir string) ([]Model, error) {
	result, errs := LoadDir(dir)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, m := range result.Models {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return result.Models, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		code := ErrCodeBadModel
		switch compileErr.Field {
		case "type":
			code = ErrCodeInvalidType
		case "cue":
			code = ErrCodeBuildFailed
		}
		return &LoadError{
			Code:    code,
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
