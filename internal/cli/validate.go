package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recsync/internal/records"
	"github.com/roach88/recsync/internal/schema"
)

// ValidationError is one problem found in a model directory.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Models []string          `json:"models,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate CUE model definitions",
		Long: `Compile every model definition in a CUE package and check it can be
registered next to the built-in record types.

Exit codes:
  0 - Every model is valid
  1 - Some model is invalid or conflicts with a registered one
  2 - Command error (directory not found, no CUE files, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	loadResult, loadErrors := schema.LoadDir(dir)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil {
		var loadErr *schema.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, schema.ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	var validationErrors []ValidationError
	for _, err := range loadErrors {
		validationErrors = append(validationErrors, toValidationError(err))
	}

	reg := records.NewRegistry()
	result := ValidationResult{}
	for _, m := range loadResult.Models {
		formatter.VerboseLog("Validating model: %s", m.Name)
		if err := reg.Register(m); err != nil {
			validationErrors = append(validationErrors, ValidationError{Code: schema.ErrCodeBadModel, Message: err.Error()})
			continue
		}
		result.Models = append(result.Models, m.Name)
	}

	if len(validationErrors) > 0 {
		result.Errors = validationErrors
		return outputValidationErrors(formatter, result)
	}

	result.Valid = true
	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	formatter.Printf("✓ All models valid: %v\n", result.Models)
	return nil
}

func toValidationError(err error) ValidationError {
	var loadErr *schema.LoadError
	if !errors.As(err, &loadErr) {
		return ValidationError{Code: schema.ErrCodeGeneric, Message: err.Error()}
	}
	v := ValidationError{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		v.File = loadErr.Pos.Filename()
		v.Line = loadErr.Pos.Line()
	}
	return v
}

// outputValidateError outputs a command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs invalid models.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.IsJSON() {
		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	formatter.Printf("✗ Validation failed\n\n")
	for _, err := range errs {
		if err.Line > 0 {
			formatter.Printf("%s:%d\n", err.File, err.Line)
		}
		formatter.Printf("  %s: %s\n\n", err.Code, err.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
