package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/recsync/internal/op"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database string
}

// ApplyResult summarizes an apply run.
type ApplyResult struct {
	Read      int      `json:"read"`
	Applied   int      `json:"applied"`
	Dominated int      `json:"dominated"`
	Rejected  int      `json:"rejected"`
	Malformed int      `json:"malformed"`
	Errors    []string `json:"errors,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <ops.jsonl|->",
		Short: "Merge an operation file into the store",
		Long: `Read newline-delimited JSON operations and merge each one into the
replica persisted at --db.

Operations already merged are harmless to apply again. Malformed lines and
operations the schema rejects are reported and skipped.

Exit codes:
  0 - Every operation was merged
  1 - Some lines were malformed or rejected
  2 - Command error (unreadable input, database error, etc.)

Examples:
  recsync apply --db ./recsync.db ops.jsonl
  cat ops.jsonl | recsync apply --db ./recsync.db -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runApply(ctx context.Context, opts *ApplyOptions, input string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	var r io.Reader = cmd.InOrStdin()
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open operation file", err)
		}
		defer f.Close()
		r = f
	}

	sess, err := openSession(ctx, opts.config(), opts.dbPath(opts.Database), opts.logger(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	result, applyErr := applyFeed(ctx, sess, op.NewDecoder(r), formatter)
	if err := sess.Close(); err != nil && applyErr == nil {
		applyErr = WrapExitError(ExitCommandError, "failed to close database", err)
	}
	if applyErr != nil {
		return applyErr
	}

	failed := result.Rejected + result.Malformed
	if formatter.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: CodeRejected, Message: fmt.Sprintf("%d operation(s) not merged", failed)}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
	} else {
		formatter.Printf("Read %d operation(s): %d applied, %d dominated, %d rejected, %d malformed\n",
			result.Read, result.Applied, result.Dominated, result.Rejected, result.Malformed)
		for _, e := range result.Errors {
			formatter.Printf("  %s\n", e)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) not merged", failed))
	}
	return nil
}

func applyFeed(ctx context.Context, sess *session, dec *op.Decoder, formatter *OutputFormatter) (ApplyResult, error) {
	result := ApplyResult{}
	for {
		o, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			if !op.IsSerializationError(err) {
				return result, WrapExitError(ExitCommandError, "failed to read operations", err)
			}
			result.Malformed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Read++

		res, err := sess.replica.Ingest(ctx, o)
		if err != nil {
			if isRejection(err) {
				result.Rejected++
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", dec.Line(), err))
				continue
			}
			return result, WrapExitError(ExitCommandError, "failed to persist operation", err)
		}
		if res.Accepted() {
			result.Applied++
			formatter.VerboseLog("applied %s changed=%v", o, res.Changed)
		} else {
			result.Dominated++
			formatter.VerboseLog("dominated %s", o)
		}
	}
}
