package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	History  bool
}

// RecordOutput is one materialized record.
type RecordOutput struct {
	Model    string         `json:"model"`
	RecordID string         `json:"record_id"`
	Fields   ir.IRObject    `json:"fields,omitempty"`
	History  []op.Operation `json:"history,omitempty"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [model [record-id]]",
		Short: "Print materialized records",
		Long: `Print the visible records of the store at --db.

With no argument every record is listed; with a model only that model's
records; with a model and id the single record. --history adds the logged
operations of a single record, in log order, whether or not it is visible.

Examples:
  recsync show --db ./recsync.db
  recsync show --db ./recsync.db tag
  recsync show --db ./recsync.db tag 0190a4f2-... --history`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "include the operation log of a single record")

	return cmd
}

func runShow(ctx context.Context, opts *ShowOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	if opts.History && len(args) != 2 {
		return NewExitError(ExitCommandError, "--history needs a model and a record id")
	}

	st, err := store.Open(opts.dbPath(opts.Database))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if len(args) == 2 {
		return showRecord(ctx, st, args[0], args[1], opts.History, formatter)
	}

	model := ""
	if len(args) == 1 {
		model = args[0]
	}
	rows, err := st.ListRecords(ctx, model)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list records", err)
	}

	out := make([]RecordOutput, 0, len(rows))
	for _, row := range rows {
		out = append(out, RecordOutput{Model: row.Key.Model, RecordID: row.Key.RecordID.String(), Fields: row.Fields})
	}

	if formatter.IsJSON() {
		return formatter.Success(out)
	}
	if len(out) == 0 {
		formatter.Printf("No records found.\n")
		return nil
	}
	for _, rec := range out {
		printRecord(formatter, rec)
	}
	return nil
}

func showRecord(ctx context.Context, st *store.Store, model, rawID string, history bool, formatter *OutputFormatter) error {
	id, err := op.ParseRecordID(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid record id", err)
	}
	key := register.Key{Model: model, RecordID: id}
	rec := RecordOutput{Model: model, RecordID: id.String()}

	fields, err := st.ReadRecord(ctx, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to read record", err)
	default:
		rec.Fields = fields
	}

	if history {
		rec.History, err = st.History(ctx, key)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
	}

	if rec.Fields == nil && len(rec.History) == 0 {
		msg := fmt.Sprintf("record not found: %s", key)
		_ = formatter.Error(CodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	if formatter.IsJSON() {
		return formatter.Success(rec)
	}
	if rec.Fields == nil {
		formatter.Printf("%s/%s (not visible)\n", rec.Model, rec.RecordID)
	} else {
		printRecord(formatter, rec)
	}
	for _, o := range rec.History {
		formatter.Printf("  %s\n", o)
	}
	return nil
}

func printRecord(formatter *OutputFormatter, rec RecordOutput) {
	formatter.Printf("%s/%s %s\n", rec.Model, rec.RecordID, ir.MustMarshalCanonical(rec.Fields))
}
