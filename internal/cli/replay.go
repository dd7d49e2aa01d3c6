package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/materialize"
	"github.com/roach88/recsync/internal/merge"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Shuffles int
	Seed     int64
	Rebuild  bool
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Operations int      `json:"operations"`
	Rejected   int      `json:"rejected"`
	Records    int      `json:"records"`
	Orders     int      `json:"orders"`
	Converged  bool     `json:"converged"`
	Reference  string   `json:"reference"`
	Digest     string   `json:"digest"`
	Rebuilt    bool     `json:"rebuilt,omitempty"`
	Diverged   []string `json:"diverged,omitempty"`
}

// Replay references: what every order is compared against.
const (
	referenceRegisters = "registers"
	referenceStored    = "stored"
)

// replayOrder is one delivery order of the log.
type replayOrder struct {
	name  string
	index []int
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the operation log and verify convergence",
		Long: `Rebuild the registers from the operation log in several delivery orders
and verify every order reaches the same state.

The log is replayed in stored order, in reverse, and in --shuffles seeded
random orders, each on a fresh register store. Every result must also equal
the register snapshot persisted alongside the log. When the configured
models reject some logged operations, the snapshot still holds their
writes, so the stored-order replay is the reference instead.

With --rebuild, a converged replay then discards the persisted registers
and materialized records and rebuilds both from the log.

Exit codes:
  0 - Every order converged
  1 - Some order diverged
  2 - Command error (database not found, etc.)

Examples:
  recsync replay --db ./recsync.db
  recsync replay --db ./recsync.db --shuffles 50 --seed 42
  recsync replay --db ./recsync.db --rebuild
  recsync replay --db ./recsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().IntVar(&opts.Shuffles, "shuffles", 8, "number of shuffled orders to replay")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "seed for shuffled orders")
	cmd.Flags().BoolVar(&opts.Rebuild, "rebuild", false, "rebuild registers and records from the log after a converged replay")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd)

	if opts.Shuffles < 0 {
		return NewExitError(ExitCommandError, "--shuffles must not be negative")
	}

	reg, err := loadRegistry(opts.config())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	st, err := store.Open(opts.dbPath(opts.Database))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ops, err := st.ReadOperations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operation log", err)
	}

	durable := register.NewStore()
	if _, err := st.LoadRegisters(ctx, durable); err != nil {
		return WrapExitError(ExitCommandError, "failed to load registers", err)
	}

	orders := replayOrders(len(ops), opts.Shuffles, opts.Seed)
	digests := make([][]byte, len(orders))
	replayed := make([]*register.Store, len(orders))
	rejected := make([]int, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	for i, order := range orders {
		g.Go(func() error {
			regs, n, err := replayInOrder(gctx, reg, ops, order.index, logger)
			if err != nil {
				return err
			}
			digests[i], err = regs.Canonical()
			replayed[i] = regs
			rejected[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	reference, records := referenceRegisters, durable.Len()
	want, err := durable.Canonical()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode registers", err)
	}
	if rejected[0] > 0 {
		reference, records = referenceStored, replayed[0].Len()
		want = digests[0]
		logger.Warn("logged operations rejected by current models; comparing against stored-order replay",
			"rejected", rejected[0])
	}

	result := ReplayResult{
		Operations: len(ops),
		Rejected:   rejected[0],
		Records:    records,
		Orders:     len(orders),
		Converged:  true,
		Reference:  reference,
		Digest:     ir.HashWithDomain(ir.DomainState, want),
	}
	for i, order := range orders {
		if !bytes.Equal(digests[i], want) {
			result.Converged = false
			result.Diverged = append(result.Diverged, order.name)
			formatter.VerboseLog("order %s diverged:\n  want %s\n  got  %s", order.name, want, digests[i])
		}
	}

	if opts.Rebuild && result.Converged {
		if err := rebuild(ctx, st, reg, ops, replayed[0]); err != nil {
			return WrapExitError(ExitCommandError, "rebuild failed", err)
		}
		result.Rebuilt = true
		logger.Info("store rebuilt from operation log", "operations", len(ops), "records", replayed[0].Len())
	}

	return outputReplay(formatter, result)
}

// rebuild clears the derived tables, recommits every logged operation the
// registry accepts, and materializes the visible records of regs.
func rebuild(ctx context.Context, st *store.Store, reg *schema.Registry, ops []op.Operation, regs *register.Store) error {
	if err := st.Reset(ctx); err != nil {
		return err
	}
	for _, o := range ops {
		if reg.Validate(o) != nil {
			continue
		}
		if _, err := st.Commit(ctx, o); err != nil {
			return err
		}
	}

	var err error
	regs.Range(func(k register.Key, s register.State) bool {
		if !s.Visible() {
			return true
		}
		err = st.Materialize(ctx, materialize.RecordFromState(k, s, nil))
		return err == nil
	})
	return err
}

// replayInOrder applies ops in the given order to a fresh register store.
// It returns the number of operations the registry rejected.
func replayInOrder(ctx context.Context, reg *schema.Registry, ops []op.Operation, order []int, logger *slog.Logger) (*register.Store, int, error) {
	regs := register.NewStore()
	engine := merge.New(reg, regs, merge.WithLogger(logger))
	rejected := 0
	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if _, err := engine.Apply(ops[i]); err != nil {
			rejected++
		}
	}
	return regs, rejected, nil
}

func replayOrders(n, shuffles int, seed int64) []replayOrder {
	stored := make([]int, n)
	for i := range stored {
		stored[i] = i
	}
	reversed := slices.Clone(stored)
	slices.Reverse(reversed)

	orders := []replayOrder{{"stored", stored}, {"reverse", reversed}}
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	for i := range shuffles {
		orders = append(orders, replayOrder{fmt.Sprintf("shuffle-%d", i+1), rng.Perm(n)})
	}
	return orders
}

func outputReplay(formatter *OutputFormatter, result ReplayResult) error {
	if formatter.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Converged {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    CodeDiverged,
				Message: fmt.Sprintf("%d of %d order(s) diverged", len(result.Diverged), result.Orders),
			}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
	} else {
		formatter.Printf("Replayed %d operation(s) in %d order(s): %d record(s), %d rejected\n",
			result.Operations, result.Orders, result.Records, result.Rejected)
		formatter.VerboseLog("state digest %s", result.Digest)
		if result.Reference == referenceStored {
			formatter.Printf("Persisted registers hold writes of rejected operations; compared against stored order\n")
		}
		if result.Rebuilt {
			formatter.Printf("Rebuilt registers and records from the log\n")
		}
		if result.Converged {
			formatter.Printf("✓ All orders converged\n")
		} else {
			formatter.Printf("✗ Diverged: %v\n", result.Diverged)
		}
	}

	if !result.Converged {
		return NewExitError(ExitFailure, fmt.Sprintf("%d order(s) diverged", len(result.Diverged)))
	}
	return nil
}
