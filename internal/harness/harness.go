package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/materialize"
	"github.com/roach88/recsync/internal/merge"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/records"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/replica"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/store"
)

// harnessNode stamps nothing; it only names the replica the scenario runs on.
const harnessNode clock.NodeID = "harness"

// maxPermuted is the longest scenario whose every delivery order is checked.
const maxPermuted = 6

// Option configures a run.
type Option func(*runner)

// WithLogger sends engine and store logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

type runner struct {
	logger   *slog.Logger
	registry *schema.Registry
	ops      []op.Operation
	result   *Result
}

// Run executes a scenario and checks its assertions.
//
// A returned error means the scenario could not be run at all. Failed
// checks are reported in Result.Errors with Pass unset.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: &Result{Pass: true},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.registry = records.NewRegistry()
	for _, dir := range s.Schemas {
		if _, err := r.registry.RegisterDir(dir); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", dir, err)
		}
	}

	ops, err := s.Build()
	if err != nil {
		return nil, err
	}
	r.ops = ops

	baseline, err := r.runDurable(ctx)
	if err != nil {
		return nil, err
	}
	r.result.Records = recordStates(baseline)

	for i, step := range s.Operations {
		rejected := r.result.Trace[i].Outcome == OutcomeRejected
		switch {
		case step.Reject && !rejected:
			r.result.AddError("operations[%d]: expected rejection, got %s", i, r.result.Trace[i].Outcome)
		case !step.Reject && rejected:
			r.result.AddError("operations[%d]: unexpected rejection: %s", i, r.result.Trace[i].Error)
		}
	}

	if err := r.checkConvergence(baseline, orders(len(ops), s.Shuffles, s.Seed)); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(s, r.result) {
		r.result.AddError("%s", msg)
	}
	return r.result, nil
}

// runDurable applies the operations in declared order through a replica
// backed by an in-memory store, then checks the store agrees with memory.
func (r *runner) runDurable(ctx context.Context) (*register.Store, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	regs := register.NewStore()
	dispatcher := materialize.NewDispatcher(regs, st, materialize.WithDispatcherLogger(r.logger))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(runCtx)
	}()

	rep := replica.New(harnessNode, r.registry,
		replica.WithDurable(st),
		replica.WithSink(dispatcher),
		replica.WithRegisters(regs),
		replica.WithLogger(r.logger),
		replica.WithClockOptions(clock.WithMaxDrift(0)),
	)

	for i, o := range r.ops {
		event := TraceEvent{Index: i, Op: o.String()}
		res, err := rep.Ingest(ctx, o)
		switch {
		case err == nil && res.Accepted():
			event.Outcome = OutcomeApplied
			event.Changed = res.Changed
		case err == nil:
			event.Outcome = OutcomeDominated
		case op.IsSerializationError(err) || schema.IsViolation(err):
			event.Outcome = OutcomeRejected
			event.Error = err.Error()
		default:
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		r.result.Trace = append(r.result.Trace, event)
	}

	dispatcher.Close()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}

	if err := r.checkMaterialized(ctx, st, regs); err != nil {
		return nil, err
	}
	if err := r.checkRecovery(ctx, st, regs); err != nil {
		return nil, err
	}
	return regs, nil
}

// checkMaterialized compares the records table with the visible records.
func (r *runner) checkMaterialized(ctx context.Context, st *store.Store, regs *register.Store) error {
	rows, err := st.ListRecords(ctx, "")
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	table := ir.IRArray{}
	for _, row := range rows {
		table = append(table, ir.IRObject{"key": ir.IRString(row.Key.String()), "fields": row.Fields})
	}
	visible := ir.IRArray{}
	regs.Range(func(k register.Key, state register.State) bool {
		if state.Visible() {
			visible = append(visible, ir.IRObject{"key": ir.IRString(k.String()), "fields": state.Values()})
		}
		return true
	})

	if !ir.Equal(table, visible) {
		r.result.AddError("materialized records diverged from registers:\n  registers: %s\n  table:     %s",
			ir.MustMarshalCanonical(visible), ir.MustMarshalCanonical(table))
	}
	return nil
}

// checkRecovery rebuilds a replica from the store alone and compares.
func (r *runner) checkRecovery(ctx context.Context, st *store.Store, regs *register.Store) error {
	fresh := replica.New(harnessNode, r.registry,
		replica.WithDurable(st),
		replica.WithLogger(r.logger),
		replica.WithClockOptions(clock.WithMaxDrift(0)),
	)
	if _, err := fresh.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	want, err := fingerprint(regs)
	if err != nil {
		return err
	}
	got, err := fingerprint(fresh.Registers())
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		r.result.AddError("recovered registers diverged:\n  want %s\n  got  %s", want, got)
	}
	return nil
}

// checkConvergence replays the operations in each order on a fresh engine
// and requires the registers to match the baseline byte for byte.
func (r *runner) checkConvergence(baseline *register.Store, orders [][]int) error {
	want, err := fingerprint(baseline)
	if err != nil {
		return err
	}

	r.result.Orders = 1
	for _, order := range orders {
		regs := register.NewStore()
		engine := merge.New(r.registry, regs, merge.WithLogger(r.logger))
		for _, idx := range order {
			// Rejections were already recorded by the baseline run.
			_, _ = engine.Apply(r.ops[idx])
		}

		got, err := fingerprint(regs)
		if err != nil {
			return err
		}
		r.result.Orders++
		if !bytes.Equal(want, got) {
			r.result.AddError("order %v diverged:\n  want %s\n  got  %s", order, want, got)
		}
	}
	return nil
}

// orders returns the delivery orders checked besides the declared one:
// the reverse, the reverse delivered twice, every permutation of a short
// scenario, and shuffles seeded orders.
func orders(n, shuffles int, seed int64) [][]int {
	identity := make([]int, n)
	for i := range identity {
		identity[i] = i
	}

	reversed := slices.Clone(identity)
	slices.Reverse(reversed)
	out := [][]int{reversed, append(slices.Clone(reversed), reversed...)}

	if n <= maxPermuted {
		out = append(out, permutations(identity)...)
	}

	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	for range shuffles {
		out = append(out, rng.Perm(n))
	}
	return out
}

// permutations returns every ordering of xs (Heap's algorithm).
func permutations(xs []int) [][]int {
	a := slices.Clone(xs)
	var out [][]int
	var generate func(k int)
	generate = func(k int) {
		if k <= 1 {
			out = append(out, slices.Clone(a))
			return
		}
		generate(k - 1)
		for i := 0; i < k-1; i++ {
			if k%2 == 0 {
				a[i], a[k-1] = a[k-1], a[i]
			} else {
				a[0], a[k-1] = a[k-1], a[0]
			}
			generate(k - 1)
		}
	}
	generate(len(a))
	return out
}

func fingerprint(regs *register.Store) ([]byte, error) {
	out, err := regs.Canonical()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	return out, nil
}
