package replica

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/merge"
	"github.com/roach88/recsync/internal/metrics"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/schema"
)

// Durable is the persistence a replica needs. Implemented by *store.Store.
type Durable interface {
	Commit(ctx context.Context, o op.Operation) (bool, error)
	LoadRegisters(ctx context.Context, dst *register.Store) (int, error)
	ReadOperations(ctx context.Context) ([]op.Operation, error)
	MaxStamp(ctx context.Context) (clock.Stamp, error)
}

// Replica is one node's view of the shared records.
//
// Thread-safety: every method is safe for concurrent use.
type Replica struct {
	clock     *clock.HLC
	registry  *schema.Registry
	registers *register.Store
	engine    *merge.Engine
	durable   Durable
	sink      merge.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// unsynced holds keys whose last accepted change failed to persist
	// and so was never forwarded to the sink.
	unsynced *xsync.MapOf[register.Key, struct{}]
}

type options struct {
	durable   Durable
	sink      merge.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clockOpts []clock.Option
	registers *register.Store
}

// Option configures a Replica.
type Option func(*options)

// WithDurable commits every applied operation to d.
func WithDurable(d Durable) Option {
	return func(o *options) {
		o.durable = d
	}
}

// WithSink forwards change notifications, typically to a
// materialize.Dispatcher. A change is forwarded only once the operation
// behind it is durable.
func WithSink(s merge.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithMetrics records apply, drift and persistence outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClockOptions configures the replica's HLC.
func WithClockOptions(opts ...clock.Option) Option {
	return func(o *options) {
		o.clockOpts = append(o.clockOpts, opts...)
	}
}

// WithRegisters uses an existing register store, for example one a
// dispatcher already reads from.
func WithRegisters(s *register.Store) Option {
	return func(o *options) {
		o.registers = s
	}
}

// New creates a replica for node validating against reg.
func New(node clock.NodeID, reg *schema.Registry, opts ...Option) *Replica {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.registers == nil {
		o.registers = register.NewStore()
	}

	return &Replica{
		clock:     clock.New(node, o.clockOpts...),
		registry:  reg,
		registers: o.registers,
		engine:    merge.New(reg, o.registers, merge.WithLogger(o.logger), merge.WithMetrics(o.metrics)),
		durable:   o.durable,
		sink:      o.sink,
		metrics:   o.metrics,
		logger:    o.logger.With("node_id", string(node)),
		unsynced:  xsync.NewMapOf[register.Key, struct{}](),
	}
}

// Node returns the id this replica stamps its operations with.
func (r *Replica) Node() clock.NodeID {
	return r.clock.Node()
}

// Registry returns the schema registry.
func (r *Replica) Registry() *schema.Registry {
	return r.registry
}

// Registers returns the in-memory register store.
func (r *Replica) Registers() *register.Store {
	return r.registers
}

// Clock returns the replica's hybrid logical clock.
func (r *Replica) Clock() *clock.HLC {
	return r.clock
}

// Create records a new record locally. data must hold every required field.
func (r *Replica) Create(ctx context.Context, id op.RecordID, model string, data ir.IRObject) (op.Operation, error) {
	o, err := r.registry.Create(id, model, data)
	if err != nil {
		return op.Operation{}, err
	}
	return r.Local(ctx, o)
}

// Update records a single-field change locally.
func (r *Replica) Update(ctx context.Context, id op.RecordID, model, field string, value ir.IRValue) (op.Operation, error) {
	o, err := r.registry.Update(id, model, field, value)
	if err != nil {
		return op.Operation{}, err
	}
	return r.Local(ctx, o)
}

// Delete records a deletion locally.
func (r *Replica) Delete(ctx context.Context, id op.RecordID, model string) (op.Operation, error) {
	o, err := r.registry.Delete(id, model)
	if err != nil {
		return op.Operation{}, err
	}
	return r.Local(ctx, o)
}

// Local stamps an operation produced on this node, applies it and commits
// it. The stamped operation is returned for broadcast to peers.
// Any stamp o already carries is replaced.
func (r *Replica) Local(ctx context.Context, o op.Operation) (op.Operation, error) {
	stamped := o.WithStamp(r.clock.Now())

	res, err := r.engine.Apply(stamped)
	if err != nil {
		return op.Operation{}, err
	}
	r.logger.Debug("local operation", "op", stamped.String(), "accepted", res.Accepted())
	if err := r.persist(ctx, stamped); err != nil {
		r.hold(res)
		return stamped, err
	}
	r.notify(res)
	return stamped, nil
}

// Ingest merges an operation received from a peer and commits it.
//
// A malformed or schema-invalid operation is rejected and never touches
// the clock. A stamp too far ahead of local time is logged and counted,
// but the operation is still applied: dropping it would break convergence.
//
// A returned persistence error means the merge is not yet durable and
// nothing was forwarded to the sink; the caller may redeliver.
func (r *Replica) Ingest(ctx context.Context, o op.Operation) (merge.Result, error) {
	res, err := r.engine.Apply(o)
	if err != nil {
		return res, err
	}

	if err := r.clock.Observe(o.Stamp); err != nil {
		r.metrics.ClockDrift()
		r.logger.Warn("clock drift",
			"record_id", o.RecordID.String(),
			"model", o.Model,
			"stamp", o.Stamp.String(),
			"error", err,
		)
	}

	if err := r.persist(ctx, o); err != nil {
		r.hold(res)
		return res, err
	}
	r.notify(res)
	return res, nil
}

// hold remembers a change whose persistence failed, so the next durable
// operation on the record forwards it even if that operation is dominated.
func (r *Replica) hold(res merge.Result) {
	if r.sink != nil && changed(res) {
		r.unsynced.Store(res.Key, struct{}{})
	}
}

// notify forwards a durable change to the sink.
func (r *Replica) notify(res merge.Result) {
	if r.sink == nil {
		return
	}
	_, held := r.unsynced.LoadAndDelete(res.Key)
	if !held && !changed(res) {
		return
	}
	r.sink.Notify(merge.Change{
		Key:              res.Key,
		Changed:          res.Changed,
		TombstoneChanged: res.TombstoneChanged || held,
	})
}

func changed(res merge.Result) bool {
	return len(res.Changed) > 0 || res.TombstoneChanged
}

func (r *Replica) persist(ctx context.Context, o op.Operation) error {
	if r.durable == nil {
		return nil
	}

	isNew, err := r.durable.Commit(ctx, o)
	if err != nil {
		r.metrics.PersistFailed()
		r.logger.Error("persist failed",
			"record_id", o.RecordID.String(),
			"model", o.Model,
			"type", string(o.Kind),
			"error", err,
		)
		return fmt.Errorf("persist %s: %w", o, err)
	}
	if !isNew {
		r.metrics.DuplicateOperation()
		r.logger.Debug("duplicate operation", "record_id", o.RecordID.String(), "model", o.Model)
	}
	return nil
}

// Get returns the current field values of a visible record.
func (r *Replica) Get(model string, id op.RecordID) (ir.IRObject, bool) {
	state, ok := r.registers.Get(register.Key{Model: model, RecordID: id})
	if !ok || !state.Visible() {
		return nil, false
	}
	return state.Values(), true
}

// State returns the registers of a record, visible or not.
func (r *Replica) State(model string, id op.RecordID) (register.State, bool) {
	return r.registers.Get(register.Key{Model: model, RecordID: id})
}

// RecoverStats summarizes a Recover call.
type RecoverStats struct {
	Registers  int
	Operations int
	Rejected   int
	MaxStamp   clock.Stamp

	// Rematerialized counts the records re-sent to the sink.
	Rematerialized int
}

// Recover rebuilds in-memory state from the durable store: it loads the
// persisted registers, replays the operation log over them, and advances
// the clock past every logged stamp.
//
// Replay is a merge, so running Recover on a warm replica is harmless.
// Logged operations the current registry rejects are counted and skipped.
//
// With a sink set, every recovered record is then forwarded to it once,
// so a materialized view that missed changes before a crash catches up.
func (r *Replica) Recover(ctx context.Context) (RecoverStats, error) {
	var stats RecoverStats
	if r.durable == nil {
		return stats, nil
	}

	n, err := r.durable.LoadRegisters(ctx, r.registers)
	if err != nil {
		return stats, fmt.Errorf("recover: %w", err)
	}
	stats.Registers = n

	ops, err := r.durable.ReadOperations(ctx)
	if err != nil {
		return stats, fmt.Errorf("recover: %w", err)
	}
	for _, o := range ops {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if _, err := r.engine.Apply(o); err != nil {
			stats.Rejected++
			continue
		}
		stats.Operations++
	}

	latest, err := r.durable.MaxStamp(ctx)
	if err != nil {
		return stats, fmt.Errorf("recover: %w", err)
	}
	stats.MaxStamp = latest
	if !latest.IsZero() {
		if err := r.clock.Observe(latest); err != nil {
			r.metrics.ClockDrift()
			r.logger.Warn("clock drift in recovered log", "stamp", latest.String(), "error", err)
		}
	}

	if r.sink != nil {
		stats.Rematerialized = r.rematerialize()
	}

	r.logger.Info("recovered",
		"registers", stats.Registers,
		"operations", stats.Operations,
		"rejected", stats.Rejected,
		"max_stamp", stats.MaxStamp.String(),
		"rematerialized", stats.Rematerialized,
	)
	return stats, nil
}

// rematerialize forwards the full state of every known record.
func (r *Replica) rematerialize() int {
	r.unsynced.Clear()
	n := 0
	r.registers.Range(func(k register.Key, _ register.State) bool {
		r.sink.Notify(merge.Change{Key: k, TombstoneChanged: true})
		n++
		return true
	})
	return n
}
