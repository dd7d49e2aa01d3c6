package merge

import (
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/recsync/internal/metrics"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/register"
)

// Validator checks an operation against the schema registry.
// Implemented by *schema.Registry.
type Validator interface {
	Validate(o op.Operation) error
}

// Change is the notification emitted after an accepted apply.
type Change struct {
	Key              register.Key
	Changed          []string
	TombstoneChanged bool
}

// Sink receives change notifications. Notify is called synchronously
// from Apply while no lock is held, and must not block.
type Sink interface {
	Notify(Change)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Change)

// Notify implements Sink.
func (f SinkFunc) Notify(c Change) { f(c) }

// Result describes what one Apply did.
type Result struct {
	Key  register.Key
	Kind op.Kind

	// Changed lists the field registers the operation overwrote, sorted.
	Changed []string

	// Fields holds the new register of every changed field.
	Fields map[string]register.Register

	// LivenessChanged is set when the liveness register was overwritten.
	// Liveness then holds its new value.
	LivenessChanged bool
	Liveness        register.Liveness

	// TombstoneChanged is set when the record's visibility flipped.
	TombstoneChanged bool

	// Visible is the record's visibility after the apply.
	Visible bool
}

// Accepted reports whether any register changed.
func (r Result) Accepted() bool {
	return len(r.Changed) > 0 || r.LivenessChanged
}

// Engine applies operations to a register store.
//
// Thread-safety: Apply is safe for concurrent use. Operations on the same
// record are serialized by the register store; operations on different
// records proceed in parallel.
type Engine struct {
	validator Validator
	registers *register.Store
	sink      Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the change notification sink.
func WithSink(s Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithMetrics records apply outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine validating with v and writing to registers.
func New(v Validator, registers *register.Store, opts ...Option) *Engine {
	e := &Engine{
		validator: v,
		registers: registers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registers returns the store the engine writes to.
func (e *Engine) Registers() *register.Store {
	return e.registers
}

// Apply merges o into the register store.
//
// A malformed or unstamped operation fails with *op.SerializationError and
// a schema-invalid one with *schema.Error; either way nothing is written.
// No other error is possible: an unknown record is created lazily and an
// out-of-order operation is settled by dominance.
func (e *Engine) Apply(o op.Operation) (Result, error) {
	start := time.Now()

	if err := e.check(o); err != nil {
		e.reject(o, err, start)
		return Result{}, err
	}

	key := register.KeyOf(o)
	res := Result{Key: key, Kind: o.Kind}

	e.registers.Update(key, func(tx *register.Tx) {
		before := tx.State().Visible()

		switch o.Kind {
		case op.KindCreate:
			for _, field := range o.Data.SortedKeys() {
				if tx.ApplyField(field, o.Data[field], o.Stamp) {
					res.Changed = append(res.Changed, field)
				}
			}
			res.LivenessChanged = tx.ApplyAlive(o.Stamp)
		case op.KindUpdate:
			if tx.ApplyField(o.Field, o.Value, o.Stamp) {
				res.Changed = append(res.Changed, o.Field)
			}
			res.LivenessChanged = tx.ApplyAlive(o.Stamp)
		case op.KindDelete:
			res.LivenessChanged = tx.ApplyTombstone(o.Stamp)
		}

		after := tx.State()
		res.Visible = after.Visible()
		res.TombstoneChanged = before != res.Visible
		res.Liveness = after.Liveness
		if len(res.Changed) > 0 {
			res.Fields = make(map[string]register.Register, len(res.Changed))
			for _, field := range res.Changed {
				res.Fields[field] = after.Fields[field]
			}
		}
	})

	outcome := metrics.OutcomeDominated
	if res.Accepted() {
		outcome = metrics.OutcomeApplied
	}
	e.metrics.ObserveApply(o.Model, string(o.Kind), outcome, len(res.Changed), time.Since(start))

	e.logger.Debug("operation applied",
		"record_id", o.RecordID.String(),
		"model", o.Model,
		"type", string(o.Kind),
		"stamp", o.Stamp.String(),
		"changed", res.Changed,
		"visible", res.Visible,
	)

	if e.sink != nil && (len(res.Changed) > 0 || res.TombstoneChanged) {
		e.sink.Notify(Change{Key: key, Changed: res.Changed, TombstoneChanged: res.TombstoneChanged})
	}
	return res, nil
}

func (e *Engine) check(o op.Operation) error {
	if err := o.Check(); err != nil {
		return err
	}
	if !o.Stamp.Valid() {
		return &op.SerializationError{Field: "timestamp", Message: "operation is not stamped"}
	}
	return e.validator.Validate(o)
}

func (e *Engine) reject(o op.Operation, err error, start time.Time) {
	e.metrics.ObserveApply(o.Model, string(o.Kind), metrics.OutcomeRejected, 0, time.Since(start))
	e.logger.Warn("operation rejected",
		"record_id", o.RecordID.String(),
		"model", o.Model,
		"type", string(o.Kind),
		"error", err,
	)
}

// ApplyAll applies every operation in order. A rejected operation does not
// stop the others; the returned error joins every rejection.
func (e *Engine) ApplyAll(ops []op.Operation) ([]Result, error) {
	results := make([]Result, len(ops))
	var errs []error
	for i, o := range ops {
		res, err := e.Apply(o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[i] = res
	}
	return results, errors.Join(errs...)
}
