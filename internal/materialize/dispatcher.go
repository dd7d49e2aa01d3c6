package materialize

import (
	"context"
	"log/slog"

	"github.com/roach88/recsync/internal/merge"
	"github.com/roach88/recsync/internal/metrics"
	"github.com/roach88/recsync/internal/register"
)

// Dispatcher decouples materialization from the merge decision.
//
// Notify (the merge.Sink side) is safe from any goroutine and never blocks.
// Run must be called from exactly one goroutine.
type Dispatcher struct {
	queue     *changeQueue
	registers *register.Store
	target    Materializer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

var _ merge.Sink = (*Dispatcher)(nil)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics reports queue depth and failures.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithDispatcherLogger replaces slog.Default.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates a dispatcher reading state from registers and
// delivering it to target.
func NewDispatcher(registers *register.Store, target Materializer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:     newChangeQueue(),
		registers: registers,
		target:    target,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify implements merge.Sink. Changes arriving after Close are dropped.
func (d *Dispatcher) Notify(c merge.Change) {
	if !d.queue.Enqueue(c) {
		d.logger.Warn("change dropped: dispatcher closed", "key", c.Key.String())
		return
	}
	d.metrics.SetMaterializeQueueDepth(d.queue.Len())
}

// Pending returns the number of undelivered changes.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Close stops accepting changes. Run delivers what is queued, then returns.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Run delivers queued changes until the dispatcher is closed and drained,
// or ctx is cancelled.
//
// A failed delivery is logged and counted, and processing continues: the
// next change for the same record delivers its full state again.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Debug("dispatcher starting")

	for {
		c, ok := d.queue.TryDequeue()
		if ok {
			d.deliver(ctx, c)
			d.metrics.SetMaterializeQueueDepth(d.queue.Len())
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("dispatcher stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()
		case <-d.queue.Wait():
			if d.queue.Drained() {
				d.logger.Debug("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, c merge.Change) {
	state, ok := d.registers.Get(c.Key)
	if !ok {
		d.logger.Error("change for unknown record", "key", c.Key.String())
		d.metrics.MaterializeFailed()
		return
	}

	rec := RecordFromState(c.Key, state, c.Changed)
	if err := d.target.Materialize(ctx, rec); err != nil {
		d.logger.Error("materialize failed",
			"model", c.Key.Model,
			"record_id", c.Key.RecordID.String(),
			"changed", c.Changed,
			"error", err,
		)
		d.metrics.MaterializeFailed()
	}
}
