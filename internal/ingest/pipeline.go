// Package ingest drains operation feeds into a replica through a pool of
// record-affine workers.
//
// Every operation is routed by a hash of its model and record id, so all
// operations on one record are applied by the same worker in submission
// order, and independent records proceed in parallel.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/recsync/internal/merge"
	"github.com/roach88/recsync/internal/metrics"
	"github.com/roach88/recsync/internal/op"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("ingest: pipeline closed")

// Handler applies one operation.
type Handler func(ctx context.Context, o op.Operation) error

// Ingester is implemented by *replica.Replica.
type Ingester interface {
	Ingest(ctx context.Context, o op.Operation) (merge.Result, error)
}

// IngestHandler adapts an Ingester to Handler.
func IngestHandler(i Ingester) Handler {
	return func(ctx context.Context, o op.Operation) error {
		_, err := i.Ingest(ctx, o)
		return err
	}
}

// ErrorFunc receives every operation that failed. o is the zero Operation
// when the failure was a malformed feed line.
type ErrorFunc func(o op.Operation, err error)

// Config holds pipeline configuration.
type Config struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	OnError   ErrorFunc
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Submitted uint64
	Processed uint64
	Failed    uint64
}

// Pipeline is a bounded, record-affine worker pool.
//
// Thread-safety: Submit, Drain, Close and Stats are safe from any
// goroutine. Run must be called once.
type Pipeline struct {
	handler Handler
	queues  []chan op.Operation
	logger  *slog.Logger
	metrics *metrics.Metrics
	onError ErrorFunc

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}

	submitted atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a pipeline applying operations with h.
func New(h Handler, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		handler: h,
		queues:  make([]chan op.Operation, cfg.Workers),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		onError: cfg.OnError,
		stopped: make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan op.Operation, cfg.QueueSize)
	}
	return p
}

// Route returns the worker that owns the record o targets.
func Route(o op.Operation, workers int) int {
	h := xxhash.New()
	_, _ = h.WriteString(o.Model)
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write(o.RecordID[:])
	return int(h.Sum64() % uint64(workers))
}

// Run starts the workers and blocks until the pipeline is closed and
// drained (returning nil) or ctx is cancelled (returning ctx.Err()).
// Handler errors never stop the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.stopped)

	p.logger.Info("ingest pipeline started", "workers", len(p.queues), "queue_size", cap(p.queues[0]))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range p.queues {
		g.Go(func() error {
			return p.worker(gctx, i, q)
		})
	}
	err := g.Wait()

	s := p.Stats()
	p.logger.Info("ingest pipeline stopped",
		"submitted", s.Submitted,
		"processed", s.Processed,
		"failed", s.Failed,
	)
	return err
}

func (p *Pipeline) worker(ctx context.Context, id int, q <-chan op.Operation) error {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o, ok := <-q:
			if !ok {
				return nil
			}
			p.metrics.SetIngestQueueDepth(label, len(q))
			p.process(ctx, id, o)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, worker int, o op.Operation) {
	err := p.safeHandle(ctx, o)
	p.processed.Add(1)
	if err == nil {
		return
	}

	p.failed.Add(1)
	p.logger.Debug("operation failed",
		"worker", worker,
		"record_id", o.RecordID.String(),
		"model", o.Model,
		"type", string(o.Kind),
		"error", err,
	)
	p.report(o, err)
}

func (p *Pipeline) safeHandle(ctx context.Context, o op.Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return p.handler(ctx, o)
}

func (p *Pipeline) report(o op.Operation, err error) {
	if p.onError != nil {
		p.onError(o, err)
	}
}

// Submit routes o to its worker, blocking until it is queued, ctx is
// done, or the pipeline stops.
func (p *Pipeline) Submit(ctx context.Context, o op.Operation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	w := Route(o, len(p.queues))
	q := p.queues[w]
	select {
	case q <- o:
		p.submitted.Add(1)
		p.metrics.SetIngestQueueDepth(strconv.Itoa(w), len(q))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrClosed
	}
}

// Drain submits every operation read from dec until the feed ends.
// Malformed lines are reported to the error callback and skipped. It
// returns the number of operations submitted.
func (p *Pipeline) Drain(ctx context.Context, dec *op.Decoder) (int, error) {
	n := 0
	for {
		o, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			if !op.IsSerializationError(err) {
				return n, fmt.Errorf("read feed: %w", err)
			}
			p.failed.Add(1)
			p.logger.Warn("malformed operation", "line", dec.Line(), "error", err)
			p.report(op.Operation{}, err)
			continue
		}

		if err := p.Submit(ctx, o); err != nil {
			return n, err
		}
		n++
	}
}

// Close stops accepting operations. Queued operations are still applied
// and Run returns once they are.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}
