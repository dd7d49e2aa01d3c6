package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/config"
	"github.com/roach88/recsync/internal/materialize"
	"github.com/roach88/recsync/internal/metrics"
	"github.com/roach88/recsync/internal/op"
	"github.com/roach88/recsync/internal/records"
	"github.com/roach88/recsync/internal/register"
	"github.com/roach88/recsync/internal/replica"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/store"
)

// session is a recovered replica on an open store whose materialized
// table is kept current by a running dispatcher.
type session struct {
	store      *store.Store
	replica    *replica.Replica
	metrics    *metrics.Metrics
	dispatcher *materialize.Dispatcher
	recovered  replica.RecoverStats

	cancel context.CancelFunc
	done   chan error
}

// loadRegistry returns the built-in record types plus any configured CUE
// models.
func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	reg := records.NewRegistry()
	if cfg.Schema.Dir != "" {
		if _, err := reg.RegisterDir(cfg.Schema.Dir); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", cfg.Schema.Dir, err)
		}
	}
	return reg, nil
}

// openSession opens the store at path and recovers a replica from it.
func openSession(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) (*session, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	m := metrics.New(cfg.Node.ID)
	regs := register.NewStore()
	dispatcher := materialize.NewDispatcher(regs, st,
		materialize.WithDispatcherMetrics(m),
		materialize.WithDispatcherLogger(logger),
	)
	rep := replica.New(clock.NodeID(cfg.Node.ID), reg,
		replica.WithDurable(st),
		replica.WithSink(dispatcher),
		replica.WithRegisters(regs),
		replica.WithMetrics(m),
		replica.WithLogger(logger),
		replica.WithClockOptions(clock.WithMaxDrift(cfg.Node.MaxDrift)),
	)

	stats, err := rep.Recover(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	logger.Debug("replica recovered",
		"registers", stats.Registers,
		"operations", stats.Operations,
		"rejected", stats.Rejected,
		"max_stamp", stats.MaxStamp.String(),
		"rematerialized", stats.Rematerialized,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		store:      st,
		replica:    rep,
		metrics:    m,
		dispatcher: dispatcher,
		recovered:  stats,
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	go func() {
		s.done <- dispatcher.Run(runCtx)
	}()
	return s, nil
}

// Close delivers every pending change, then closes the store.
func (s *session) Close() error {
	s.dispatcher.Close()
	err := <-s.done
	s.cancel()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, s.store.Close())
}

// isRejection reports whether err rejected an operation rather than
// failing to persist it.
func isRejection(err error) bool {
	return op.IsSerializationError(err) || schema.IsViolation(err)
}
