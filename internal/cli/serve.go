package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/recsync/internal/ingest"
	"github.com/roach88/recsync/internal/op"
)

// maxReportedErrors bounds the failures kept for the serve summary.
const maxReportedErrors = 20

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database    string
	Input       string
	Workers     int
	MetricsAddr string
	KeepAlive   bool
}

// ServeResult summarizes an ingestion run.
type ServeResult struct {
	Submitted uint64   `json:"submitted"`
	Processed uint64   `json:"processed"`
	Failed    uint64   `json:"failed"`
	Records   int      `json:"records"`
	Errors    []string `json:"errors,omitempty"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest an operation feed and expose metrics",
		Long: `Ingest newline-delimited JSON operations from stdin (or --input) through
a pool of record-affine workers into the replica at --db.

While ingesting, Prometheus metrics are served on the configured address
when metrics are enabled. The command returns once the feed ends, or keeps
serving metrics until interrupted with --keep-alive.

Exit codes:
  0 - Every operation was merged
  1 - Some operations were malformed or rejected
  2 - Command error (database error, address in use, etc.)

Examples:
  tail -f ops.jsonl | recsync serve --db ./recsync.db
  recsync serve --db ./recsync.db --input ops.jsonl --workers 8
  recsync serve --metrics-addr :9100 --keep-alive < ops.jsonl`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Input, "input", "-", "operation feed to ingest (- for stdin)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "ingest workers (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "metrics listen address (default from config)")
	cmd.Flags().BoolVar(&opts.KeepAlive, "keep-alive", false, "keep serving metrics after the feed ends")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd)
	cfg := opts.config()

	if opts.Workers < 0 {
		return NewExitError(ExitCommandError, "--workers must not be negative")
	}
	workers := cfg.Ingest.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	var r io.Reader = cmd.InOrStdin()
	if opts.Input != "-" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open operation feed", err)
		}
		defer f.Close()
		r = f
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, opts.dbPath(opts.Database), logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var (
		mu     sync.Mutex
		errs   []string
		failed int
	)
	pipeline := ingest.New(ingest.IngestHandler(sess.replica), ingest.Config{
		Workers:   workers,
		QueueSize: cfg.Ingest.QueueSize,
		Logger:    logger,
		Metrics:   sess.metrics,
		OnError: func(o op.Operation, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed++
			if len(errs) < maxReportedErrors {
				errs = append(errs, err.Error())
			}
		},
	})

	var srv *http.Server
	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if opts.MetricsAddr != "" {
			addr = opts.MetricsAddr
		}
		srv = newMetricsServer(addr, cfg.Metrics.Path, sess.metrics.Handler())
	}

	ingested := make(chan struct{})
	drained := make(chan error, 1)
	go func() {
		_, err := pipeline.Drain(ctx, op.NewDecoder(r))
		drained <- err
		pipeline.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ingested)
		return pipeline.Run(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			waitForShutdown(gctx, ingested, opts.KeepAlive)
			return shutdownServer(srv, logger)
		})
	}

	runErr := g.Wait()
	if ctx.Err() != nil {
		// Interrupted: queued operations may be abandoned, nothing else is an error.
		logger.Info("serve interrupted")
		runErr = nil
	}
	if runErr == nil {
		select {
		case err := <-drained:
			if err != nil && !errors.Is(err, ingest.ErrClosed) && ctx.Err() == nil {
				runErr = fmt.Errorf("read operation feed: %w", err)
			}
		default:
		}
	}

	records := sess.replica.Registers().Len()
	if err := sess.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close database: %w", err)
	}
	if runErr != nil {
		return WrapExitError(ExitCommandError, "serve failed", runErr)
	}

	stats := pipeline.Stats()
	result := ServeResult{
		Submitted: stats.Submitted,
		Processed: stats.Processed,
		Failed:    stats.Failed,
		Records:   records,
		Errors:    errs,
	}
	return outputServe(formatter, result, failed)
}

func newMetricsServer(addr, path string, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
	})
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// waitForShutdown blocks until ctx is done or, unless keepAlive is set,
// ingestion has finished.
func waitForShutdown(ctx context.Context, ingested <-chan struct{}, keepAlive bool) {
	if keepAlive {
		<-ctx.Done()
		return
	}
	select {
	case <-ctx.Done():
	case <-ingested:
	}
}

func shutdownServer(srv *http.Server, logger *slog.Logger) error {
	logger.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

func outputServe(formatter *OutputFormatter, result ServeResult, failed int) error {
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
		formatter.Printf("Ingested %d operation(s): %d processed, %d failed, %d record(s)\n",
			result.Submitted, result.Processed, result.Failed, result.Records)
		for _, e := range result.Errors {
			formatter.Printf("  %s\n", e)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) not merged", failed))
	}
	return nil
}
