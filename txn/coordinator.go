// Package txn runs actions inside store transactions.
//
// [Run] opens a transaction, runs an action with a context bound to it,
// commits when the action produced a value and rolls back when it produced
// nothing or failed. The transaction is closed exactly once on every path,
// panics included. Conflicts are never retried here; they surface to the
// caller as store.ErrConflict.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jacentio/socialgraph/async"
	"github.com/jacentio/socialgraph/store"
)

var (
	// txOutcomes counts finished transactions by concurrency mode and outcome.
	txOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialgraph_tx_total",
		Help: "Transactions by concurrency mode and outcome (commit, rollback, error)",
	}, []string{"concurrency", "outcome"})

	// txDuration tracks the wall time from begin to close.
	txDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socialgraph_tx_duration_seconds",
		Help:    "Transaction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"concurrency"})
)

// Beginner opens transactions. Every store.Store is one.
type Beginner interface {
	Begin(ctx context.Context, opts store.TxOptions) (context.Context, store.Tx, error)
}

// Action is the work done inside a transaction. Returning ok=false with a
// nil error means "nothing to commit".
type Action[T any] func(ctx context.Context) (v T, ok bool, err error)

// Coordinator runs actions in transactions opened on one store.
type Coordinator struct {
	store  Beginner
	logger *slog.Logger
}

// New creates a Coordinator. If logger is nil, slog.Default() is used.
func New(b Beginner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: b, logger: logger}
}

// Run executes action in a transaction opened with opts.
//
// A present result is committed and returned. An empty result rolls back and
// returns ok=false with no error. A failed action rolls back and returns its
// error. A failed commit returns the commit error.
func Run[T any](ctx context.Context, c *Coordinator, opts store.TxOptions, action Action[T]) (result T, ok bool, err error) {
	var zero T
	mode := string(opts.Concurrency)
	start := time.Now()

	txCtx, tx, err := c.store.Begin(ctx, opts)
	if err != nil {
		txOutcomes.WithLabelValues(mode, "error").Inc()
		return zero, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Close()
		txDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	v, ok, err := action(txCtx)
	if err != nil || !ok {
		rbErr := tx.Rollback(txCtx)
		if rbErr != nil && !errors.Is(rbErr, store.ErrTxClosed) {
			c.logger.Warn("rollback failed",
				slog.String("tx", tx.ID()),
				slog.String("error", rbErr.Error()),
			)
		}
		if err != nil {
			txOutcomes.WithLabelValues(mode, "error").Inc()
			c.logger.Debug("transaction rolled back after failure",
				slog.String("tx", tx.ID()),
				slog.String("error", err.Error()),
			)
			return zero, false, err
		}
		if rbErr != nil && !errors.Is(rbErr, store.ErrTxClosed) {
			txOutcomes.WithLabelValues(mode, "error").Inc()
			return zero, false, fmt.Errorf("rollback transaction: %w", rbErr)
		}
		txOutcomes.WithLabelValues(mode, "rollback").Inc()
		c.logger.Debug("transaction rolled back", slog.String("tx", tx.ID()))
		return zero, false, nil
	}

	if err := tx.Commit(txCtx); err != nil {
		txOutcomes.WithLabelValues(mode, "error").Inc()
		c.logger.Debug("commit failed",
			slog.String("tx", tx.ID()),
			slog.String("error", err.Error()),
		)
		return zero, false, err
	}
	txOutcomes.WithLabelValues(mode, "commit").Inc()
	return v, true, nil
}

// RunAsync is Run on its own goroutine.
func RunAsync[T any](ctx context.Context, c *Coordinator, opts store.TxOptions, action Action[T]) *async.Future[T] {
	return async.Go(ctx, func(ctx context.Context) (T, bool, error) {
		return Run(ctx, c, opts, action)
	})
}
