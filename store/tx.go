package store

import (
	"context"
	"fmt"
	"time"
)

// Concurrency selects how a transaction guards the keys it touches.
type Concurrency string

const (
	// Pessimistic locks every key on first access and holds the lock until the
	// transaction ends.
	Pessimistic Concurrency = "PESSIMISTIC"

	// Optimistic takes no locks and detects conflicting writers at commit.
	Optimistic Concurrency = "OPTIMISTIC"
)

// Isolation selects what a transaction observes of concurrent writers.
type Isolation string

const (
	ReadCommitted  Isolation = "READ_COMMITTED"
	RepeatableRead Isolation = "REPEATABLE_READ"
	Serializable   Isolation = "SERIALIZABLE"
)

// TxOptions configures a transaction.
type TxOptions struct {
	Concurrency Concurrency
	Isolation   Isolation

	// Timeout bounds the whole transaction. Zero means no timeout.
	Timeout time.Duration

	// MaxSize bounds the number of distinct keys written. Zero means unbounded.
	MaxSize int
}

// DefaultTxOptions returns PESSIMISTIC/SERIALIZABLE with no timeout and no size bound.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		Concurrency: Pessimistic,
		Isolation:   Serializable,
	}
}

// Validate reports unknown modes and negative bounds.
func (o TxOptions) Validate() error {
	switch o.Concurrency {
	case Pessimistic, Optimistic:
	default:
		return fmt.Errorf("%w: concurrency %q", ErrInvalidOptions, o.Concurrency)
	}
	switch o.Isolation {
	case ReadCommitted, RepeatableRead, Serializable:
	default:
		return fmt.Errorf("%w: isolation %q", ErrInvalidOptions, o.Isolation)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidOptions)
	}
	if o.MaxSize < 0 {
		return fmt.Errorf("%w: negative max size", ErrInvalidOptions)
	}
	return nil
}

// Tx is an open transaction.
//
// Commit and Rollback end the transaction. Close is safe to call any number
// of times: it rolls back a transaction that is still active and releases its
// resources exactly once.
type Tx interface {
	ID() string
	Options() TxOptions
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

type txKey struct{}

// WithTx returns a context that makes store operations join tx.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) Tx {
	tx, _ := ctx.Value(txKey{}).(Tx)
	return tx
}
