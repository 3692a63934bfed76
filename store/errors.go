package store

import "errors"

var (
	// ErrConflict is returned when an optimistic transaction or a
	// compare-and-swap loop loses against a concurrent writer.
	ErrConflict = errors.New("socialgraph: concurrent modification")

	// ErrTxTimeout is returned when a transaction outlives its configured timeout.
	ErrTxTimeout = errors.New("socialgraph: transaction timed out")

	// ErrTxTooLarge is returned when a transaction touches more entries than
	// its MaxSize, or more than the backend can commit atomically.
	ErrTxTooLarge = errors.New("socialgraph: transaction too large")

	// ErrTxClosed is returned when a transaction is used after Commit, Rollback or Close.
	ErrTxClosed = errors.New("socialgraph: transaction is closed")

	// ErrLockTimeout is returned when a pessimistic transaction cannot acquire a key lock in time.
	ErrLockTimeout = errors.New("socialgraph: lock acquisition timed out")

	// ErrInvalidOptions is returned by Begin for unknown concurrency or isolation modes.
	ErrInvalidOptions = errors.New("socialgraph: invalid transaction options")
)
