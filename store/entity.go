package store

import (
	"context"
)

// Entry is one record returned by a scan.
type Entry[V any] struct {
	ID    uint64
	Value *V
}

// MutateFunc computes the next value of a key from its current value.
// current is nil when the key is absent. Returning a nil next leaves the key
// untouched. Results are reported through the closure.
type MutateFunc[V any] func(current *V) (next *V, err error)

// Predicate filters records during a scan.
type Predicate[V any] func(id uint64, v *V) bool

// Store is a key/value record store addressed by uint64 identifiers.
//
// Every operation joins the transaction carried by ctx (see [WithTx]) when
// there is one; otherwise it runs on its own.
type Store[V any] interface {
	// Get returns the record at id. ok is false when the key is absent.
	Get(ctx context.Context, id uint64) (v *V, ok bool, err error)

	// GetAll returns the records present among ids. Absent ids are omitted.
	GetAll(ctx context.Context, ids []uint64) (map[uint64]*V, error)

	// Put writes v at id whether or not the key exists.
	Put(ctx context.Context, id uint64, v *V) error

	// Replace writes v at id only if the key exists.
	Replace(ctx context.Context, id uint64, v *V) (bool, error)

	// Remove deletes id and reports whether it existed.
	Remove(ctx context.Context, id uint64) (bool, error)

	// Invoke atomically reads id, applies fn and writes its result.
	Invoke(ctx context.Context, id uint64, fn MutateFunc[V]) error

	// Scan returns every record matching pred, in no particular order.
	Scan(ctx context.Context, pred Predicate[V]) ([]Entry[V], error)

	// NextSequence returns the next identifier. The first value is 1.
	NextSequence(ctx context.Context) (uint64, error)

	// Begin starts a transaction and returns a context bound to it.
	Begin(ctx context.Context, opts TxOptions) (context.Context, Tx, error)
}

// MatchAll is a Predicate that accepts every record.
func MatchAll[V any](uint64, *V) bool { return true }
