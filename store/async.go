package store

import (
	"context"

	"github.com/jacentio/socialgraph/async"
)

// Deferred exposes the operations of a Store as futures and streams.
// Every call returns immediately; the store call runs on its own goroutine.
type Deferred[V any] struct {
	Store Store[V]
}

// NewDeferred wraps s.
func NewDeferred[V any](s Store[V]) Deferred[V] {
	return Deferred[V]{Store: s}
}

// GetAsync completes with the record at id, or empty when absent.
func (d Deferred[V]) GetAsync(ctx context.Context, id uint64) *async.Future[*V] {
	return async.Go(ctx, func(ctx context.Context) (*V, bool, error) {
		return d.Store.Get(ctx, id)
	})
}

// GetAllAsync completes with the records present among ids. An empty ids
// completes immediately without calling the store.
func (d Deferred[V]) GetAllAsync(ctx context.Context, ids []uint64) *async.Future[map[uint64]*V] {
	if len(ids) == 0 {
		return async.Resolved(map[uint64]*V{})
	}
	return async.Go(ctx, func(ctx context.Context) (map[uint64]*V, bool, error) {
		m, err := d.Store.GetAll(ctx, ids)
		return m, err == nil, err
	})
}

// PutAsync completes once v has been written.
func (d Deferred[V]) PutAsync(ctx context.Context, id uint64, v *V) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, bool, error) {
		err := d.Store.Put(ctx, id, v)
		return struct{}{}, err == nil, err
	})
}

// ReplaceAsync completes with whether the replace applied.
func (d Deferred[V]) ReplaceAsync(ctx context.Context, id uint64, v *V) *async.Future[bool] {
	return async.Go(ctx, func(ctx context.Context) (bool, bool, error) {
		ok, err := d.Store.Replace(ctx, id, v)
		return ok, err == nil, err
	})
}

// RemoveAsync completes with whether a record was removed.
func (d Deferred[V]) RemoveAsync(ctx context.Context, id uint64) *async.Future[bool] {
	return async.Go(ctx, func(ctx context.Context) (bool, bool, error) {
		ok, err := d.Store.Remove(ctx, id)
		return ok, err == nil, err
	})
}

// InvokeAsync completes once fn has been applied.
func (d Deferred[V]) InvokeAsync(ctx context.Context, id uint64, fn MutateFunc[V]) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, bool, error) {
		err := d.Store.Invoke(ctx, id, fn)
		return struct{}{}, err == nil, err
	})
}

// ScanAsync streams the records matching pred.
func (d Deferred[V]) ScanAsync(ctx context.Context, pred Predicate[V]) *async.Stream[Entry[V]] {
	f := async.Go(ctx, func(ctx context.Context) ([]Entry[V], bool, error) {
		entries, err := d.Store.Scan(ctx, pred)
		return entries, err == nil, err
	})
	return async.FromCollection(ctx, f)
}

// NextSequenceAsync completes with the next identifier.
func (d Deferred[V]) NextSequenceAsync(ctx context.Context) *async.Future[uint64] {
	return async.Go(ctx, func(ctx context.Context) (uint64, bool, error) {
		n, err := d.Store.NextSequence(ctx)
		return n, err == nil, err
	})
}
