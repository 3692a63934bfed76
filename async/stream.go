package async

import (
	"context"
)

// Pair is one entry of a map-valued result.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Stream is a push-based sequence produced by a single goroutine.
type Stream[T any] struct {
	items chan T
	done  chan struct{}
	err   error
}

// Produce starts fn on a new goroutine. fn pushes items with emit, which
// returns false once ctx is done; fn should then return. A non-nil error
// from fn, or a cancelled ctx, fails the Stream after the items already
// delivered.
func Produce[T any](ctx context.Context, fn func(ctx context.Context, emit func(T) bool) error) *Stream[T] {
	s := &Stream[T]{
		items: make(chan T),
		done:  make(chan struct{}),
	}
	go func() {
		cancelled := false
		emit := func(v T) bool {
			select {
			case s.items <- v:
				return true
			case <-ctx.Done():
				cancelled = true
				return false
			}
		}
		err := fn(ctx, emit)
		if err == nil && cancelled {
			err = ctx.Err()
		}
		s.err = err
		close(s.items)
		close(s.done)
	}()
	return s
}

// Items returns the channel the sequence is delivered on. It is closed when
// the sequence completes or fails.
func (s *Stream[T]) Items() <-chan T {
	return s.items
}

// Err waits for the sequence to finish and reports its failure, if any.
// Call it after Items has been drained.
func (s *Stream[T]) Err() error {
	<-s.done
	return s.err
}

// Collect drains the Stream into a slice.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for {
		select {
		case v, ok := <-s.items:
			if !ok {
				return out, s.Err()
			}
			out = append(out, v)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Of returns a Stream over the given items.
func Of[T any](ctx context.Context, items ...T) *Stream[T] {
	return Produce(ctx, func(ctx context.Context, emit func(T) bool) error {
		for _, v := range items {
			if !emit(v) {
				return nil
			}
		}
		return nil
	})
}

// Fail returns a Stream that emits nothing and fails with err.
func Fail[T any](ctx context.Context, err error) *Stream[T] {
	return Produce(ctx, func(context.Context, func(T) bool) error {
		return err
	})
}

// FromFuture emits the value of f when present, nothing when empty, and
// fails when f fails.
func FromFuture[T any](ctx context.Context, f *Future[T]) *Stream[T] {
	return Produce(ctx, func(ctx context.Context, emit func(T) bool) error {
		v, ok, err := f.Await(ctx)
		if err != nil {
			return err
		}
		if ok {
			emit(v)
		}
		return nil
	})
}

// FromCollection emits every element of the collection f resolves to, in
// slice order.
func FromCollection[T any](ctx context.Context, f *Future[[]T]) *Stream[T] {
	return Produce(ctx, func(ctx context.Context, emit func(T) bool) error {
		items, _, err := f.Await(ctx)
		if err != nil {
			return err
		}
		for _, v := range items {
			if !emit(v) {
				return nil
			}
		}
		return nil
	})
}

// FromMap emits one Pair per entry of the map f resolves to, in map
// iteration order.
func FromMap[K comparable, V any](ctx context.Context, f *Future[map[K]V]) *Stream[Pair[K, V]] {
	return Produce(ctx, func(ctx context.Context, emit func(Pair[K, V]) bool) error {
		m, _, err := f.Await(ctx)
		if err != nil {
			return err
		}
		for k, v := range m {
			if !emit(Pair[K, V]{Key: k, Value: v}) {
				return nil
			}
		}
		return nil
	})
}

// Map transforms every item of src.
func Map[T, U any](ctx context.Context, src *Stream[T], fn func(T) U) *Stream[U] {
	return Produce(ctx, func(ctx context.Context, emit func(U) bool) error {
		for v := range src.Items() {
			if !emit(fn(v)) {
				return nil
			}
		}
		return src.Err()
	})
}
