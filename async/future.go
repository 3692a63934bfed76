package async

import (
	"context"
	"fmt"
)

// Future is a deferred single value.
type Future[T any] struct {
	done  chan struct{}
	value T
	ok    bool
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(v T, ok bool, err error) {
	if err != nil || !ok {
		var zero T
		v = zero
		ok = false
	}
	f.value, f.ok, f.err = v, ok, err
	close(f.done)
}

// Go runs fn on a new goroutine and returns a Future for its outcome.
// fn reports ok=false for an empty result. A panic in fn fails the Future.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, bool, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		completed := false
		defer func() {
			if r := recover(); r != nil && !completed {
				var zero T
				f.complete(zero, false, fmt.Errorf("async: panic: %v", r))
			}
		}()
		v, ok, err := fn(ctx)
		completed = true
		f.complete(v, ok, err)
	}()
	return f
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(v, true, nil)
	return f
}

// Empty returns a Future already completed without a value.
func Empty[T any]() *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, false, nil)
	return f
}

// Failed returns a Future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, false, err)
	return f
}

// Done is closed once the Future has completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, bool, error) {
	select {
	case <-f.done:
		return f.value, f.ok, f.err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Then chains fn onto a present value of f. Empty and failed outcomes
// propagate without calling fn.
func Then[T, U any](ctx context.Context, f *Future[T], fn func(ctx context.Context, v T) (U, bool, error)) *Future[U] {
	return Go(ctx, func(ctx context.Context) (U, bool, error) {
		v, ok, err := f.Await(ctx)
		if err != nil || !ok {
			var zero U
			return zero, false, err
		}
		return fn(ctx, v)
	})
}
