//go:build async

package aleo

import (
	"context"
)

// Future is the pending result of a call started with Go. It is resolved
// exactly once.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go starts fn on its own goroutine and returns immediately.
//
//	heightF := client.LatestHeightAsync(ctx)
//	hashF := client.LatestHashAsync(ctx)
//	height, err := heightF.Await(ctx)
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Await blocks until the result is ready or ctx ends. Giving up on ctx does
// not cancel the call; cancel the context passed to Go for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, contextError(ctx.Err())
	}
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether Await would return without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
