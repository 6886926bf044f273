package p2p

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous channel operation. It settles
// exactly once, with either a value or an error.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error

	onSettle func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func rejectedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.reject(err)
	return f
}

func (f *Future[T]) resolve(v T) bool {
	return f.settle(v, nil)
}

func (f *Future[T]) reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		settled = true
	})
	if settled && f.onSettle != nil {
		f.onSettle()
	}
	return settled
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Err blocks until the future settles and returns its error.
func (f *Future[T]) Err() error {
	<-f.done
	return f.err
}

// Wait blocks until the future settles or ctx is done. A ctx error does not
// cancel the underlying operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// canceler is the type-erased view of a Future used to fail every
// outstanding operation when a channel closes.
type canceler interface {
	reject(err error) bool
}
