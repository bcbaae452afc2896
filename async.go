package mongoservice

import (
	"context"
	"sync"
)

// AsyncResult is the outcome of an asynchronous operation: it either
// succeeded with a value or failed with a cause, never both.
type AsyncResult[T any] struct {
	value T
	cause error
}

// Succeeded returns a successful result holding v.
func Succeeded[T any](v T) AsyncResult[T] {
	return AsyncResult[T]{value: v}
}

// Failed returns a failed result. A nil cause is not a failure.
func Failed[T any](cause error) AsyncResult[T] {
	return AsyncResult[T]{cause: cause}
}

func (r AsyncResult[T]) Succeeded() bool { return r.cause == nil }
func (r AsyncResult[T]) Failed() bool    { return r.cause != nil }

// Result is the produced value; the zero value when the operation failed.
func (r AsyncResult[T]) Result() T { return r.value }

// Cause is the failure, nil on success.
func (r AsyncResult[T]) Cause() error { return r.cause }

// Unwrap returns the result as a conventional (value, error) pair.
func (r AsyncResult[T]) Unwrap() (T, error) { return r.value, r.cause }

// Handler receives the result of an asynchronous operation exactly once.
type Handler[T any] func(AsyncResult[T])

// deliver invokes h when it is non-nil.
func deliver[T any](h Handler[T], r AsyncResult[T]) {
	if h != nil {
		h(r)
	}
}

// Future turns a handler-based call into one that can be awaited.
//
//	f := mongoservice.NewFuture[string]()
//	svc.Save(ctx, "users", doc, f.Handle)
//	id, err := f.Await(ctx)
type Future[T any] struct {
	once   sync.Once
	done   chan struct{}
	result AsyncResult[T]
}

// NewFuture returns an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Handle completes the future. Only the first call has an effect.
func (f *Future[T]) Handle(r AsyncResult[T]) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future completes or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result.Unwrap()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
