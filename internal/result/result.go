// Package result implements the Ok/Err carrier that every pipeline stage,
// hook, and handler invocation returns, plus the crash-safe invoker that
// converts panics and errors into Err values so the engine never propagates
// a raw exception.
package result

import (
	"context"
	"fmt"
)

// Result is the Ok(value) | Err(message) sum type threaded through every
// stage of the action pipeline.
type Result[T any] struct {
	ok      bool
	value   T
	errText string
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{ok: true, value: value}
}

// Err wraps a failure message.
func Err[T any](message string) Result[T] {
	return Result[T]{ok: false, errText: message}
}

// Errf formats a failure message.
func Errf[T any](format string, args ...any) Result[T] {
	return Err[T](fmt.Sprintf(format, args...))
}

// IsOk reports whether the result carries a value.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr reports whether the result carries an error message.
func (r Result[T]) IsErr() bool { return !r.ok }

// Value returns the carried value. Only meaningful when IsOk() is true.
func (r Result[T]) Value() T { return r.value }

// Error returns the carried error message. Only meaningful when IsErr() is true.
func (r Result[T]) Error() string { return r.errText }

// MapErr converts an Err[T] into an Err[U] carrying the same message,
// discarding T's zero value. Used at stage boundaries where the carried
// type changes but failure passes straight through.
func MapErr[T, U any](r Result[T]) Result[U] {
	if r.IsOk() {
		panic("result: MapErr called on an Ok result")
	}
	return Err[U](r.errText)
}

// Invoke is the crash-safe boundary every call into user code (handlers,
// hooks, global hooks, schema parsing) must cross. A normal return becomes
// Ok; a returned error or a recovered panic becomes Err. If ctx is already
// canceled the thunk is not invoked at all.
func Invoke[T any](ctx context.Context, thunk func() (T, error)) (res Result[T]) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Err[T](fmt.Sprintf("request canceled: %v", err))
		}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Err[T](fmt.Sprintf("%v", r))
		}
	}()
	value, err := thunk()
	if err != nil {
		return Err[T](err.Error())
	}
	return Ok(value)
}

// InvokeAsync is like Invoke but for thunks that themselves want to observe
// cancellation while running (e.g. a handler performing I/O). The thunk
// receives the context and is run on the calling goroutine; InvokeAsync adds
// no extra goroutine hop by itself, it only documents the cancellation
// contract at the call site. Kept distinct from Invoke so call sites that
// truly need asynchronous cancellation (a handler racing ctx.Done() against
// its own I/O) have a named place to do so without re-deriving the
// recover() boilerplate.
func InvokeAsync[T any](ctx context.Context, thunk func(context.Context) (T, error)) Result[T] {
	return Invoke(ctx, func() (T, error) {
		return thunk(ctx)
	})
}
