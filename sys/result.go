package sys

import "errors"

// Result carries the outcome of an asynchronous call: a value or an error.
type Result[T any] struct {
	Ok  T
	Err error
}

// IsOk returns true if the Result contains a successful value (no error).
func (r Result[T]) IsOk() bool {
	return r.Err == nil
}

// IsErr returns true if the Result contains an error. With arguments, it
// only returns true when the error matches one of them per errors.Is.
func (r Result[T]) IsErr(checks ...error) bool {
	if len(checks) == 0 {
		return r.Err != nil
	}
	for _, err := range checks {
		if errors.Is(r.Err, err) {
			return true
		}
	}
	return false
}

// Unwrap returns the value and error as a regular Go return pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.Ok, r.Err
}

// Ok creates a new Result with a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{Ok: value}
}

// Err creates a new Result with an error.
func Err[T any](err error) Result[T] {
	var zero T
	return Result[T]{Ok: zero, Err: err}
}

// Resolved returns a closed channel already holding r.
func Resolved[T any](r Result[T]) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	ch <- r
	close(ch)
	return ch
}

// Go runs fn in a new goroutine. The returned channel receives its outcome
// once and is then closed.
func Go[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		val, err := fn()
		ch <- Result[T]{Ok: val, Err: err}
	}()
	return ch
}

// Await blocks until ch delivers a result. It reports false when ch was
// closed without one.
func Await[T any](ch <-chan Result[T]) (Result[T], bool) {
	r, ok := <-ch
	return r, ok
}
