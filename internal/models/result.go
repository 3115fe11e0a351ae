package models

import "errors"

// errUnavailable is used when Unavailable is called without a cause.
var errUnavailable = errors.New("unavailable")

// Result is either an available value or the reason it is unavailable.
// Callers must go through Get or OrElse, so the degraded path is always handled.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Available wraps a value.
func Available[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Unavailable records why no value could be produced.
func Unavailable[T any](err error) Result[T] {
	if err == nil {
		err = errUnavailable
	}
	return Result[T]{err: err}
}

// Get returns the value and whether it is available.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.ok
}

// OK reports whether the value is available.
func (r Result[T]) OK() bool {
	return r.ok
}

// Err returns the cause of unavailability, or nil.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	return r.err
}

// OrElse returns the value, or def when unavailable.
func (r Result[T]) OrElse(def T) T {
	if r.ok {
		return r.value
	}
	return def
}
