// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Future is the eventual result of an operation. A servant returns an already
// resolved future when it answers directly, or resolves it later from another
// goroutine when it suspends.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewFuture returns an unresolved future and the function resolving it. Only
// the first call to resolve has an effect.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	future := &Future[T]{done: make(chan struct{})}
	return future, future.resolve
}

// Resolved returns a future already holding value.
func Resolved[T any](value T) *Future[T] {
	future, resolve := NewFuture[T]()
	resolve(value, nil)
	return future
}

// Failed returns a future already holding err.
func Failed[T any](err error) *Future[T] {
	future, resolve := NewFuture[T]()
	var zero T
	resolve(zero, err)
	return future
}

// Go runs fn on a new goroutine and resolves the future with its result.
// A panic in fn fails the future the way Invoke fails a panicking servant.
func Go[T any](fn func() (T, error)) *Future[T] {
	future, resolve := NewFuture[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				resolve(zero, fmt.Errorf("servant panic: %v", r))
			}
		}()
		value, err := fn()
		resolve(value, err)
	}()
	return future
}

func (f *Future[T]) resolve(value T, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, callback := range callbacks {
		callback(value, err)
	}
}

// Then calls fn with the result. fn runs immediately on the calling goroutine
// when the future is already resolved, otherwise on the resolving one.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()

	fn(value, err)
}

// Done returns a channel closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
