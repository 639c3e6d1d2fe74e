/*
 * MIT License
 *
 * Copyright (c) 2022-2025 Arsene Tochemey Gandote
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package future

import (
	"context"
	"sync"
)

// Result defines the future result
type Result[T any] interface {
	// Success returns the successful result of the future
	Success() T
	// Failure returns the error
	Failure() error
}

type result[T any] struct {
	success T
	failure error
}

// Success returns the successful result of the future
func (x *result[T]) Success() T {
	return x.success
}

// Failure returns the error
func (x *result[T]) Failure() error {
	return x.failure
}

// Future is a value that is settled exactly once, by a different goroutine
// than the one awaiting it.
type Future[T any] struct {
	once   sync.Once
	done   chan struct{}
	result *result[T]
}

// New creates an unsettled Future
func New[T any]() *Future[T] {
	return &Future[T]{
		done:   make(chan struct{}),
		result: new(result[T]),
	}
}

// Complete settles the future with a value. It reports whether this call settled it.
func (x *Future[T]) Complete(value T) bool {
	return x.settle(value, nil)
}

// Fail settles the future with an error. It reports whether this call settled it.
func (x *Future[T]) Fail(err error) bool {
	var zero T
	return x.settle(zero, err)
}

// Done is closed once the future is settled
func (x *Future[T]) Done() <-chan struct{} {
	return x.done
}

// Await blocks until the future is settled or the context is done
func (x *Future[T]) Await(ctx context.Context) Result[T] {
	select {
	case <-x.done:
		return x.result
	case <-ctx.Done():
		return &result[T]{failure: ctx.Err()}
	}
}

func (x *Future[T]) settle(value T, err error) bool {
	settled := false
	x.once.Do(func() {
		x.result.success = value
		x.result.failure = err
		settled = true
		close(x.done)
	})
	return settled
}
