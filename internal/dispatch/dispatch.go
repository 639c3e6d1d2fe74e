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

package dispatch

import (
	"fmt"

	gods "github.com/Workiva/go-datastructures/queue"

	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/log"
)

// Dispatcher runs submitted functions one at a time, in submission order,
// on a single goroutine. Watch callbacks and connection notifications of a
// session flow through one Dispatcher so handler code never runs in parallel.
//
// Dispatched functions may submit further work but must not wait for it.
type Dispatcher struct {
	queue  *gods.Queue
	logger log.Logger
	done   chan struct{}
}

// New creates a Dispatcher and starts its loop
func New(logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.DefaultLogger
	}

	d := &Dispatcher{
		queue:  gods.New(64),
		logger: logger,
		done:   make(chan struct{}),
	}

	go d.loop()
	return d
}

// Dispatch enqueues fn. It returns false when the dispatcher is stopped.
func (d *Dispatcher) Dispatch(fn func()) bool {
	if fn == nil {
		return true
	}
	return d.queue.Put(fn) == nil
}

// Stop discards pending work and terminates the loop. A function already
// running completes. Stop is idempotent.
func (d *Dispatcher) Stop() {
	if !d.queue.Disposed() {
		d.queue.Dispose()
	}
}

// Done is closed when the loop has exited
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of queued functions
func (d *Dispatcher) Pending() int64 {
	return d.queue.Len()
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		items, err := d.queue.Get(1)
		if err != nil {
			return
		}

		for _, item := range items {
			if fn, ok := item.(func()); ok {
				d.run(fn)
			}
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("dispatched callback failed: %v", gerrors.NewPanicError(fmt.Errorf("%v", r)))
		}
	}()
	fn()
}
