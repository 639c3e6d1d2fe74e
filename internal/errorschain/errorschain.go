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

// Package errorschain runs dependent steps, such as the removals of a
// recursive delete, and reports their failures as one error.
package errorschain

import "go.uber.org/multierr"

// Chain is an ordered list of steps. Steps run when Run is called.
type Chain struct {
	stopOnFirst bool
	steps       []func() error
}

// Option configures a Chain
type Option func(*Chain)

// StopOnFirst skips the remaining steps after the first failure
func StopOnFirst() Option {
	return func(c *Chain) { c.stopOnFirst = true }
}

// CollectAll runs every step and combines the failures with multierr
func CollectAll() Option {
	return func(c *Chain) { c.stopOnFirst = false }
}

// New creates a Chain. It runs every step unless StopOnFirst is given.
func New(opts ...Option) *Chain {
	chain := new(Chain)
	for _, opt := range opts {
		opt(chain)
	}
	return chain
}

// Step appends steps to the chain
func (c *Chain) Step(steps ...func() error) *Chain {
	c.steps = append(c.steps, steps...)
	return c
}

// Run executes the steps in order and returns their failures
func (c *Chain) Run() error {
	var err error
	for _, step := range c.steps {
		failure := step()
		if failure == nil {
			continue
		}

		if c.stopOnFirst {
			return failure
		}
		err = multierr.Append(err, failure)
	}
	return err
}
