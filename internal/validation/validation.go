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

// Package validation checks configuration structs before a backend or a
// transport is started.
package validation

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Validator is implemented by anything that can check itself
type Validator interface {
	Validate() error
}

// Chain runs validators in order. Configuration structs build one in their
// Validate method.
type Chain struct {
	failFast   bool
	validators []Validator
}

// Option configures a Chain
type Option func(*Chain)

// FailFast stops the chain on the first violation
func FailFast() Option {
	return func(c *Chain) { c.failFast = true }
}

// AllErrors reports every violation, combined with multierr
func AllErrors() Option {
	return func(c *Chain) { c.failFast = false }
}

// New creates a Chain. It reports every violation unless FailFast is given.
func New(opts ...Option) *Chain {
	chain := new(Chain)
	for _, opt := range opts {
		opt(chain)
	}
	return chain
}

// Add appends validators to the chain
func (c *Chain) Add(validators ...Validator) *Chain {
	c.validators = append(c.validators, validators...)
	return c
}

// Require appends a condition. The formatted message is the violation.
func (c *Chain) Require(ok bool, format string, args ...any) *Chain {
	return c.Add(condition{ok: ok, message: fmt.Sprintf(format, args...)})
}

// Validate runs the chain. It can be called several times.
func (c *Chain) Validate() error {
	var violations error
	for _, validator := range c.validators {
		err := validator.Validate()
		if err == nil {
			continue
		}

		if c.failFast {
			return err
		}
		violations = multierr.Append(violations, err)
	}
	return violations
}

type condition struct {
	ok      bool
	message string
}

func (c condition) Validate() error {
	if c.ok {
		return nil
	}
	return errors.New(c.message)
}
