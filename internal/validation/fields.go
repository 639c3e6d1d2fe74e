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

package validation

import (
	"fmt"
	"strings"
	"time"
)

// Required rejects blank values
func Required(field, value string) Validator {
	return fieldFunc(func() error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("the [%s] is required", field)
		}
		return nil
	})
}

// Positive rejects zero and negative durations
func Positive(field string, value time.Duration) Validator {
	return fieldFunc(func() error {
		if value <= 0 {
			return fmt.Errorf("the [%s] must be greater than zero", field)
		}
		return nil
	})
}

// AtLeast rejects durations shorter than minimum
func AtLeast(field string, value, minimum time.Duration) Validator {
	return fieldFunc(func() error {
		if value < minimum {
			return fmt.Errorf("the [%s] must be at least %s, got %s", field, minimum, value)
		}
		return nil
	})
}

// Subject accepts a literal NATS subject: dot separated tokens, none of them
// empty, without wildcards or whitespace
func Subject(field, value string) Validator {
	return fieldFunc(func() error {
		if value == "" {
			return fmt.Errorf("the [%s] is required", field)
		}

		for _, token := range strings.Split(value, ".") {
			if token == "" || token == "*" || token == ">" || strings.ContainsAny(token, " \t\r\n") {
				return fmt.Errorf("the [%s] is not a literal subject: %q", field, value)
			}
		}
		return nil
	})
}

type fieldFunc func() error

func (f fieldFunc) Validate() error {
	return f()
}
