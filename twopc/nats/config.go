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

package nats

import (
	"time"

	"github.com/tochemey/recipes/internal/validation"
	"github.com/tochemey/recipes/twopc"
)

// DefaultSubject prefixes every order subject unless overridden
const DefaultSubject = "recipes.2pc"

// Config defines the NATS transport of transaction orders
type Config struct {
	// Server defines the nats server in the format nats://host:port
	Server string
	// Subject prefixes the order subjects: <Subject>.<site id>.<order>
	Subject string
	// Timeout bounds a single order round trip
	Timeout time.Duration
}

// Sanitize sets the defaults of unset fields
func (x *Config) Sanitize() {
	if x.Subject == "" {
		x.Subject = DefaultSubject
	}

	if x.Timeout <= 0 {
		x.Timeout = twopc.DefaultTimeout
	}
}

// Validate checks whether the given configuration is valid
func (x Config) Validate() error {
	return validation.New(validation.FailFast()).
		Add(validation.Required("Server", x.Server),
			validation.Subject("Subject", x.Subject),
			validation.Positive("Timeout", x.Timeout)).
		Validate()
}
