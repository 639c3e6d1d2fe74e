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

package coord

import (
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/tochemey/recipes/log"
	"github.com/tochemey/recipes/retry"
)

// Option is the interface that applies a configuration option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(client *Client)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(client *Client)

// Apply applies the Client's option
func (f OptionFunc) Apply(client *Client) {
	f(client)
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	})
}

// WithRetryPolicy sets the policy wrapping every backend call
func WithRetryPolicy(policy retry.Policy) Option {
	return OptionFunc(func(client *Client) {
		client.policy = policy
	})
}

// WithMeterProvider sets the meter provider the recipes record metrics on
func WithMeterProvider(provider otelmetric.MeterProvider) Option {
	return OptionFunc(func(client *Client) {
		client.meterProvider = provider
	})
}

// DefaultRetryPolicy retries transient backend errors with an exponential backoff
func DefaultRetryPolicy() retry.Policy {
	return retry.Exponential(defaultInitialDelay, defaultMaxDelay).
		WithErrorFilter(isRetryable)
}
