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

// Package nats carries two-phase commit orders over NATS request/reply so
// that a coordinator can drive sites living in other processes. Votes still
// flow through the coordination service.
package nats

import (
	"context"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"
)

// connect dials the server with a bounded exponential backoff
func connect(ctx context.Context, config *Config, name string) (*nats.Conn, error) {
	opts := nats.GetDefaultOptions()
	opts.Url = config.Server
	opts.Name = name
	opts.ReconnectWait = 2 * time.Second
	opts.MaxReconnect = -1

	const maxRetries = 5

	var connection *nats.Conn
	retrier := retry.NewRetrier(maxRetries, 100*time.Millisecond, opts.ReconnectWait)
	err := retrier.RunContext(ctx, func(context.Context) error {
		var err error
		connection, err = opts.Connect()
		return err
	})
	if err != nil {
		return nil, err
	}
	return connection, nil
}
