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

// Package retry wraps fallible operations with the backoff policies used by
// every call the recipes make to the coordination backend.
package retry

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
)

// Do runs op until it succeeds, the policy gives up, the error filter rejects
// the error or the context is done. The last operation error is returned when
// the policy gives up.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		value, err := op(ctx)
		if err != nil && !policy.retryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}

	var notify backoff.Notify
	if policy.Notify != nil {
		notify = backoff.Notify(policy.Notify)
	}

	value, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(policy.newBackOff(), ctx), notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return value, err
}

// Run is Do for operations without a result
func Run(ctx context.Context, policy Policy, op func(context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
