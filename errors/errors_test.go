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

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	err := NewErrNoNode("/a/b")
	require.EqualError(t, err, "path=(/a/b) node does not exist")
	assert.ErrorIs(t, err, ErrNoNode)

	err = NewErrNodeExists("/a")
	assert.ErrorIs(t, err, ErrNodeExists)

	err = NewErrInvalidPath("a//b")
	assert.ErrorIs(t, err, ErrInvalidPath)

	err = NewErrTransactionAborted("transaction-1")
	require.EqualError(t, err, "transaction=(transaction-1) transaction aborted")
	assert.ErrorIs(t, err, ErrTransactionAborted)

	cause := errors.New("something went wrong")
	panicErr := NewPanicError(cause)
	require.EqualError(t, panicErr, "panic: something went wrong")
	assert.ErrorIs(t, panicErr, cause)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionLoss))
	assert.True(t, IsTransient(fmt.Errorf("create: %w", ErrOperationTimeout)))
	assert.True(t, IsTransient(ErrSystemError))
	assert.True(t, IsTransient(ErrAPIError))
	assert.False(t, IsTransient(ErrNoNode))
	assert.False(t, IsTransient(ErrSessionExpired))
	assert.False(t, IsTransient(nil))
}
