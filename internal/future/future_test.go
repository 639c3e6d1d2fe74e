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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture(t *testing.T) {
	t.Run("With Success", func(t *testing.T) {
		f := New[string]()
		go func() {
			time.Sleep(50 * time.Millisecond)
			f.Complete("done")
		}()

		result := f.Await(context.Background())
		require.NoError(t, result.Failure())
		assert.Equal(t, "done", result.Success())
	})
	t.Run("With Failure", func(t *testing.T) {
		f := New[string]()
		go f.Fail(errors.New("something went wrong"))

		result := f.Await(context.Background())
		require.EqualError(t, result.Failure(), "something went wrong")
		assert.Empty(t, result.Success())
	})
	t.Run("With context cancellation", func(t *testing.T) {
		f := New[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		result := f.Await(ctx)
		require.ErrorIs(t, result.Failure(), context.DeadlineExceeded)
	})
	t.Run("Settles only once", func(t *testing.T) {
		f := New[int]()
		require.True(t, f.Complete(1))
		require.False(t, f.Complete(2))
		require.False(t, f.Fail(errors.New("late")))

		select {
		case <-f.Done():
		default:
			t.Fatal("future should be settled")
		}
		result := f.Await(context.Background())
		require.NoError(t, result.Failure())
		assert.Equal(t, 1, result.Success())
	})
}
