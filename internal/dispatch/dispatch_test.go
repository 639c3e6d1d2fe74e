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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tochemey/recipes/log"
)

func TestDispatcher(t *testing.T) {
	t.Run("runs functions in submission order", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		d := New(log.DiscardLogger)

		var (
			mu    sync.Mutex
			order []int
		)
		for i := range 100 {
			require.True(t, d.Dispatch(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == 100
		}, time.Second, 5*time.Millisecond)

		for i, v := range order {
			assert.Equal(t, i, v)
		}

		d.Stop()
		<-d.Done()
	})
	t.Run("never runs two functions at once", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		d := New(log.DiscardLogger)

		var (
			mu      sync.Mutex
			running int
			maxSeen int
			wg      sync.WaitGroup
		)
		for range 20 {
			wg.Add(1)
			go d.Dispatch(func() {
				defer wg.Done()
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
			})
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)

		d.Stop()
		<-d.Done()
	})
	t.Run("survives a panicking function", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		d := New(log.DiscardLogger)

		ran := make(chan struct{})
		d.Dispatch(func() { panic("boom") })
		d.Dispatch(func() { close(ran) })

		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("dispatcher stopped after panic")
		}

		d.Stop()
		<-d.Done()
	})
	t.Run("rejects work after stop", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		d := New(log.DiscardLogger)
		d.Stop()
		d.Stop()
		<-d.Done()
		assert.False(t, d.Dispatch(func() {}))
	})
}
