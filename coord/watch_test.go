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

package coord_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []coord.Event
}

func (r *eventRecorder) record(event coord.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []coord.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]coord.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) contains(eventType coord.EventType, path string) bool {
	for _, event := range r.snapshot() {
		if event.Type == eventType && event.Path == path {
			return true
		}
	}
	return false
}

func (r *eventRecorder) count(eventType coord.EventType) int {
	count := 0
	for _, event := range r.snapshot() {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func TestWatchDeleted(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	_, _, client := newTestClient(t)

	t.Run("returns immediately for a missing node", func(t *testing.T) {
		require.NoError(t, client.WatchDeleted(ctx, "/missing"))
	})
	t.Run("blocks until the node is deleted", func(t *testing.T) {
		_, err := client.Create(ctx, "/node", nil, coord.Persistent)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			client.SetData(ctx, "/node", []byte("changed"))
			time.Sleep(20 * time.Millisecond)
			_ = client.Remove(ctx, "/node")
		}()

		start := time.Now()
		require.NoError(t, client.WatchDeleted(ctx, "/node"))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

		stat, err := client.Exists(ctx, "/node")
		require.NoError(t, err)
		assert.Nil(t, stat)
	})
	t.Run("honors the context", func(t *testing.T) {
		_, err := client.Create(ctx, "/stays", nil, coord.Persistent)
		require.NoError(t, err)

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, client.WatchDeleted(cctx, "/stays"), context.DeadlineExceeded)
	})

	require.NoError(t, client.Close())
}

func TestWatchNonExistentNode(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	_, _, client := newTestClient(t)

	recorder := new(eventRecorder)
	require.NoError(t, client.WatchNonExistentNode(ctx, "/later", recorder.record))
	assert.Empty(t, recorder.snapshot())

	_, err := client.Create(ctx, "/later", nil, coord.Persistent)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return recorder.contains(coord.EventNodeCreated, "/later")
	}, time.Second, 5*time.Millisecond)

	err = client.WatchNonExistentNode(ctx, "/later", recorder.record)
	require.ErrorIs(t, err, gerrors.ErrNodeExists)

	require.NoError(t, client.Close())
}

func TestAddSelfAndChildWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	_, _, client := newTestClient(t)

	_, err := client.AddSelfAndChildWatcher(ctx, "/missing", func(coord.Event) {})
	require.ErrorIs(t, err, gerrors.ErrNoNode)

	_, err = client.Create(ctx, "/watched", nil, coord.Persistent)
	require.NoError(t, err)

	recorder := new(eventRecorder)
	watch, err := client.AddSelfAndChildWatcher(ctx, "/watched", recorder.record)
	require.NoError(t, err)
	assert.Equal(t, "/watched", watch.Path())

	// the watches re-arm, so repeated changes are all observed
	for i, value := range []string{"one", "two"} {
		client.SetData(ctx, "/watched", []byte(value))
		require.Eventually(t, func() bool {
			return recorder.count(coord.EventNodeDataChanged) == i+1
		}, time.Second, 5*time.Millisecond)
	}

	_, err = client.Create(ctx, "/watched/child", nil, coord.Persistent)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return recorder.contains(coord.EventNodeChildrenChanged, "/watched")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Rmr(ctx, "/watched"))
	select {
	case <-watch.Done():
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after deletion")
	}

	assert.True(t, recorder.contains(coord.EventNodeDeleted, "/watched"))
	assert.Equal(t, 1, recorder.count(coord.EventNodeDeleted))

	require.NoError(t, client.Close())
}
