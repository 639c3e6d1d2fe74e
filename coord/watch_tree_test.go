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
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/tochemey/recipes/coord"
	"github.com/tochemey/recipes/internal/zkpath"
)

func seedTree(t *testing.T, client *coord.Client) {
	t.Helper()
	ctx := context.Background()
	_, err := client.Create(ctx, "/root", []byte("root"), coord.Persistent)
	require.NoError(t, err)
	_, err = client.Create(ctx, "/root/a", []byte("1"), coord.Persistent)
	require.NoError(t, err)
	_, err = client.Create(ctx, "/root/b", []byte("2"), coord.Persistent)
	require.NoError(t, err)
	_, err = client.Create(ctx, "/root/a/x", []byte("3"), coord.Persistent)
	require.NoError(t, err)
}

func mirrorPaths(node *coord.WatchNode) []string {
	paths := []string{node.Path()}
	for _, child := range node.Children() {
		paths = append(paths, mirrorPaths(child)...)
	}
	slices.Sort(paths)
	return paths
}

func actualPaths(ctx context.Context, client *coord.Client, path string) []string {
	paths := []string{path}
	children, err := client.GetChildren(ctx, path)
	if err != nil {
		return paths
	}
	for _, child := range children {
		paths = append(paths, actualPaths(ctx, client, zkpath.Join(path, child))...)
	}
	slices.Sort(paths)
	return paths
}

type treeRecorder struct {
	mu     sync.Mutex
	events []coord.Event
}

func (r *treeRecorder) record(event coord.Event, _ *coord.WatchNode) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *treeRecorder) has(eventType coord.EventType, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.Type == eventType && event.Path == path {
			return true
		}
	}
	return false
}

func TestWatchAllChildren(t *testing.T) {
	t.Run("With initial snapshot", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		tree, err := client.WatchAllChildren(ctx, "/root", nil)
		require.NoError(t, err)

		assert.Equal(t, 4, tree.Size())
		assert.True(t, tree.Root().Active())
		assert.Equal(t, []byte("root"), tree.Root().Data())
		assert.Equal(t, []string{"/root", "/root/a", "/root/a/x", "/root/b"}, mirrorPaths(tree.Root()))

		node, ok := tree.Lookup("/root/a/x")
		require.True(t, ok)
		assert.Equal(t, "x", node.Name())
		assert.Equal(t, 2, node.Level())
		assert.Equal(t, []byte("3"), node.Data())

		tree.Close()
		assert.Zero(t, tree.Size())
		require.NoError(t, client.Close())
	})
	t.Run("With invalid path", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		_, _, client := newTestClient(t)
		_, err := client.WatchAllChildren(context.Background(), "root", nil)
		require.Error(t, err)
		require.NoError(t, client.Close())
	})
	t.Run("With child additions and deletions", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		recorder := new(treeRecorder)
		tree, err := client.WatchAllChildren(ctx, "/root", recorder.record)
		require.NoError(t, err)

		_, err = client.Create(ctx, "/root/c", []byte("4"), coord.Persistent)
		require.NoError(t, err)
		_, err = client.Create(ctx, "/root/c/y", []byte("5"), coord.Persistent)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			node, ok := tree.Lookup("/root/c/y")
			return ok && string(node.Data()) == "5"
		}, time.Second, 5*time.Millisecond)
		assert.True(t, recorder.has(coord.EventNodeChildrenChanged, "/root"))

		require.NoError(t, client.Rmr(ctx, "/root/a"))
		require.Eventually(t, func() bool {
			_, ok := tree.Lookup("/root/a")
			_, okChild := tree.Lookup("/root/a/x")
			return !ok && !okChild
		}, time.Second, 5*time.Millisecond)

		_, ok := tree.Root().Child("a")
		assert.False(t, ok)
		assert.True(t, recorder.has(coord.EventNodeDeleted, "/root/a"))

		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("With data updates", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		recorder := new(treeRecorder)
		tree, err := client.WatchAllChildren(ctx, "/root", recorder.record)
		require.NoError(t, err)

		for i := range 3 {
			value := []byte(fmt.Sprintf("v%d", i))
			client.SetData(ctx, "/root/b", value)
			require.Eventually(t, func() bool {
				node, ok := tree.Lookup("/root/b")
				return ok && string(node.Data()) == string(value)
			}, time.Second, 5*time.Millisecond)
		}
		assert.True(t, recorder.has(coord.EventNodeDataChanged, "/root/b"))

		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("With missing root", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)

		recorder := new(treeRecorder)
		tree, err := client.WatchAllChildren(ctx, "/later", recorder.record)
		require.NoError(t, err)
		assert.False(t, tree.Root().Active())
		assert.Equal(t, 1, tree.Size())

		_, err = client.Create(ctx, "/later", []byte("here"), coord.Persistent)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return tree.Root().Active()
		}, time.Second, 5*time.Millisecond)

		_, err = client.Create(ctx, "/later/child", nil, coord.Persistent)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			_, ok := tree.Lookup("/later/child")
			return ok
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, []byte("here"), tree.Root().Data())
		assert.True(t, recorder.has(coord.EventNodeCreated, "/later"))

		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("With depth limit", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		tree, err := client.WatchAllChildren(ctx, "/root", nil, coord.WithDepth(1))
		require.NoError(t, err)
		assert.Equal(t, []string{"/root", "/root/a", "/root/b"}, mirrorPaths(tree.Root()))

		_, err = client.Create(ctx, "/root/a/z", nil, coord.Persistent)
		require.NoError(t, err)
		_, err = client.Create(ctx, "/root/d", nil, coord.Persistent)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, ok := tree.Lookup("/root/d")
			return ok
		}, time.Second, 5*time.Millisecond)
		_, ok := tree.Lookup("/root/a/z")
		assert.False(t, ok)

		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("Without data", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		tree, err := client.WatchAllChildren(ctx, "/root", nil, coord.WithoutData())
		require.NoError(t, err)
		assert.Equal(t, 4, tree.Size())
		assert.Nil(t, tree.Root().Data())

		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("With times", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		calls := atomic.NewInt32(0)
		tree, err := client.WatchAllChildren(ctx, "/root", func(coord.Event, *coord.WatchNode) {
			calls.Inc()
		}, coord.WithTimes(1))
		require.NoError(t, err)

		for i := range 3 {
			value := []byte(fmt.Sprintf("v%d", i))
			client.SetData(ctx, "/root/a", value)
			require.Eventually(t, func() bool {
				node, ok := tree.Lookup("/root/a")
				return ok && string(node.Data()) == string(value)
			}, time.Second, 5*time.Millisecond)
		}

		assert.EqualValues(t, 1, calls.Load())
		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("With a single watch per node", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		server, _, client := newTestClient(t)
		seedTree(t, client)

		tree, err := client.WatchAllChildren(ctx, "/root", nil)
		require.NoError(t, err)

		// one self watch and one children watch per mirrored node
		assert.Equal(t, 8, server.WatchCount())

		for i := range 5 {
			client.SetData(ctx, "/root/a", []byte(fmt.Sprintf("%d", i)))
			_, err := client.Create(ctx, fmt.Sprintf("/root/b/n%d", i), nil, coord.Persistent)
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			return tree.Size() == 9 && server.WatchCount() == 18
		}, time.Second, 5*time.Millisecond)

		tree.Close()
		require.NoError(t, client.Close())
	})
	t.Run("With a mirror matching the store", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		ctx := context.Background()
		_, _, client := newTestClient(t)
		seedTree(t, client)

		tree, err := client.WatchAllChildren(ctx, "/root", nil)
		require.NoError(t, err)

		_, err = client.EnsurePath(ctx, "/root/b/deep/deeper")
		require.NoError(t, err)
		require.NoError(t, client.Remove(ctx, "/root/a/x"))
		_, err = client.Create(ctx, "/root/a/x", nil, coord.Persistent)
		require.NoError(t, err)
		require.NoError(t, client.Rmr(ctx, "/root/b/deep"))
		_, err = client.Create(ctx, "/root/e", nil, coord.Persistent)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return slices.Equal(mirrorPaths(tree.Root()), actualPaths(ctx, client, "/root"))
		}, time.Second, 5*time.Millisecond)

		tree.Close()
		require.NoError(t, client.Close())
	})
}
