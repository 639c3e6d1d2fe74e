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
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/xsync"
	"github.com/tochemey/recipes/internal/zkpath"
)

// WatchOption configures WatchAllChildren
type WatchOption func(*watchOptions)

type watchOptions struct {
	data  bool
	depth int
	times int64
}

// WithDepth limits how many levels below the root are mirrored.
// Zero mirrors the root alone, a negative depth is unlimited.
func WithDepth(depth int) WatchOption {
	return func(o *watchOptions) {
		o.depth = depth
	}
}

// WithoutData mirrors the structure only. Node data is neither fetched nor refreshed.
func WithoutData() WatchOption {
	return func(o *watchOptions) {
		o.data = false
	}
}

// WithTimes caps how many events are passed to the callback. The mirror
// keeps updating after the cap is reached.
func WithTimes(times int) WatchOption {
	return func(o *watchOptions) {
		o.times = int64(times)
	}
}

// WatchTree keeps an in-memory mirror of a subtree up to date. Every
// mirrored node carries one self watch and, within the depth limit, one
// children watch. Both re-arm after each event until the node is deleted or
// the tree is closed.
type WatchTree struct {
	client   *Client
	ctx      context.Context
	root     *WatchNode
	options  watchOptions
	onEvent  func(Event, *WatchNode)
	registry *xsync.Map[string, *WatchNode]
	budget   *atomic.Int64
	closed   *atomic.Bool
}

// WatchAllChildren mirrors the subtree rooted at path and calls onEvent, on
// the backend dispatcher, after each change has been applied to the mirror.
//
// It returns once the initial snapshot is populated. A missing root is not
// an error: the tree waits for its creation. onEvent may be nil.
func (c *Client) WatchAllChildren(ctx context.Context, path string, onEvent func(Event, *WatchNode), opts ...WatchOption) (*WatchTree, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, err
	}

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	options := watchOptions{data: true, depth: -1, times: -1}
	for _, opt := range opts {
		opt(&options)
	}

	tree := &WatchTree{
		client:   c,
		ctx:      context.WithoutCancel(ctx),
		root:     newWatchNode(path, 0, nil),
		options:  options,
		onEvent:  onEvent,
		registry: xsync.NewMap[string, *WatchNode](),
		budget:   atomic.NewInt64(options.times),
		closed:   atomic.NewBool(false),
	}

	tree.registry.Set(path, tree.root)
	if err := tree.populate(ctx, tree.root); err != nil {
		tree.Close()
		return nil, err
	}
	return tree, nil
}

// Root returns the mirrored root node
func (t *WatchTree) Root() *WatchNode {
	return t.root
}

// Lookup returns the mirrored node at path
func (t *WatchTree) Lookup(path string) (*WatchNode, bool) {
	return t.registry.Get(path)
}

// Size returns the number of mirrored nodes
func (t *WatchTree) Size() int {
	return t.registry.Len()
}

// Close stops the tree. Armed watches fire once more into a no-op.
func (t *WatchTree) Close() {
	if t.closed.CompareAndSwap(false, true) {
		t.registry.Reset()
	}
}

// populate arms the watches of node and adopts its children
func (t *WatchTree) populate(ctx context.Context, node *WatchNode) error {
	if t.closed.Load() {
		return nil
	}

	exists, err := t.armSelf(ctx, node)
	if err != nil {
		return err
	}

	if !exists {
		if node != t.root {
			t.remove(node)
		}
		return nil
	}

	if !node.activate() || !t.withinDepth(node.level) {
		return nil
	}

	children, err := t.client.getChildren(ctx, node.path, t.childrenWatcher(node))
	if err != nil {
		if errors.Is(err, gerrors.ErrNoNode) {
			// the self watch reports the deletion
			return nil
		}
		return err
	}

	for _, name := range children {
		if err := t.adopt(ctx, node, name); err != nil {
			return err
		}
	}
	return nil
}

// armSelf installs the self watch of node and refreshes its data. Exactly one
// watch is armed per call. It reports whether the node exists.
func (t *WatchTree) armSelf(ctx context.Context, node *WatchNode) (bool, error) {
	watcher := t.selfWatcher(node)
	if t.options.data {
		data, _, err := t.client.getData(ctx, node.path, watcher)
		if err == nil {
			node.setData(data)
			return true, nil
		}

		if !errors.Is(err, gerrors.ErrNoNode) {
			return false, err
		}
	}

	// existence watches are armed whether or not the node exists
	stat, err := t.client.exists(ctx, node.path, watcher)
	if err != nil || stat == nil {
		return false, err
	}

	if t.options.data {
		data, err := t.client.GetData(ctx, node.path)
		if err != nil && !errors.Is(err, gerrors.ErrNoNode) {
			return false, err
		}
		node.setData(data)
	}
	return true, nil
}

// adopt mirrors a newly discovered child unless it is already mirrored
func (t *WatchTree) adopt(ctx context.Context, parent *WatchNode, name string) error {
	path := zkpath.Join(parent.path, name)
	child := newWatchNode(path, parent.level+1, parent)
	if _, loaded := t.registry.GetOrSet(path, child); loaded {
		return nil
	}

	parent.addChild(child)
	return t.populate(ctx, child)
}

func (t *WatchTree) selfWatcher(node *WatchNode) Watcher {
	return func(event Event) {
		if t.closed.Load() || node.isRemoved() {
			return
		}

		switch event.Type {
		case EventNodeDeleted:
			if t.remove(node) {
				t.notify(event, node)
				t.readopt(node)
			}
		case EventNodeCreated:
			if err := t.populate(t.ctx, node); err != nil {
				t.client.logger.Warnf("failed to watch %s: %v", node.path, err)
				return
			}

			if node.Active() {
				t.notify(event, node)
			}
		default:
			exists, err := t.armSelf(t.ctx, node)
			if err != nil {
				t.client.logger.Warnf("failed to re-arm watch on %s: %v", node.path, err)
				return
			}

			if !exists {
				if t.remove(node) {
					t.notify(Event{Type: EventNodeDeleted, Path: node.path}, node)
				}
				return
			}
			t.notify(event, node)
		}
	}
}

func (t *WatchTree) childrenWatcher(node *WatchNode) Watcher {
	return func(event Event) {
		if t.closed.Load() || node.isRemoved() {
			return
		}

		if event.Type == EventNodeDeleted {
			if t.remove(node) {
				t.notify(event, node)
			}
			return
		}

		children, err := t.client.getChildren(t.ctx, node.path, t.childrenWatcher(node))
		if err != nil {
			if errors.Is(err, gerrors.ErrNoNode) {
				if t.remove(node) {
					t.notify(Event{Type: EventNodeDeleted, Path: node.path}, node)
				}
				return
			}
			t.client.logger.Warnf("failed to re-arm children watch on %s: %v", node.path, err)
			return
		}

		known := node.knownNames()
		current := mapset.NewThreadUnsafeSet(children...)
		for name := range known.Difference(current).Iter() {
			if child, ok := node.Child(name); ok && t.remove(child) {
				t.notify(Event{Type: EventNodeDeleted, Path: child.path}, child)
			}
		}

		for _, name := range children {
			if known.Contains(name) {
				continue
			}
			if err := t.adopt(t.ctx, node, name); err != nil {
				t.client.logger.Warnf("failed to watch %s: %v", zkpath.Join(node.path, name), err)
			}
		}

		t.notify(event, node)
	}
}

// readopt mirrors a node again when it was re-created before the parent
// children watch could observe the change
func (t *WatchTree) readopt(node *WatchNode) {
	parent := node.parent
	if parent == nil || parent.isRemoved() || t.closed.Load() {
		return
	}

	stat, err := t.client.exists(t.ctx, node.path, nil)
	if err != nil || stat == nil {
		return
	}

	if err := t.adopt(t.ctx, parent, node.Name()); err != nil {
		t.client.logger.Warnf("failed to watch %s: %v", node.path, err)
	}
}

// remove drops node and its descendants from the mirror.
// It reports whether node was still mirrored.
func (t *WatchTree) remove(node *WatchNode) bool {
	if !node.markRemoved() {
		return false
	}

	if current, ok := t.registry.Get(node.path); ok && current == node {
		t.registry.Delete(node.path)
	}

	if node.parent != nil {
		node.parent.removeChild(node.Name())
	}

	for _, child := range node.Children() {
		t.remove(child)
	}
	return true
}

func (t *WatchTree) notify(event Event, node *WatchNode) {
	t.client.metrics.RecordWatchEvent(t.ctx, event.Type.String())
	if t.onEvent == nil {
		return
	}

	if t.options.times >= 0 && t.budget.Dec() < 0 {
		return
	}
	t.onEvent(event, node)
}

func (t *WatchTree) withinDepth(level int) bool {
	return t.options.depth < 0 || level < t.options.depth
}
