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
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tochemey/recipes/internal/zkpath"
)

type nodeState int

const (
	// nodePending is a root whose node does not exist yet
	nodePending nodeState = iota
	nodeActive
	nodeRemoved
)

// WatchNode mirrors one node of a watched subtree. It is mutated by the
// owning WatchTree as watch events arrive; accessors return copies.
type WatchNode struct {
	path  string
	level int

	mu       sync.RWMutex
	state    nodeState
	parent   *WatchNode
	data     []byte
	children []*WatchNode
	names    mapset.Set[string]
}

func newWatchNode(path string, level int, parent *WatchNode) *WatchNode {
	return &WatchNode{
		path:   path,
		level:  level,
		state:  nodePending,
		parent: parent,
		names:  mapset.NewThreadUnsafeSet[string](),
	}
}

// Path returns the node path
func (n *WatchNode) Path() string {
	return n.path
}

// Name returns the last segment of the node path
func (n *WatchNode) Name() string {
	return zkpath.Base(n.path)
}

// Level returns the depth of the node below the tree root
func (n *WatchNode) Level() int {
	return n.level
}

// Active reports whether the node exists and is being watched
func (n *WatchNode) Active() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state == nodeActive
}

// Data returns the last known node data
func (n *WatchNode) Data() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return clone(n.data)
}

// Children returns the known children in discovery order
func (n *WatchNode) Children() []*WatchNode {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*WatchNode, len(n.children))
	copy(out, n.children)
	return out
}

// Child returns the child with the given name
func (n *WatchNode) Child(name string) (*WatchNode, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, child := range n.children {
		if child.Name() == name {
			return child, true
		}
	}
	return nil, false
}

func (n *WatchNode) setData(data []byte) {
	n.mu.Lock()
	n.data = clone(data)
	n.mu.Unlock()
}

// activate marks the node active unless it was removed meanwhile
func (n *WatchNode) activate() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == nodeRemoved {
		return false
	}
	n.state = nodeActive
	return true
}

func (n *WatchNode) isRemoved() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state == nodeRemoved
}

// markRemoved reports whether this call removed the node
func (n *WatchNode) markRemoved() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == nodeRemoved {
		return false
	}
	n.state = nodeRemoved
	return true
}

func (n *WatchNode) addChild(child *WatchNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.names.Contains(child.Name()) {
		return
	}
	n.names.Add(child.Name())
	n.children = append(n.children, child)
}

func (n *WatchNode) removeChild(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.names.Contains(name) {
		return
	}
	n.names.Remove(name)
	for i, child := range n.children {
		if child.Name() == name {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

func (n *WatchNode) knownNames() mapset.Set[string] {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.names.Clone()
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
