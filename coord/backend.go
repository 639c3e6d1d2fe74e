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

import "context"

// Backend is the raw, watch based coordination service session.
//
// Watch semantics follow ZooKeeper. Exists arms a watch whether or not the
// node exists, GetData and GetChildren arm one only on an existing node.
// Creating a node fires EventNodeCreated on its path and
// EventNodeChildrenChanged on its parent. Deleting a node fires
// EventNodeDeleted on its path and EventNodeChildrenChanged on its parent.
// SetData fires EventNodeDataChanged. Every watch fires at most once.
//
// Errors wrap the sentinels of the errors package.
type Backend interface {
	// Create creates a node and returns its actual path, which differs from
	// the requested one for sequential modes.
	Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error)
	// Delete removes a childless node
	Delete(ctx context.Context, path string) error
	// Exists returns the node stat or nil when the node is missing
	Exists(ctx context.Context, path string, watcher Watcher) (*Stat, error)
	// GetData returns the node data
	GetData(ctx context.Context, path string, watcher Watcher) ([]byte, *Stat, error)
	// SetData replaces the node data
	SetData(ctx context.Context, path string, data []byte) (*Stat, error)
	// GetChildren returns the names of the node children
	GetChildren(ctx context.Context, path string, watcher Watcher) ([]string, error)
	// State returns the current connection state
	State() ConnectionState
	// Subscribe registers a connection state listener
	Subscribe(listener func(ConnectionState)) (unsubscribe func())
	// Close ends the session
	Close() error
}
