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
	"fmt"
	"time"
)

// CreateMode controls the lifetime and naming of a created node
type CreateMode int

const (
	// Persistent nodes live until explicitly removed
	Persistent CreateMode = iota
	// Ephemeral nodes are removed when the creating session ends
	Ephemeral
	// PersistentSequential nodes get a monotonically increasing suffix
	PersistentSequential
	// EphemeralSequential nodes are both ephemeral and sequential
	EphemeralSequential
)

// IsEphemeral reports whether nodes of this mode are tied to the session
func (m CreateMode) IsEphemeral() bool {
	return m == Ephemeral || m == EphemeralSequential
}

// IsSequential reports whether nodes of this mode get a sequence suffix
func (m CreateMode) IsSequential() bool {
	return m == PersistentSequential || m == EphemeralSequential
}

// String returns the mode name
func (m CreateMode) String() string {
	switch m {
	case Persistent:
		return "PERSISTENT"
	case Ephemeral:
		return "EPHEMERAL"
	case PersistentSequential:
		return "PERSISTENT_SEQUENTIAL"
	case EphemeralSequential:
		return "EPHEMERAL_SEQUENTIAL"
	default:
		return fmt.Sprintf("CreateMode(%d)", int(m))
	}
}

// EventType identifies what happened to a watched node
type EventType int

const (
	EventNodeCreated EventType = iota + 1
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
)

// String returns the event name
func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "NODE_CREATED"
	case EventNodeDeleted:
		return "NODE_DELETED"
	case EventNodeDataChanged:
		return "NODE_DATA_CHANGED"
	case EventNodeChildrenChanged:
		return "NODE_CHILDREN_CHANGED"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is delivered to a Watcher when the watched node changes
type Event struct {
	Type EventType
	Path string
}

// Watcher is a one-shot watch callback. Backends deliver watcher and
// connection callbacks of a session one at a time.
type Watcher func(Event)

// ConnectionState is the state of the session with the coordination service
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	// StateExpired means the session is gone along with its ephemeral nodes
	StateExpired
	StateClosed
)

// String returns the state name
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "SYNC_CONNECTED"
	case StateExpired:
		return "EXPIRED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Stat carries node metadata
type Stat struct {
	// Version counts data changes
	Version int64
	// CVersion counts children changes
	CVersion int64
	// Ephemeral is true for session bound nodes
	Ephemeral   bool
	NumChildren int
	Created     time.Time
	Modified    time.Time
}
