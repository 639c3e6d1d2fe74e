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

package memory

import (
	"context"
	"sync"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/dispatch"
)

// Session is a client session of a Server. It implements coord.Backend.
type Session struct {
	server     *Server
	id         int64
	state      coord.ConnectionState
	dispatcher *dispatch.Dispatcher

	listenersMu sync.Mutex
	listeners   map[uint64]func(coord.ConnectionState)
	nextID      uint64
}

// enforce compilation error
var _ coord.Backend = (*Session)(nil)

func newSession(server *Server, id int64) *Session {
	return &Session{
		server:     server,
		id:         id,
		state:      coord.StateConnected,
		dispatcher: dispatch.New(server.logger),
		listeners:  make(map[uint64]func(coord.ConnectionState)),
	}
}

// ID returns the current session id. It changes after Renew.
func (x *Session) ID() int64 {
	x.server.mu.Lock()
	defer x.server.mu.Unlock()
	return x.id
}

// Create creates a node
func (x *Session) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (string, error) {
	var created string
	err := x.server.call(ctx, x, func() (err error) {
		created, err = x.server.create(x, path, data, mode)
		return err
	})
	return created, err
}

// Delete removes a childless node
func (x *Session) Delete(ctx context.Context, path string) error {
	return x.server.call(ctx, x, func() error {
		return x.server.delete(path)
	})
}

// Exists returns the node stat or nil when missing
func (x *Session) Exists(ctx context.Context, path string, watcher coord.Watcher) (*coord.Stat, error) {
	var stat *coord.Stat
	err := x.server.call(ctx, x, func() (err error) {
		stat, err = x.server.exists(x, path, watcher)
		return err
	})
	return stat, err
}

// GetData returns the node data
func (x *Session) GetData(ctx context.Context, path string, watcher coord.Watcher) ([]byte, *coord.Stat, error) {
	var (
		data []byte
		stat *coord.Stat
	)
	err := x.server.call(ctx, x, func() (err error) {
		data, stat, err = x.server.getData(x, path, watcher)
		return err
	})
	return data, stat, err
}

// SetData replaces the node data
func (x *Session) SetData(ctx context.Context, path string, data []byte) (*coord.Stat, error) {
	var stat *coord.Stat
	err := x.server.call(ctx, x, func() (err error) {
		stat, err = x.server.setData(path, data)
		return err
	})
	return stat, err
}

// GetChildren returns the sorted child names
func (x *Session) GetChildren(ctx context.Context, path string, watcher coord.Watcher) ([]string, error) {
	var children []string
	err := x.server.call(ctx, x, func() (err error) {
		children, err = x.server.getChildren(x, path, watcher)
		return err
	})
	return children, err
}

// State returns the connection state
func (x *Session) State() coord.ConnectionState {
	x.server.mu.Lock()
	defer x.server.mu.Unlock()
	return x.state
}

// Subscribe registers a connection state listener
func (x *Session) Subscribe(listener func(coord.ConnectionState)) func() {
	x.listenersMu.Lock()
	x.nextID++
	id := x.nextID
	x.listeners[id] = listener
	x.listenersMu.Unlock()

	return func() {
		x.listenersMu.Lock()
		delete(x.listeners, id)
		x.listenersMu.Unlock()
	}
}

// Close ends the session, removing its ephemeral nodes and watches
func (x *Session) Close() error {
	x.server.mu.Lock()
	if x.state == coord.StateClosed {
		x.server.mu.Unlock()
		return nil
	}
	x.server.dropSession(x)
	x.state = coord.StateClosed
	x.server.mu.Unlock()

	x.dispatcher.Stop()
	return nil
}

// Disconnect simulates a lost connection. Calls fail with ErrConnectionLoss
// until Reconnect. Ephemeral nodes and watches survive.
func (x *Session) Disconnect() {
	x.transition(coord.StateDisconnected, nil)
}

// Reconnect restores a disconnected session
func (x *Session) Reconnect() {
	x.transition(coord.StateConnected, nil)
}

// Expire simulates a session expiry: ephemeral nodes and watches of the
// session are dropped and calls fail with ErrSessionExpired until Renew.
func (x *Session) Expire() {
	x.transition(coord.StateExpired, func() {
		x.server.dropSession(x)
	})
}

// Renew replaces an expired session with a fresh one and reports Connected
func (x *Session) Renew() {
	x.transition(coord.StateConnected, func() {
		x.server.nextSessionID++
		x.id = x.server.nextSessionID
	})
}

func (x *Session) transition(state coord.ConnectionState, apply func()) {
	x.server.mu.Lock()
	if x.state == coord.StateClosed || x.state == state {
		x.server.mu.Unlock()
		return
	}

	if apply != nil {
		apply()
	}
	x.state = state
	x.server.mu.Unlock()

	x.listenersMu.Lock()
	listeners := make([]func(coord.ConnectionState), 0, len(x.listeners))
	for _, listener := range x.listeners {
		listeners = append(listeners, listener)
	}
	x.listenersMu.Unlock()

	x.dispatcher.Dispatch(func() {
		for _, listener := range listeners {
			listener(state)
		}
	})
}

func (x *Session) usable() error {
	switch x.state {
	case coord.StateDisconnected:
		return gerrors.ErrConnectionLoss
	case coord.StateExpired:
		return gerrors.ErrSessionExpired
	case coord.StateClosed:
		return gerrors.ErrClosed
	default:
		return nil
	}
}
