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

// Package ephemeral keeps ephemeral nodes alive across connection losses,
// session expiries and external deletions by re-creating them.
package ephemeral

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/xsync"
	"github.com/tochemey/recipes/internal/zkpath"
)

// Registry tracks the persistent ephemeral nodes of one client
type Registry struct {
	client      *coord.Client
	handles     *xsync.Map[uint64, *Handle]
	sequence    *atomic.Uint64
	expired     *atomic.Bool
	closed      *atomic.Bool
	unsubscribe func()
}

// NewRegistry creates a Registry listening to the client connection state
func NewRegistry(client *coord.Client) *Registry {
	registry := &Registry{
		client:   client,
		handles:  xsync.NewMap[uint64, *Handle](),
		sequence: atomic.NewUint64(0),
		expired:  atomic.NewBool(false),
		closed:   atomic.NewBool(false),
	}
	registry.unsubscribe = client.OnStateChange(registry.handleState)
	return registry
}

// Create creates the node and keeps it alive until the handle is closed.
// Non ephemeral modes are treated as Ephemeral. A sequential node keeps the
// path assigned at creation: later re-creations use that exact path.
func (r *Registry) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (*Handle, error) {
	if r.closed.Load() {
		return nil, gerrors.ErrClosed
	}

	if !mode.IsEphemeral() {
		mode = coord.Ephemeral
	}

	if parent := zkpath.Parent(path); parent != zkpath.Root {
		if _, err := r.client.EnsurePath(ctx, parent); err != nil {
			return nil, err
		}
	}

	created, err := r.client.Create(ctx, path, data, mode)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := &Handle{
		registry: r,
		id:       r.sequence.Inc(),
		path:     created,
		data:     data,
		active:   atomic.NewBool(true),
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	r.handles.Set(handle.id, handle)
	go handle.run(runCtx)

	r.client.Logger().Debugf("persistent ephemeral node %s registered", created)
	return handle, nil
}

// Len returns the number of registered nodes
func (r *Registry) Len() int {
	return r.handles.Len()
}

// Close deregisters every node. The nodes themselves are left in place and
// disappear with the session.
func (r *Registry) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.unsubscribe()
	for _, handle := range r.handles.Values() {
		handle.Close()
	}
}

// handleState runs on the client dispatcher and must not block
func (r *Registry) handleState(state coord.ConnectionState) {
	switch state {
	case coord.StateExpired:
		r.expired.Store(true)
		for _, handle := range r.handles.Values() {
			handle.active.Store(false)
		}
		r.client.Logger().Warnf("session expired: %d ephemeral node(s) lost, re-creating them on reconnect", r.handles.Len())
	case coord.StateConnected:
		if r.expired.CompareAndSwap(true, false) {
			r.client.Logger().Infof("session renewed: re-creating %d ephemeral node(s)", r.handles.Len())
		}
		for _, handle := range r.handles.Values() {
			handle.wake()
		}
	case coord.StateDisconnected:
		r.client.Logger().Warn("connection lost: ephemeral nodes are unreachable until reconnect")
	}
}

// Handle is a registered persistent ephemeral node
type Handle struct {
	registry *Registry
	id       uint64
	data     []byte
	active   *atomic.Bool
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once

	mu          sync.Mutex
	path        string
	cancelWatch context.CancelFunc
}

// Path returns the node path
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

// Active reports whether the node is known to exist
func (h *Handle) Active() bool {
	return h.active.Load()
}

// Close deregisters the node. It does not delete it.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.registry.handles.Delete(h.id)
		h.cancel()
		<-h.done
	})
}

// wake interrupts the current watch so the node is verified again
func (h *Handle) wake() {
	select {
	case h.kick <- struct{}{}:
	default:
	}

	h.mu.Lock()
	if h.cancelWatch != nil {
		h.cancelWatch()
	}
	h.mu.Unlock()
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	logger := h.registry.client.Logger()

	for ctx.Err() == nil {
		if err := h.ensure(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("failed to re-create ephemeral node %s: %v", h.Path(), err)
			h.sleep(ctx)
			continue
		}

		watchCtx, cancel := context.WithCancel(ctx)
		h.mu.Lock()
		h.cancelWatch = cancel
		h.mu.Unlock()

		// a wake up raced the arming of the watch
		select {
		case <-h.kick:
			cancel()
			continue
		default:
		}

		err := h.registry.client.WatchDeleted(watchCtx, h.Path())
		cancel()
		if ctx.Err() != nil {
			return
		}

		switch {
		case err == nil:
			h.active.Store(false)
			logger.Infof("ephemeral node %s deleted, re-creating it", h.Path())
		case errors.Is(err, context.Canceled):
			// woken up by a reconnect
		default:
			logger.Warnf("failed to watch ephemeral node %s: %v", h.Path(), err)
			h.sleep(ctx)
		}
	}
}

// ensure creates the node when it is missing
func (h *Handle) ensure(ctx context.Context) error {
	client := h.registry.client
	path := h.Path()

	stat, err := client.Exists(ctx, path)
	if err != nil {
		return err
	}

	if stat == nil {
		if parent := zkpath.Parent(path); parent != zkpath.Root {
			if _, err := client.EnsurePath(ctx, parent); err != nil {
				return err
			}
		}

		if _, err := client.Create(ctx, path, h.data, coord.Ephemeral); err != nil && !errors.Is(err, gerrors.ErrNodeExists) {
			return err
		}
		client.Logger().Debugf("ephemeral node %s re-created", path)
	}

	h.active.Store(true)
	return nil
}

// sleep waits for the next reconnect
func (h *Handle) sleep(ctx context.Context) {
	select {
	case <-h.kick:
	case <-ctx.Done():
	}
}
