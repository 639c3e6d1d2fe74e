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

// Package coord is the retrying client facade over a watch based
// coordination service, plus the watch utilities the recipes build on.
package coord

import (
	"context"
	"errors"
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"

	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/errorschain"
	"github.com/tochemey/recipes/internal/metric"
	"github.com/tochemey/recipes/internal/xsync"
	"github.com/tochemey/recipes/internal/zkpath"
	"github.com/tochemey/recipes/log"
	"github.com/tochemey/recipes/retry"
)

const (
	defaultInitialDelay = 50 * time.Millisecond
	defaultMaxDelay     = 2 * time.Second
)

type listenerKind int

const (
	onReconnect listenerKind = iota
	onDisconnect
	onStateChange
)

type listener struct {
	kind listenerKind
	fn   func(ConnectionState)
}

// Client wraps a Backend with retries, logging and connection notifications.
// It is safe for concurrent use.
type Client struct {
	backend       Backend
	policy        retry.Policy
	logger        log.Logger
	meterProvider otelmetric.MeterProvider
	metrics       *metric.Recipes

	listeners   *xsync.Map[uint64, listener]
	listenerSeq *atomic.Uint64
	unsubscribe func()

	mu        sync.Mutex
	lastState ConnectionState
	closed    *atomic.Bool
}

// New creates a Client over the given backend
func New(backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("coord: backend is nil")
	}

	client := &Client{
		backend:     backend,
		policy:      DefaultRetryPolicy(),
		logger:      log.DefaultLogger,
		listeners:   xsync.NewMap[uint64, listener](),
		listenerSeq: atomic.NewUint64(0),
		lastState:   backend.State(),
		closed:      atomic.NewBool(false),
	}

	for _, opt := range opts {
		opt.Apply(client)
	}

	instruments, err := metric.NewRecipes(metric.New(metric.WithMeterProvider(client.meterProvider)).Meter())
	if err != nil {
		return nil, err
	}

	client.metrics = instruments
	client.unsubscribe = backend.Subscribe(client.handleState)
	return client, nil
}

// Backend returns the underlying backend
func (c *Client) Backend() Backend {
	return c.backend
}

// Logger returns the client logger
func (c *Client) Logger() log.Logger {
	return c.logger
}

// Metrics returns the instruments shared by the recipes built on this client
func (c *Client) Metrics() *metric.Recipes {
	return c.metrics
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return c.backend.State()
}

// EnsurePath creates every missing node along the path. It is idempotent.
func (c *Client) EnsurePath(ctx context.Context, path string) (string, error) {
	if err := zkpath.Validate(path); err != nil {
		return "", err
	}

	for _, current := range zkpath.Split(path) {
		if _, err := c.Create(ctx, current, nil, Persistent); err != nil && !errors.Is(err, gerrors.ErrNodeExists) {
			return "", err
		}
	}
	return path, nil
}

// Create creates a node and returns its actual path
func (c *Client) Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.backend.Create(ctx, path, data, mode)
	})
}

// Remove removes a childless node
func (c *Client) Remove(ctx context.Context, path string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	return retry.Run(ctx, c.policy, func(ctx context.Context) error {
		return c.backend.Delete(ctx, path)
	})
}

// Rmr removes a node and its whole subtree. Missing nodes are ignored.
func (c *Client) Rmr(ctx context.Context, path string) error {
	children, err := c.GetChildren(ctx, path)
	if err != nil {
		if errors.Is(err, gerrors.ErrNoNode) {
			return nil
		}
		return err
	}

	chain := errorschain.New(errorschain.CollectAll())
	for _, child := range children {
		chain.Step(func() error { return c.Rmr(ctx, zkpath.Join(path, child)) })
	}

	if err := chain.Run(); err != nil {
		return err
	}

	if err := c.Remove(ctx, path); err != nil && !errors.Is(err, gerrors.ErrNoNode) {
		return err
	}
	return nil
}

// Exists returns the node stat or nil when the node is missing
func (c *Client) Exists(ctx context.Context, path string) (*Stat, error) {
	return c.exists(ctx, path, nil)
}

// GetData returns the node data. A missing node yields ErrNoNode.
func (c *Client) GetData(ctx context.Context, path string) ([]byte, error) {
	data, _, err := c.getData(ctx, path, nil)
	return data, err
}

// SetData replaces the node data. Failures are logged and never returned.
func (c *Client) SetData(ctx context.Context, path string, data []byte) {
	if err := c.checkOpen(); err != nil {
		c.logger.Warnf("could not update %s: %v", path, err)
		return
	}

	err := retry.Run(ctx, c.policy, func(ctx context.Context) error {
		_, err := c.backend.SetData(ctx, path, data)
		return err
	})
	if err != nil {
		c.logger.Warnf("could not update %s with %q: %v", path, data, err)
	}
}

// GetChildren returns the names of the node children
func (c *Client) GetChildren(ctx context.Context, path string) ([]string, error) {
	return c.getChildren(ctx, path, nil)
}

// OnReconnect registers fn to run when the session is connected again
// after a disconnect or an expiry. The returned function unregisters it.
func (c *Client) OnReconnect(fn func()) func() {
	return c.addListener(onReconnect, func(ConnectionState) { fn() })
}

// OnDisconnect registers fn to run when the session expires
func (c *Client) OnDisconnect(fn func()) func() {
	return c.addListener(onDisconnect, func(ConnectionState) { fn() })
}

// OnStateChange registers fn to run on every connection state change
func (c *Client) OnStateChange(fn func(ConnectionState)) func() {
	return c.addListener(onStateChange, fn)
}

// Close unregisters listeners and closes the backend
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.unsubscribe()
	c.listeners.Reset()
	return c.backend.Close()
}

func (c *Client) exists(ctx context.Context, path string, watcher Watcher) (*Stat, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) (*Stat, error) {
		return c.backend.Exists(ctx, path, watcher)
	})
}

func (c *Client) getData(ctx context.Context, path string, watcher Watcher) ([]byte, *Stat, error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}

	var stat *Stat
	data, err := retry.Do(ctx, c.policy, func(ctx context.Context) (data []byte, err error) {
		data, stat, err = c.backend.GetData(ctx, path, watcher)
		return data, err
	})
	return data, stat, err
}

func (c *Client) getChildren(ctx context.Context, path string, watcher Watcher) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) ([]string, error) {
		return c.backend.GetChildren(ctx, path, watcher)
	})
}

func (c *Client) addListener(kind listenerKind, fn func(ConnectionState)) func() {
	id := c.listenerSeq.Inc()
	c.listeners.Set(id, listener{kind: kind, fn: fn})
	return func() {
		c.listeners.Delete(id)
	}
}

// handleState runs on the backend dispatcher
func (c *Client) handleState(state ConnectionState) {
	c.mu.Lock()
	previous := c.lastState
	c.lastState = state
	c.mu.Unlock()

	if previous == state {
		return
	}

	c.logger.Infof("connection state changed from %s to %s", previous, state)
	reconnected := state == StateConnected && (previous == StateDisconnected || previous == StateExpired)
	expired := state == StateExpired

	for _, l := range c.listeners.Values() {
		switch {
		case l.kind == onStateChange:
			l.fn(state)
		case l.kind == onReconnect && reconnected:
			l.fn(state)
		case l.kind == onDisconnect && expired:
			l.fn(state)
		}
	}
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return gerrors.ErrClosed
	}
	return nil
}

func isRetryable(err error) bool {
	return gerrors.IsTransient(err)
}
