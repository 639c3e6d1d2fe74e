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

// Package lock implements a distributed mutual exclusion lock on top of
// ephemeral sequential nodes. Waiters queue by sequence number and each one
// watches its nearest predecessor only.
package lock

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/zkpath"
)

// DefaultPrefix is the name prefix of lock nodes
const DefaultPrefix = "lock-"

// Option configures a Lock
type Option func(*Lock)

// WithPrefix sets the name prefix of the sequential nodes
func WithPrefix(prefix string) Option {
	return func(l *Lock) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithData sets the payload written into each lock node
func WithData(data []byte) Option {
	return func(l *Lock) {
		l.data = data
	}
}

// Lock is a distributed lock rooted at a path. A Lock value can be shared:
// every call to Lock queues a new contender.
type Lock struct {
	client *coord.Client
	path   string
	prefix string
	data   []byte
}

// New creates a Lock rooted at path
func New(client *coord.Client, path string, opts ...Option) *Lock {
	l := &Lock{
		client: client,
		path:   path,
		prefix: DefaultPrefix,
		data:   []byte("lock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock root
func (l *Lock) Path() string {
	return l.path
}

// Lock blocks until the lock is held or the context is done. The context
// bounds the wait only: the returned Handle stays valid until Unlock.
// On failure the contender node is removed before returning.
func (l *Lock) Lock(ctx context.Context) (*Handle, error) {
	start := time.Now()
	if _, err := l.client.EnsurePath(ctx, l.path); err != nil {
		return nil, err
	}

	node, err := l.client.Create(ctx, zkpath.Join(l.path, l.prefix), l.data, coord.EphemeralSequential)
	if err != nil {
		return nil, err
	}

	handle := &Handle{
		client:   l.client,
		path:     l.path,
		node:     node,
		released: atomic.NewBool(false),
	}

	if handle.sequence, err = zkpath.SequenceNumber(node); err != nil {
		l.abandon(handle)
		return nil, err
	}

	if err := l.await(ctx, handle); err != nil {
		l.abandon(handle)
		return nil, err
	}

	l.client.Metrics().RecordLockAcquired(ctx, time.Since(start))
	l.client.Logger().Debugf("lock %s acquired with %s", l.path, node)
	return handle, nil
}

// Do runs fn while holding the lock and releases it afterwards
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	handle, err := l.Lock(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(ctx)
	if err := handle.Unlock(context.WithoutCancel(ctx)); err != nil {
		l.client.Logger().Warnf("failed to release lock %s: %v", l.path, err)
	}
	return fnErr
}

// await walks the queue until no contender ahead of handle remains
func (l *Lock) await(ctx context.Context, handle *Handle) error {
	for {
		predecessor, err := l.predecessor(ctx, handle)
		if err != nil {
			return err
		}

		if predecessor == "" {
			return nil
		}

		l.client.Logger().Debugf("%s waits for %s", handle.node, predecessor)
		if err := l.client.WatchDeleted(ctx, predecessor); err != nil {
			return err
		}
	}
}

// predecessor returns the contender right ahead of handle, or an empty path
// when handle holds the lowest sequence number
func (l *Lock) predecessor(ctx context.Context, handle *Handle) (string, error) {
	children, err := l.client.GetChildren(ctx, l.path)
	if err != nil {
		return "", err
	}

	own := zkpath.Base(handle.node)
	if !slices.Contains(children, own) {
		// the session that owned the node expired
		return "", gerrors.ErrLockNotHeld
	}

	contenders := make([]contender, 0, len(children))
	for _, name := range children {
		if name == own || !strings.HasPrefix(name, l.prefix) {
			continue
		}

		sequence, err := zkpath.SequenceNumber(name)
		if err != nil {
			continue
		}
		contenders = append(contenders, contender{name: name, sequence: sequence})
	}

	slices.SortFunc(contenders, func(a, b contender) int {
		return int(a.sequence - b.sequence)
	})

	predecessor := ""
	for _, c := range contenders {
		if c.sequence >= handle.sequence {
			break
		}
		predecessor = zkpath.Join(l.path, c.name)
	}
	return predecessor, nil
}

func (l *Lock) abandon(handle *Handle) {
	if err := handle.Unlock(context.Background()); err != nil {
		l.client.Logger().Warnf("failed to remove lock node %s: %v", handle.node, err)
	}
}

type contender struct {
	name     string
	sequence int64
}

// Handle is a held lock
type Handle struct {
	client   *coord.Client
	path     string
	node     string
	sequence int64
	released *atomic.Bool
}

// Path returns the lock root
func (h *Handle) Path() string {
	return h.path
}

// Node returns the path of the node backing the lock
func (h *Handle) Node() string {
	return h.node
}

// Sequence returns the queue position of the node
func (h *Handle) Sequence() int64 {
	return h.sequence
}

// Unlock releases the lock by removing the node. Calling it again is a no-op.
func (h *Handle) Unlock(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}

	if err := h.client.Remove(ctx, h.node); err != nil && !errors.Is(err, gerrors.ErrNoNode) {
		h.released.Store(false)
		return err
	}
	return nil
}
