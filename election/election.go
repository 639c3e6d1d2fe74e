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

// Package election implements leader election on top of the distributed
// lock: the contender holding the lock is the leader until it resigns or
// its session ends.
package election

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/zkpath"
	"github.com/tochemey/recipes/lock"
)

const prefix = "leader-"

// Election is a leader election rooted at a path
type Election struct {
	client   *coord.Client
	path     string
	identity []byte
	lock     *lock.Lock
}

// Option configures an Election
type Option func(*Election)

// WithIdentity sets the payload published by the contender, returned by Leader
func WithIdentity(identity []byte) Option {
	return func(e *Election) {
		e.identity = identity
	}
}

// New creates an Election rooted at path
func New(client *coord.Client, path string, opts ...Option) *Election {
	e := &Election{
		client:   client,
		path:     path,
		identity: []byte("leadership"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lock = lock.New(client, path, lock.WithPrefix(prefix), lock.WithData(e.identity))
	return e
}

// RequestLeadership campaigns in the background and calls fn exactly once,
// either with a release function once elected or with the error that ended
// the campaign. Holding the release function unused is the leadership term.
func (e *Election) RequestLeadership(ctx context.Context, fn func(release func(), err error)) {
	go func() {
		leadership, err := e.Campaign(ctx)
		if err != nil {
			fn(nil, err)
			return
		}

		fn(func() {
			if err := leadership.Resign(context.WithoutCancel(ctx)); err != nil {
				e.client.Logger().Warnf("failed to resign leadership of %s: %v", e.path, err)
			}
		}, nil)
	}()
}

// Campaign blocks until elected or the context is done
func (e *Election) Campaign(ctx context.Context) (*Leadership, error) {
	handle, err := e.lock.Lock(ctx)
	if err != nil {
		return nil, err
	}

	e.client.Logger().Infof("elected leader of %s with %s", e.path, handle.Node())
	return newLeadership(e.client, handle), nil
}

// Leader returns the identity published by the current leader. It returns
// ErrNoNode when there is no contender.
func (e *Election) Leader(ctx context.Context) ([]byte, error) {
	children, err := e.client.GetChildren(ctx, e.path)
	if err != nil {
		return nil, err
	}

	contenders := slices.DeleteFunc(children, func(name string) bool {
		return !strings.HasPrefix(name, prefix)
	})
	if len(contenders) == 0 {
		return nil, gerrors.NewErrNoNode(zkpath.Join(e.path, prefix))
	}

	slices.SortFunc(contenders, func(a, b string) int {
		x, _ := zkpath.SequenceNumber(a)
		y, _ := zkpath.SequenceNumber(b)
		return int(x - y)
	})

	for _, name := range contenders {
		data, err := e.client.GetData(ctx, zkpath.Join(e.path, name))
		if errors.Is(err, gerrors.ErrNoNode) {
			continue
		}
		return data, err
	}
	return nil, gerrors.NewErrNoNode(zkpath.Join(e.path, prefix))
}

// Leadership is a leadership term
type Leadership struct {
	client      *coord.Client
	handle      *lock.Handle
	cancel      context.CancelFunc
	done        chan struct{}
	stopped     chan struct{}
	once        sync.Once
	unsubscribe func()
}

func newLeadership(client *coord.Client, handle *lock.Handle) *Leadership {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Leadership{
		client:  client,
		handle:  handle,
		cancel:  cancel,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	l.unsubscribe = client.OnDisconnect(l.end)
	go l.monitor(ctx)
	return l
}

// Node returns the path of the node backing the term
func (l *Leadership) Node() string {
	return l.handle.Node()
}

// Done is closed when the term ends: after Resign, once the leader node
// disappears or when the session expires
func (l *Leadership) Done() <-chan struct{} {
	return l.done
}

// Resign ends the term and removes the leader node
func (l *Leadership) Resign(ctx context.Context) error {
	l.end()
	<-l.stopped
	return l.handle.Unlock(ctx)
}

func (l *Leadership) monitor(ctx context.Context) {
	defer close(l.stopped)
	defer l.unsubscribe()
	if err := l.client.WatchDeleted(ctx, l.handle.Node()); err != nil && !errors.Is(err, context.Canceled) {
		l.client.Logger().Warnf("lost track of leader node %s: %v", l.handle.Node(), err)
	}
	l.end()
}

func (l *Leadership) end() {
	l.once.Do(func() {
		l.cancel()
		close(l.done)
	})
}
