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
	"sync"

	"go.uber.org/atomic"

	gerrors "github.com/tochemey/recipes/errors"
)

// WatchDeleted blocks until the node is deleted or the context is done.
// It returns immediately when the node does not exist.
//
// It must not be called from a watch callback: the deletion event is
// delivered by the same dispatcher.
func (c *Client) WatchDeleted(ctx context.Context, path string) error {
	for {
		events := make(chan Event, 1)
		stat, err := c.exists(ctx, path, func(event Event) {
			select {
			case events <- event:
			default:
			}
		})
		if err != nil {
			return err
		}

		if stat == nil {
			return nil
		}

		select {
		case event := <-events:
			if event.Type == EventNodeDeleted {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WatchNonExistentNode arms a watch that calls fn once the missing node is
// created. It returns ErrNodeExists when the node is already there.
func (c *Client) WatchNonExistentNode(ctx context.Context, path string, fn func(Event)) error {
	var watcher Watcher
	watcher = func(event Event) {
		if event.Type == EventNodeCreated {
			fn(event)
			return
		}

		// the node came and went before we looked, wait for the next creation
		if stat, err := c.exists(context.WithoutCancel(ctx), path, watcher); err != nil {
			c.logger.Warnf("failed to re-arm creation watch on %s: %v", path, err)
		} else if stat != nil {
			fn(Event{Type: EventNodeCreated, Path: path})
		}
	}

	stat, err := c.exists(ctx, path, watcher)
	if err != nil {
		return err
	}

	if stat != nil {
		return gerrors.NewErrNodeExists(path)
	}
	return nil
}

// SelfWatch is a self-reinstalling data and children watch on a single node
type SelfWatch struct {
	client  *Client
	path    string
	handler func(Event)
	stopped *atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// AddSelfAndChildWatcher watches the node data and children and calls handler
// for every event. Both watches re-arm after each event and stop once the node
// is deleted or Stop is called.
func (c *Client) AddSelfAndChildWatcher(ctx context.Context, path string, handler func(Event)) (*SelfWatch, error) {
	watch := &SelfWatch{
		client:  c,
		path:    path,
		handler: handler,
		stopped: atomic.NewBool(false),
		done:    make(chan struct{}),
	}

	if _, _, err := c.getData(ctx, path, watch.onData); err != nil {
		return nil, err
	}

	if _, err := c.getChildren(ctx, path, watch.onChildren); err != nil {
		return nil, err
	}
	return watch, nil
}

// Path returns the watched path
func (w *SelfWatch) Path() string {
	return w.path
}

// Done is closed once the node is deleted or the watch stopped
func (w *SelfWatch) Done() <-chan struct{} {
	return w.done
}

// Stop prevents any further callback
func (w *SelfWatch) Stop() {
	w.stopped.Store(true)
	w.once.Do(func() { close(w.done) })
}

func (w *SelfWatch) onData(event Event) {
	w.handle(event, func() error {
		_, _, err := w.client.getData(context.Background(), w.path, w.onData)
		return err
	})
}

func (w *SelfWatch) onChildren(event Event) {
	w.handle(event, func() error {
		_, err := w.client.getChildren(context.Background(), w.path, w.onChildren)
		return err
	})
}

// handle runs on the dispatcher, so events are never handled concurrently
func (w *SelfWatch) handle(event Event, rearm func() error) {
	if w.stopped.Load() {
		return
	}

	if event.Type == EventNodeDeleted {
		w.handler(event)
		w.Stop()
		return
	}

	err := rearm()
	w.handler(event)
	if err == nil {
		return
	}

	if errors.Is(err, gerrors.ErrNoNode) {
		w.handler(Event{Type: EventNodeDeleted, Path: w.path})
		w.Stop()
		return
	}
	w.client.logger.Warnf("failed to re-arm watch on %s: %v", w.path, err)
}
