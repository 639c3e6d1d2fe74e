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

package etcd

import (
	"context"
	"strconv"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/tochemey/recipes/coord"
)

// classifier turns an etcd event into the event of a one-shot watch. false
// means the event does not concern the watch.
type classifier func(event *clientv3.Event) (coord.EventType, bool)

// createdEvent serves existence watches on missing nodes
func createdEvent(event *clientv3.Event) (coord.EventType, bool) {
	if event.Type == clientv3.EventTypePut {
		return coord.EventNodeCreated, true
	}
	return 0, false
}

// dataEvent serves data watches on existing nodes
func dataEvent(event *clientv3.Event) (coord.EventType, bool) {
	switch {
	case event.Type == clientv3.EventTypeDelete:
		return coord.EventNodeDeleted, true
	case event.IsCreate():
		return coord.EventNodeCreated, true
	default:
		return coord.EventNodeDataChanged, true
	}
}

// childrenEvent serves child watches: the node deletion or the creation or
// deletion of a direct child. Data changes and deeper keys are ignored.
func childrenEvent(key, prefix string) classifier {
	return func(event *clientv3.Event) (coord.EventType, bool) {
		if string(event.Kv.Key) == key {
			if event.Type == clientv3.EventTypeDelete {
				return coord.EventNodeDeleted, true
			}
			return 0, false
		}

		if _, ok := childName(prefix, event.Kv.Key); !ok {
			return 0, false
		}

		if event.Type == clientv3.EventTypeDelete || event.IsCreate() {
			return coord.EventNodeChildrenChanged, true
		}
		return 0, false
	}
}

// watch arms a one-shot watch on the key starting right after the revision
// the caller observed, so no change between the read and the watch is lost
func (x *Session) watch(path, key string, opts []clientv3.OpOption, revision int64, classify classifier, watcher coord.Watcher) {
	if watcher == nil {
		return
	}

	x.mu.Lock()
	if x.state == coord.StateClosed {
		x.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(x.watchCtx)
	x.wg.Add(1)
	x.mu.Unlock()

	opts = append(opts, clientv3.WithRev(revision+1))
	events := x.watcher.Watch(clientv3.WithRequireLeader(ctx), key, opts...)
	go func() {
		defer x.wg.Done()
		defer cancel()
		for resp := range events {
			if err := resp.Err(); err != nil {
				x.logger.Warnf("watch on %s ended: %v", path, err)
				return
			}

			for _, event := range resp.Events {
				if eventType, ok := classify(event); ok {
					x.dispatcher.Dispatch(func() {
						watcher(coord.Event{Type: eventType, Path: path})
					})
					return
				}
			}
		}
	}()
}

// counterValue reads a sequence counter, zero when missing
func counterValue(kvs []*mvccpb.KeyValue) int64 {
	if len(kvs) == 0 {
		return 0
	}
	value, _ := strconv.ParseInt(string(kvs[0].Value), 10, 64)
	return value
}

// counterMoved reports whether the sequence counter changed since revision
func counterMoved(kvs []*mvccpb.KeyValue, revision int64) bool {
	if len(kvs) == 0 {
		return revision != 0
	}
	return kvs[0].ModRevision != revision
}
