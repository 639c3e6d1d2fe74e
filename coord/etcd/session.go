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

// Package etcd implements the coordination backend on etcd. Nodes are keys
// under a namespace, ephemeral nodes are attached to the lease of a
// concurrency session and one-shot watches are etcd watches cancelled after
// their first relevant event.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/flowchartsman/retry"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.etcd.io/etcd/client/v3/namespace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/dispatch"
	"github.com/tochemey/recipes/internal/zkpath"
	"github.com/tochemey/recipes/log"
)

const dialAttempts = 5

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is a coordination session on etcd. It implements coord.Backend.
type Session struct {
	config     *Config
	client     *clientv3.Client
	kv         clientv3.KV
	watcher    clientv3.Watcher
	closeFunc  func(*clientv3.Client) error
	logger     log.Logger
	dispatcher *dispatch.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         coord.ConnectionState
	lease         *concurrency.Session
	watchCtx      context.Context
	cancelWatches context.CancelFunc

	listenersMu sync.Mutex
	listeners   map[uint64]func(coord.ConnectionState)
	nextID      uint64
}

// enforce compilation error
var _ coord.Backend = (*Session)(nil)

// New connects to etcd and opens a session
func New(config *Config, opts ...Option) (*Session, error) {
	return newSession(config, clientv3.New, func(client *clientv3.Client) error { return client.Close() }, opts...)
}

func newSession(config *Config, clientFunc func(clientv3.Config) (*clientv3.Client, error), closeFunc func(*clientv3.Client) error, opts ...Option) (*Session, error) {
	if config == nil {
		return nil, errors.New("coord/etcd: config is nil")
	}

	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := clientFunc(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
		TLS:         config.TLS,
		Username:    config.Username,
		Password:    config.Password,
		Context:     config.Context,
	})
	if err != nil {
		return nil, err
	}

	// the client dials lazily, make sure a member answers
	retrier := retry.NewRetrier(dialAttempts, 100*time.Millisecond, time.Second)
	err = retrier.RunContext(config.Context, func(ctx context.Context) error {
		statusCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
		_, err := client.Status(statusCtx, config.Endpoints[0])
		return err
	})
	if err != nil {
		if cerr := closeFunc(client); cerr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to close etcd client: %w", cerr))
		}
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	prefix := normalizeNamespace(config.Namespace)
	session := &Session{
		config:    config,
		client:    client,
		kv:        namespace.NewKV(client.KV, prefix),
		watcher:   namespace.NewWatcher(client.Watcher, prefix),
		closeFunc: closeFunc,
		logger:    log.DefaultLogger,
		state:     coord.StateConnected,
		listeners: make(map[uint64]func(coord.ConnectionState)),
	}

	for _, opt := range opts {
		opt(session)
	}

	session.dispatcher = dispatch.New(session.logger)
	session.ctx, session.cancel = context.WithCancel(config.Context)
	session.watchCtx, session.cancelWatches = context.WithCancel(session.ctx)

	lease, err := session.grant(session.ctx)
	if err != nil {
		session.cancel()
		session.dispatcher.Stop()
		_ = closeFunc(client)
		return nil, fmt.Errorf("failed to open etcd session: %w", err)
	}
	session.lease = lease

	session.wg.Add(2)
	go session.monitorLease()
	go session.monitorConnection()
	return session, nil
}

// Create creates a node
func (x *Session) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (string, error) {
	if err := zkpath.Validate(path); err != nil {
		return "", err
	}

	if path == zkpath.Root {
		return "", gerrors.NewErrNodeExists(path)
	}

	if err := x.usable(); err != nil {
		return "", err
	}

	lease := clientv3.NoLease
	if mode.IsEphemeral() {
		var err error
		if lease, err = x.leaseID(); err != nil {
			return "", err
		}
	}

	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	parent := zkpath.Parent(path)
	for {
		target := path
		var (
			cmps     []clientv3.Cmp
			ops      []clientv3.Op
			revision int64
		)

		if parent != zkpath.Root {
			cmps = append(cmps,
				clientv3.Compare(clientv3.CreateRevision(nodeKey(parent)), ">", 0),
				clientv3.Compare(clientv3.LeaseValue(nodeKey(parent)), "=", clientv3.NoLease))
		}

		if mode.IsSequential() {
			seq, current, err := x.sequence(ctx, parent)
			if err != nil {
				return "", x.toError(path, err)
			}
			revision = current

			target = zkpath.Sequential(path, seq)
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(sequenceKey(parent)), "=", revision))
			ops = append(ops, clientv3.OpPut(sequenceKey(parent), strconv.FormatInt(seq+1, 10)))
		}

		put := clientv3.OpPut(nodeKey(target), string(data))
		if lease != clientv3.NoLease {
			put = clientv3.OpPut(nodeKey(target), string(data), clientv3.WithLease(lease))
		}

		cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(nodeKey(target)), "=", 0))
		ops = append(ops, put)

		resp, err := x.kv.Txn(ctx).
			If(cmps...).
			Then(ops...).
			Else(clientv3.OpGet(nodeKey(parent)),
				clientv3.OpGet(nodeKey(target), clientv3.WithKeysOnly()),
				clientv3.OpGet(sequenceKey(parent), clientv3.WithKeysOnly())).
			Commit()
		if err != nil {
			return "", x.toError(target, err)
		}

		if resp.Succeeded {
			return target, nil
		}

		parents := resp.Responses[0].GetResponseRange().GetKvs()
		switch {
		case parent != zkpath.Root && len(parents) == 0:
			return "", gerrors.NewErrNoNode(parent)
		case parent != zkpath.Root && parents[0].Lease != 0:
			return "", gerrors.ErrNoChildrenForEphemerals
		case mode.IsSequential() && counterMoved(resp.Responses[2].GetResponseRange().GetKvs(), revision):
			// another sequential sibling took the counter
			continue
		case len(resp.Responses[1].GetResponseRange().GetKvs()) > 0:
			return "", gerrors.NewErrNodeExists(target)
		}
	}
}

// Delete removes a childless node
func (x *Session) Delete(ctx context.Context, path string) error {
	if err := zkpath.Validate(path); err != nil {
		return err
	}

	if path == zkpath.Root {
		return gerrors.NewErrInvalidPath(path)
	}

	if err := x.usable(); err != nil {
		return err
	}

	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	resp, err := x.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(nodeKey(path)), ">", 0),
			clientv3.Compare(clientv3.CreateRevision(childrenPrefix(path)), "=", 0).WithPrefix()).
		Then(clientv3.OpDelete(nodeKey(path)), clientv3.OpDelete(sequenceKey(path))).
		Else(clientv3.OpGet(nodeKey(path), clientv3.WithKeysOnly())).
		Commit()
	if err != nil {
		return x.toError(path, err)
	}

	if resp.Succeeded {
		return nil
	}

	if len(resp.Responses[0].GetResponseRange().GetKvs()) == 0 {
		return gerrors.NewErrNoNode(path)
	}
	return gerrors.ErrNotEmpty
}

// Exists returns the node stat or nil when missing. The watcher is armed in
// both cases.
func (x *Session) Exists(ctx context.Context, path string, watcher coord.Watcher) (*coord.Stat, error) {
	snapshot, err := x.read(ctx, path)
	if err != nil {
		return nil, err
	}

	if !snapshot.exists {
		x.watch(path, nodeKey(path), nil, snapshot.revision, createdEvent, watcher)
		return nil, nil
	}

	x.watch(path, nodeKey(path), nil, snapshot.revision, dataEvent, watcher)
	return snapshot.stat, nil
}

// GetData returns the node data
func (x *Session) GetData(ctx context.Context, path string, watcher coord.Watcher) ([]byte, *coord.Stat, error) {
	snapshot, err := x.read(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	if !snapshot.exists {
		return nil, nil, gerrors.NewErrNoNode(path)
	}

	x.watch(path, nodeKey(path), nil, snapshot.revision, dataEvent, watcher)
	return snapshot.data, snapshot.stat, nil
}

// SetData replaces the node data, keeping its lease
func (x *Session) SetData(ctx context.Context, path string, data []byte) (*coord.Stat, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, err
	}

	if err := x.usable(); err != nil {
		return nil, err
	}

	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	prefix := childrenPrefix(path)
	resp, err := x.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(nodeKey(path)), ">", 0)).
		Then(clientv3.OpPut(nodeKey(path), string(data), clientv3.WithIgnoreLease(), clientv3.WithPrevKV()),
			clientv3.OpGet(prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly()),
			clientv3.OpGet(sequenceKey(path))).
		Commit()
	if err != nil {
		return nil, x.toError(path, err)
	}

	if !resp.Succeeded {
		return nil, gerrors.NewErrNoNode(path)
	}

	previous := resp.Responses[0].GetResponsePut().GetPrevKv()
	stat := newStat(previous, countChildren(prefix, resp.Responses[1].GetResponseRange().GetKvs()), counterValue(resp.Responses[2].GetResponseRange().GetKvs()))
	if previous != nil {
		stat.Version = previous.Version
	}
	return stat, nil
}

// GetChildren returns the sorted child names
func (x *Session) GetChildren(ctx context.Context, path string, watcher coord.Watcher) ([]string, error) {
	snapshot, err := x.read(ctx, path)
	if err != nil {
		return nil, err
	}

	if !snapshot.exists {
		return nil, gerrors.NewErrNoNode(path)
	}

	// the range covers the node itself and its whole subtree
	prefix := childrenPrefix(path)
	end := clientv3.GetPrefixRangeEnd(prefix)
	x.watch(path, nodeKey(path), []clientv3.OpOption{clientv3.WithRange(end)}, snapshot.revision, childrenEvent(nodeKey(path), prefix), watcher)
	return snapshot.children, nil
}

// State returns the connection state
func (x *Session) State() coord.ConnectionState {
	x.mu.Lock()
	defer x.mu.Unlock()
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

// Close revokes the session lease, removing its ephemeral nodes, and closes
// the etcd client. Close is idempotent.
func (x *Session) Close() error {
	x.mu.Lock()
	if x.state == coord.StateClosed {
		x.mu.Unlock()
		return nil
	}

	x.state = coord.StateClosed
	lease := x.lease
	x.lease = nil
	x.mu.Unlock()

	var err error
	if lease != nil {
		err = lease.Close()
	}

	x.cancel()
	x.wg.Wait()
	x.dispatcher.Stop()
	if cerr := x.closeFunc(x.client); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

type snapshot struct {
	exists   bool
	data     []byte
	stat     *coord.Stat
	children []string
	revision int64
}

// read loads a node, its children and its counter at a single revision
func (x *Session) read(ctx context.Context, path string) (*snapshot, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, err
	}

	if err := x.usable(); err != nil {
		return nil, err
	}

	ctx, cancel := x.withTimeout(ctx)
	defer cancel()

	prefix := childrenPrefix(path)
	resp, err := x.kv.Txn(ctx).
		Then(clientv3.OpGet(nodeKey(path)),
			clientv3.OpGet(prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly()),
			clientv3.OpGet(sequenceKey(path))).
		Commit()
	if err != nil {
		return nil, x.toError(path, err)
	}

	result := &snapshot{revision: resp.Header.GetRevision()}
	nodes := resp.Responses[0].GetResponseRange().GetKvs()
	if len(nodes) == 0 && path != zkpath.Root {
		return result, nil
	}

	for _, kv := range resp.Responses[1].GetResponseRange().GetKvs() {
		if name, ok := childName(prefix, kv.Key); ok {
			result.children = append(result.children, name)
		}
	}

	result.exists = true
	if len(nodes) > 0 {
		result.data = nodes[0].Value
		result.stat = newStat(nodes[0], len(result.children), counterValue(resp.Responses[2].GetResponseRange().GetKvs()))
		return result, nil
	}

	result.stat = newStat(nil, len(result.children), counterValue(resp.Responses[2].GetResponseRange().GetKvs()))
	return result, nil
}

// sequence returns the next sequence number of parent with the revision the
// counter must still have when it is consumed
func (x *Session) sequence(ctx context.Context, parent string) (int64, int64, error) {
	resp, err := x.kv.Get(ctx, sequenceKey(parent))
	if err != nil {
		return 0, 0, err
	}

	if len(resp.Kvs) == 0 {
		return 0, 0, nil
	}
	return counterValue(resp.Kvs), resp.Kvs[0].ModRevision, nil
}

func (x *Session) grant(ctx context.Context) (*concurrency.Session, error) {
	return concurrency.NewSession(x.client,
		concurrency.WithTTL(x.config.ttlSeconds()),
		concurrency.WithContext(ctx))
}

func (x *Session) leaseID() (clientv3.LeaseID, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.lease == nil || x.state == coord.StateExpired {
		return clientv3.NoLease, gerrors.ErrSessionExpired
	}
	return x.lease.Lease(), nil
}

// monitorLease reports a lost lease as an expired session, then grants a
// fresh one and reports the session connected again
func (x *Session) monitorLease() {
	defer x.wg.Done()
	for {
		x.mu.Lock()
		lease := x.lease
		x.mu.Unlock()
		if lease == nil {
			return
		}

		select {
		case <-x.ctx.Done():
			return
		case <-lease.Done():
		}

		if x.State() == coord.StateClosed {
			return
		}

		x.logger.Warnf("etcd lease %x lost, session expired", int64(lease.Lease()))
		x.transition(coord.StateExpired, func() {
			x.cancelWatches()
			x.watchCtx, x.cancelWatches = context.WithCancel(x.ctx)
		})

		renewed, err := x.renew()
		if err != nil {
			return
		}

		x.mu.Lock()
		if x.state == coord.StateClosed {
			x.mu.Unlock()
			_ = renewed.Close()
			return
		}
		x.lease = renewed
		x.mu.Unlock()

		x.logger.Infof("etcd session renewed with lease %x", int64(renewed.Lease()))
		x.transition(coord.StateConnected, nil)
	}
}

func (x *Session) renew() (*concurrency.Session, error) {
	for {
		var renewed *concurrency.Session
		retrier := retry.NewRetrier(dialAttempts, 100*time.Millisecond, x.config.SessionTTL)
		err := retrier.RunContext(x.ctx, func(ctx context.Context) error {
			var err error
			renewed, err = x.grant(ctx)
			return err
		})
		if err == nil {
			return renewed, nil
		}

		if x.ctx.Err() != nil {
			return nil, x.ctx.Err()
		}
		x.logger.Warnf("failed to renew the etcd session: %v", err)
	}
}

// monitorConnection follows the gRPC connection: Ready is reported as
// connected and TransientFailure as disconnected
func (x *Session) monitorConnection() {
	defer x.wg.Done()
	conn := x.client.ActiveConnection()
	if conn == nil {
		return
	}

	state := conn.GetState()
	for {
		switch state {
		case connectivity.Ready:
			x.reconnected()
		case connectivity.TransientFailure:
			x.transition(coord.StateDisconnected, nil)
		default:
		}

		if !conn.WaitForStateChange(x.ctx, state) {
			return
		}
		state = conn.GetState()
	}
}

// reconnected leaves the disconnected state. An expired session waits for
// its new lease instead.
func (x *Session) reconnected() {
	if x.State() == coord.StateDisconnected {
		x.transition(coord.StateConnected, nil)
	}
}

func (x *Session) transition(state coord.ConnectionState, apply func()) {
	x.mu.Lock()
	if x.state == coord.StateClosed || x.state == state {
		x.mu.Unlock()
		return
	}

	if apply != nil {
		apply()
	}
	x.state = state
	x.mu.Unlock()

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
	if x.State() == coord.StateClosed {
		return gerrors.ErrClosed
	}
	return nil
}

func (x *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = x.config.Context
	}
	return context.WithTimeout(ctx, x.config.Timeout)
}

// toError maps etcd and gRPC failures onto the coordination errors
func (x *Session) toError(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case x.State() == coord.StateClosed:
		return gerrors.ErrClosed
	case errors.Is(err, rpctypes.ErrLeaseNotFound):
		return fmt.Errorf("path=(%s) %w", path, gerrors.ErrSessionExpired)
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return fmt.Errorf("path=(%s) %w: %w", path, gerrors.ErrOperationTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case status.Code(err) == codes.Unavailable, errors.Is(err, rpctypes.ErrNoLeader):
		return fmt.Errorf("path=(%s) %w: %w", path, gerrors.ErrConnectionLoss, err)
	default:
		return fmt.Errorf("path=(%s) %w: %w", path, gerrors.ErrSystemError, err)
	}
}
