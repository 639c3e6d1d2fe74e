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

// Package memory provides an in-process coordination service. It keeps the
// node tree, sessions and one-shot watches in memory and exposes test
// controls to simulate disconnects and session expiry.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/internal/zkpath"
	"github.com/tochemey/recipes/log"
)

type znode struct {
	data     []byte
	version  int64
	cversion int64
	owner    int64
	children map[string]struct{}
	created  time.Time
	modified time.Time
}

func (n *znode) stat() *coord.Stat {
	return &coord.Stat{
		Version:     n.version,
		CVersion:    n.cversion,
		Ephemeral:   n.owner != 0,
		NumChildren: len(n.children),
		Created:     n.created,
		Modified:    n.modified,
	}
}

type registration struct {
	session *Session
	watcher coord.Watcher
}

// Server is an in-memory coordination service shared by the sessions it hands out
type Server struct {
	mu            sync.Mutex
	nodes         map[string]*znode
	dataWatches   map[string][]registration
	existWatches  map[string][]registration
	childWatches  map[string][]registration
	nextSessionID int64
	logger        log.Logger
}

// NewServer creates a Server holding only the root node
func NewServer(logger log.Logger) *Server {
	if logger == nil {
		logger = log.DefaultLogger
	}

	now := time.Now()
	return &Server{
		nodes: map[string]*znode{
			zkpath.Root: {children: make(map[string]struct{}), created: now, modified: now},
		},
		dataWatches:  make(map[string][]registration),
		existWatches: make(map[string][]registration),
		childWatches: make(map[string][]registration),
		logger:       logger,
	}
}

// Connect opens a new connected session
func (s *Server) Connect() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	return newSession(s, s.nextSessionID)
}

// NodeCount returns the number of nodes, root included
func (s *Server) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// WatchCount returns the number of armed watches
func (s *Server) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, table := range []map[string][]registration{s.dataWatches, s.existWatches, s.childWatches} {
		for _, regs := range table {
			count += len(regs)
		}
	}
	return count
}

func (s *Server) create(session *Session, path string, data []byte, mode coord.CreateMode) (string, error) {
	if err := zkpath.Validate(path); err != nil {
		return "", err
	}

	if path == zkpath.Root {
		return "", gerrors.NewErrNodeExists(path)
	}

	parentPath := zkpath.Parent(path)
	parent, ok := s.nodes[parentPath]
	if !ok {
		return "", gerrors.NewErrNoNode(parentPath)
	}

	if parent.owner != 0 {
		return "", gerrors.ErrNoChildrenForEphemerals
	}

	if mode.IsSequential() {
		path = zkpath.Sequential(path, parent.cversion)
	}

	if _, exists := s.nodes[path]; exists {
		return "", gerrors.NewErrNodeExists(path)
	}

	now := time.Now()
	node := &znode{
		data:     clone(data),
		children: make(map[string]struct{}),
		created:  now,
		modified: now,
	}

	if mode.IsEphemeral() {
		node.owner = session.id
	}

	s.nodes[path] = node
	parent.children[zkpath.Base(path)] = struct{}{}
	parent.cversion++

	s.fire(s.existWatches, path, coord.EventNodeCreated)
	s.fire(s.dataWatches, path, coord.EventNodeCreated)
	s.fire(s.childWatches, parentPath, coord.EventNodeChildrenChanged)
	return path, nil
}

func (s *Server) delete(path string) error {
	if err := zkpath.Validate(path); err != nil {
		return err
	}

	node, ok := s.nodes[path]
	if !ok {
		return gerrors.NewErrNoNode(path)
	}

	if len(node.children) > 0 {
		return gerrors.ErrNotEmpty
	}

	if path == zkpath.Root {
		return gerrors.NewErrInvalidPath(path)
	}

	parentPath := zkpath.Parent(path)
	delete(s.nodes, path)
	if parent, ok := s.nodes[parentPath]; ok {
		delete(parent.children, zkpath.Base(path))
		parent.cversion++
	}

	s.fire(s.dataWatches, path, coord.EventNodeDeleted)
	s.fire(s.childWatches, path, coord.EventNodeDeleted)
	s.fire(s.childWatches, parentPath, coord.EventNodeChildrenChanged)
	return nil
}

func (s *Server) exists(session *Session, path string, watcher coord.Watcher) (*coord.Stat, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, err
	}

	node, ok := s.nodes[path]
	if !ok {
		s.arm(s.existWatches, path, session, watcher)
		return nil, nil
	}

	s.arm(s.dataWatches, path, session, watcher)
	return node.stat(), nil
}

func (s *Server) getData(session *Session, path string, watcher coord.Watcher) ([]byte, *coord.Stat, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, nil, err
	}

	node, ok := s.nodes[path]
	if !ok {
		return nil, nil, gerrors.NewErrNoNode(path)
	}

	s.arm(s.dataWatches, path, session, watcher)
	return clone(node.data), node.stat(), nil
}

func (s *Server) setData(path string, data []byte) (*coord.Stat, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, err
	}

	node, ok := s.nodes[path]
	if !ok {
		return nil, gerrors.NewErrNoNode(path)
	}

	node.data = clone(data)
	node.version++
	node.modified = time.Now()
	s.fire(s.dataWatches, path, coord.EventNodeDataChanged)
	return node.stat(), nil
}

func (s *Server) getChildren(session *Session, path string, watcher coord.Watcher) ([]string, error) {
	if err := zkpath.Validate(path); err != nil {
		return nil, err
	}

	node, ok := s.nodes[path]
	if !ok {
		return nil, gerrors.NewErrNoNode(path)
	}

	s.arm(s.childWatches, path, session, watcher)
	children := make([]string, 0, len(node.children))
	for name := range node.children {
		children = append(children, name)
	}
	sort.Strings(children)
	return children, nil
}

// dropSession removes the session ephemeral nodes and its armed watches
func (s *Server) dropSession(session *Session) {
	owned := make([]string, 0)
	for path, node := range s.nodes {
		if node.owner == session.id {
			owned = append(owned, path)
		}
	}

	// ephemeral nodes are leaves, any order works
	sort.Strings(owned)
	for _, path := range owned {
		if err := s.delete(path); err != nil {
			s.logger.Warnf("failed to remove ephemeral node %s: %v", path, err)
		}
	}

	for _, table := range []map[string][]registration{s.dataWatches, s.existWatches, s.childWatches} {
		for path, regs := range table {
			kept := regs[:0]
			for _, reg := range regs {
				if reg.session != session {
					kept = append(kept, reg)
				}
			}
			if len(kept) == 0 {
				delete(table, path)
				continue
			}
			table[path] = kept
		}
	}
}

func (s *Server) arm(table map[string][]registration, path string, session *Session, watcher coord.Watcher) {
	if watcher == nil {
		return
	}
	table[path] = append(table[path], registration{session: session, watcher: watcher})
}

func (s *Server) fire(table map[string][]registration, path string, eventType coord.EventType) {
	regs, ok := table[path]
	if !ok {
		return
	}
	delete(table, path)

	event := coord.Event{Type: eventType, Path: path}
	for _, reg := range regs {
		watcher := reg.watcher
		reg.session.dispatcher.Dispatch(func() { watcher(event) })
	}
}

func (s *Server) call(ctx context.Context, session *Session, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := session.usable(); err != nil {
		return err
	}
	return fn()
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
