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

package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"

	"github.com/tochemey/recipes/log"
	"github.com/tochemey/recipes/twopc"
)

// ErrAlreadyStarted is returned when starting a running server
var ErrAlreadyStarted = errors.New("server already started")

// Server exposes a local participant to remote coordinators
type Server struct {
	config      *Config
	participant twopc.Participant
	logger      log.Logger
	name        string

	mu           sync.Mutex
	connection   *nats.Conn
	subscription *nats.Subscription
	base         context.Context
	cancel       context.CancelFunc
	started      *atomic.Bool

	// gate keeps Stop from waiting while new orders are admitted
	gate     sync.RWMutex
	stopping bool
	inflight sync.WaitGroup
}

// NewServer creates a server for the given participant
func NewServer(config *Config, participant twopc.Participant, opts ...Option) *Server {
	options := newOptions(opts)
	name := options.name
	if name == "" {
		name = "site-" + participant.ID()
	}

	return &Server{
		config:      config,
		participant: participant,
		logger:      options.logger,
		name:        name,
		started:     atomic.NewBool(false),
	}
}

// Start connects to the nats server and subscribes to the site orders
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return ErrAlreadyStarted
	}

	s.config.Sanitize()
	if err := s.config.Validate(); err != nil {
		return err
	}

	connection, err := connect(ctx, s.config, s.name)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.config.Server, err)
	}

	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.stopping = false
	subscription, err := connection.Subscribe(subject(s.config.Subject, s.participant.ID(), "*"), func(msg *nats.Msg) {
		s.gate.RLock()
		defer s.gate.RUnlock()
		if s.stopping {
			return
		}

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.handle(msg)
		}()
	})
	if err != nil {
		s.cancel()
		connection.Close()
		return err
	}

	// make sure the subscription reached the server before coordinators send orders
	flushCtx, cancelFlush := context.WithTimeout(ctx, s.config.Timeout)
	defer cancelFlush()
	if err := connection.FlushWithContext(flushCtx); err != nil {
		s.cancel()
		connection.Close()
		return err
	}

	s.connection = connection
	s.subscription = subscription
	s.started.Store(true)
	s.logger.Infof("site %s listening on %s", s.participant.ID(), subscription.Subject)
	return nil
}

// Stop unsubscribes and waits for the orders in flight
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return nil
	}

	s.gate.Lock()
	s.stopping = true
	s.gate.Unlock()

	err := s.subscription.Unsubscribe()
	s.inflight.Wait()
	s.cancel()
	s.connection.Close()
	s.started.Store(false)
	return err
}

func (s *Server) handle(msg *nats.Msg) {
	err := s.apply(msg)
	if err != nil {
		s.logger.Warnf("site %s failed to apply %s: %v", s.participant.ID(), msg.Subject, err)
	}

	if err := msg.Respond(encodeReply(err)); err != nil {
		s.logger.Errorf("site %s failed to reply to %s: %v", s.participant.ID(), msg.Subject, err)
	}
}

func (s *Server) apply(msg *nats.Msg) error {
	proposal, err := decodeProposal(msg.Data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.base, s.config.Timeout)
	defer cancel()

	switch order := orderOf(msg.Subject); order {
	case orderPrepare:
		return s.participant.Prepare(ctx, proposal)
	case orderCommit:
		return s.participant.Commit(ctx, proposal)
	case orderAbort:
		return s.participant.Abort(ctx, proposal)
	default:
		return fmt.Errorf("%w: unknown order %q", ErrMalformedMessage, order)
	}
}
