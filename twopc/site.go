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

package twopc

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/fsm"
	"github.com/tochemey/recipes/internal/xsync"
	"github.com/tochemey/recipes/internal/zkpath"
)

// SiteOption configures a Site
type SiteOption func(*Site)

// WithCommitFunc sets the function applying a commit. Without it commits
// always succeed.
func WithCommitFunc(fn Func) SiteOption {
	return func(s *Site) {
		s.commit = fn
	}
}

// WithAbortFunc sets the function applying an abort. Without it aborts
// always succeed.
func WithAbortFunc(fn Func) SiteOption {
	return func(s *Site) {
		s.abort = fn
	}
}

// Site is a local transaction participant. It votes by writing to its vote
// node and acknowledges the outcome the same way.
type Site struct {
	client *coord.Client
	id     string
	intent Func
	commit Func
	abort  Func
	txns   *xsync.Map[string, *siteTransaction]
}

// enforce compilation error
var _ Participant = (*Site)(nil)

// NewSite creates a Site. intent writes the prepare record: its success is a
// commit vote and its failure an abort vote.
func NewSite(client *coord.Client, id string, intent Func, opts ...SiteOption) (*Site, error) {
	if err := validateSiteID(id); err != nil {
		return nil, err
	}

	site := &Site{
		client: client,
		id:     id,
		intent: intent,
		txns:   xsync.NewMap[string, *siteTransaction](),
	}
	for _, opt := range opts {
		opt(site)
	}
	return site, nil
}

// ID returns the site id
func (s *Site) ID() string {
	return s.id
}

// State returns the state of the site in a transaction
func (s *Site) State(transactionID string) (fsm.State, bool) {
	txn, ok := s.txns.Get(transactionID)
	if !ok {
		return "", false
	}
	return txn.machine.Current(), true
}

// InFlight returns the number of transactions the site has not finished
func (s *Site) InFlight() int {
	return s.txns.Len()
}

// Forget drops what the site knows about a transaction
func (s *Site) Forget(transactionID string) {
	if txn, ok := s.txns.Get(transactionID); ok {
		s.drop(txn)
	}
}

func (s *Site) drop(txn *siteTransaction) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	s.forget(txn)
}

// Prepare runs the intent function and writes the vote. A failed intent is
// a vote, not an error: errors only report coordination failures.
func (s *Site) Prepare(ctx context.Context, proposal *Proposal) error {
	txn := s.transaction(proposal)
	if proposal.Options.SitesCreateNodes {
		if _, err := s.client.Create(ctx, txn.votePath, nil, coord.Ephemeral); err != nil && !errors.Is(err, gerrors.ErrNodeExists) {
			s.drop(txn)
			return err
		}
	}

	if !proposal.Options.CoordinatorCommits {
		if err := s.followTally(ctx, txn); err != nil {
			s.drop(txn)
			return err
		}
	}

	err := s.run(ctx, s.intent, proposal)

	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.forgotten {
		return nil
	}

	if err == nil {
		target := fsm.To(StateCommitting)
		if !proposal.Options.CoordinatorCommits {
			target = target.After(proposal.Options.Timeout, StateAborting)
		}
		if s.vote(ctx, txn, target, VoteCommit) && proposal.Options.CoordinatorCommits {
			s.awaitCleanup(ctx, txn)
		}
		return nil
	}

	s.client.Logger().Infof("site %s votes abort on %s: %v", s.id, proposal.TransactionID, err)
	if proposal.Options.SendAbortToAllSites {
		if s.vote(ctx, txn, fsm.To(StateAborting), VoteAbort) && proposal.Options.CoordinatorCommits {
			s.awaitCleanup(ctx, txn)
		}
		return nil
	}

	// unilateral abort, no order will follow
	if s.vote(ctx, txn, fsm.To(StateAborted), VoteAborted) {
		s.forget(txn)
	}
	return nil
}

// Commit applies the commit and acknowledges it. A failing commit function
// is acknowledged as an abort.
func (s *Site) Commit(ctx context.Context, proposal *Proposal) error {
	return s.finish(ctx, s.transaction(proposal), s.commit, StateCommitted, VoteCommitted)
}

// Abort applies the abort and acknowledges it. A failing abort function is
// logged and still acknowledged as aborted.
func (s *Site) Abort(ctx context.Context, proposal *Proposal) error {
	return s.finish(ctx, s.transaction(proposal), s.abort, StateAborted, VoteAborted)
}

func (s *Site) finish(ctx context.Context, txn *siteTransaction, fn Func, state fsm.State, ack Vote) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.forgotten || txn.machine.IsFinal() {
		return nil
	}

	proposal := txn.proposal
	if err := s.run(ctx, fn, proposal); err != nil {
		s.client.Logger().Warnf("site %s failed to apply %s on %s: %v", s.id, state, proposal.TransactionID, err)
		state, ack = StateAborted, VoteAborted
	}

	s.vote(ctx, txn, fsm.To(state), ack)
	s.forget(txn)
	return nil
}

// forget drops txn from the site. It must be called with txn.mu held.
func (s *Site) forget(txn *siteTransaction) {
	s.txns.DeleteIf(txn.proposal.TransactionID, func(current *siteTransaction) bool {
		return current == txn
	})
	txn.forgotten = true
	txn.stop()
}

// awaitCleanup forgets txn once the coordinator removes its vote node. It
// covers voters that receive no order: late voters and orphaned transactions.
// It must be called with txn.mu held.
func (s *Site) awaitCleanup(ctx context.Context, txn *siteTransaction) {
	watch, err := s.client.AddSelfAndChildWatcher(context.WithoutCancel(ctx), txn.votePath, func(event coord.Event) {
		if event.Type != coord.EventNodeDeleted {
			return
		}

		// off the dispatcher: a site function may hold the lock
		go s.drop(txn)
	})

	switch {
	case err == nil:
		txn.cleanup.Store(watch)
	case errors.Is(err, gerrors.ErrNoNode):
		s.forget(txn)
	default:
		s.client.Logger().Warnf("site %s cannot watch %s: %v", s.id, txn.votePath, err)
	}
}

// vote moves the site machine and publishes the vote. Nothing is written
// when the machine refused the move. It must be called with txn.mu held.
func (s *Site) vote(ctx context.Context, txn *siteTransaction, target fsm.Target, value Vote) bool {
	if txn.machine.SetState(target) != target.State {
		return false
	}

	s.client.SetData(context.WithoutCancel(ctx), txn.votePath, []byte(value))
	return true
}

func (s *Site) run(ctx context.Context, fn Func, proposal *Proposal) (err error) {
	if fn == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = gerrors.NewPanicError(e)
				return
			}
			err = gerrors.NewPanicError(errors.New("site function panicked"))
		}
	}()
	return fn(ctx, proposal.TransactionID, proposal.Command)
}

// followTally lets the site decide the outcome from the vote nodes when the
// coordinator does not send orders
func (s *Site) followTally(ctx context.Context, txn *siteTransaction) error {
	proposal := txn.proposal
	votes, err := newTally(proposal.Sites, proposal.Options.Quorum)
	if err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	tree, err := s.client.WatchAllChildren(ctx, proposal.Path, func(coord.Event, *coord.WatchNode) {
		if tree := txn.tree.Load(); tree != nil {
			s.settle(detached, txn, votes, votesOf(tree))
		}
	}, coord.WithDepth(1))
	if err != nil {
		return err
	}

	txn.tree.Store(tree)
	s.settle(detached, txn, votes, votesOf(tree))
	return nil
}

// settle applies the tally decision once
func (s *Site) settle(ctx context.Context, txn *siteTransaction, votes *tally, values map[string]Vote) {
	votes.observe(values)
	outcome := votes.decide()
	if outcome == undecided || !txn.decided.CompareAndSwap(false, true) {
		return
	}

	// runs off the dispatcher since the site functions may block
	go func() {
		if outcome == decideCommit && votes.votedCommit(s.id) {
			_ = s.finish(ctx, txn, s.commit, StateCommitted, VoteCommitted)
			return
		}
		_ = s.finish(ctx, txn, s.abort, StateAborted, VoteAborted)
	}()
}

func (s *Site) transaction(proposal *Proposal) *siteTransaction {
	if txn, ok := s.txns.Get(proposal.TransactionID); ok {
		return txn
	}

	candidate := newSiteTransaction(s, proposal)
	txn, loaded := s.txns.GetOrSet(proposal.TransactionID, candidate)
	if loaded {
		candidate.stop()
	}
	return txn
}

type siteTransaction struct {
	proposal *Proposal
	votePath string
	machine  *fsm.FSM[*Proposal]
	tree     *atomic.Pointer[coord.WatchTree]
	cleanup  *atomic.Pointer[coord.SelfWatch]
	decided  *atomic.Bool

	// forgotten is guarded by mu
	forgotten bool

	mu sync.Mutex
}

func newSiteTransaction(site *Site, proposal *Proposal) *siteTransaction {
	initial := fsm.To(StatePreparing)
	if !proposal.Options.CoordinatorCommits {
		// without orders, a site stuck in phase one gives up on its own
		initial = initial.After(proposal.Options.Timeout, StateAborting)
	}

	txn := &siteTransaction{
		proposal: proposal,
		votePath: zkpath.Join(proposal.Path, site.id),
		tree:     atomic.NewPointer[coord.WatchTree](nil),
		cleanup:  atomic.NewPointer[coord.SelfWatch](nil),
		decided:  atomic.NewBool(false),
	}

	onEnter := map[fsm.State]fsm.EnterFunc[*Proposal]{}
	if !proposal.Options.CoordinatorCommits {
		onEnter[StateAborting] = func(*Proposal) {
			if txn.decided.CompareAndSwap(false, true) {
				_ = site.finish(context.Background(), txn, site.abort, StateAborted, VoteAborted)
			}
		}
	}

	txn.machine = fsm.New(fsm.Definition[*Proposal]{
		States:     states,
		Initial:    initial,
		Final:      finalStates,
		Context:    proposal,
		Transition: func(any, *Proposal) fsm.Target { return fsm.NoChange },
		OnEnter:    onEnter,
	}, fsm.WithLogger(site.client.Logger()), fsm.WithName("site "+site.id))
	return txn
}

func (x *siteTransaction) stop() {
	if tree := x.tree.Load(); tree != nil {
		tree.Close()
	}
	if watch := x.cleanup.Load(); watch != nil {
		watch.Stop()
	}
	x.machine.Reset()
}
