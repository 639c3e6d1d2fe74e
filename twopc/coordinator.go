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
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/tochemey/recipes/coord"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/fsm"
	"github.com/tochemey/recipes/internal/future"
	"github.com/tochemey/recipes/internal/zkpath"
	"github.com/tochemey/recipes/log"
)

const transactionPrefix = "transaction-"

// Coordinator runs transactions under a root path. Each execution gets its
// own transaction subtree, so a Coordinator can run transactions concurrently.
type Coordinator struct {
	client *coord.Client
	path   string
}

// NewCoordinator creates a Coordinator rooted at path
func NewCoordinator(client *coord.Client, path string) *Coordinator {
	return &Coordinator{
		client: client,
		path:   path,
	}
}

// Execute runs one transaction against sites. It returns nil once the
// transaction committed, an error wrapping ErrTransactionAborted when the
// sites reached a negative consensus, or the error that prevented the
// transaction from running. The transaction subtree is removed before
// Execute returns, whatever the outcome.
func (c *Coordinator) Execute(ctx context.Context, command []byte, sites []Participant, opts ...ExecuteOption) error {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	ids, err := siteIDs(sites)
	if err != nil {
		return err
	}

	votes, err := newTally(ids, options.Quorum)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	proposal := &Proposal{
		TransactionID: id,
		Path:          zkpath.Join(c.path, transactionPrefix+id),
		Command:       command,
		Sites:         ids,
		Options:       options,
	}

	txn := newTransaction(c.client, proposal, sites, votes)
	start := time.Now()
	err = txn.run(ctx)
	txn.cleanup(ctx)

	outcome := "committed"
	switch {
	case errors.Is(err, gerrors.ErrTransactionAborted):
		outcome = "aborted"
	case err != nil:
		outcome = "failed"
	}

	c.client.Metrics().RecordTransaction(ctx, outcome, time.Since(start))
	txn.logger.Infof("transaction %s %s in %s", id, outcome, time.Since(start))
	return err
}

// ExecuteAsync runs Execute in the background and calls callback exactly
// once with its result
func (c *Coordinator) ExecuteAsync(ctx context.Context, command []byte, sites []Participant, callback func(error), opts ...ExecuteOption) {
	go func() {
		callback(c.Execute(ctx, command, sites, opts...))
	}()
}

// reevaluate asks the handler of a freshly entered state to look at the
// votes already observed
type reevaluate struct{}

// transaction is the coordinator side of one execution
type transaction struct {
	client       *coord.Client
	logger       log.Logger
	proposal     *Proposal
	participants []Participant
	votes        *tally
	machine      *fsm.FSM[*tally]
	phase1       *future.Future[decision]
	phase2       *future.Future[fsm.State]
	tree         *atomic.Pointer[coord.WatchTree]

	// evaluating serializes the transition evaluations
	evaluating sync.Mutex
}

func newTransaction(client *coord.Client, proposal *Proposal, participants []Participant, votes *tally) *transaction {
	txn := &transaction{
		client:       client,
		logger:       client.Logger(),
		proposal:     proposal,
		participants: participants,
		votes:        votes,
		phase1:       future.New[decision](),
		phase2:       future.New[fsm.State](),
		tree:         atomic.NewPointer[coord.WatchTree](nil),
	}

	txn.machine = fsm.New(fsm.Definition[*tally]{
		States:  states,
		Initial: fsm.To(StatePreparing).After(proposal.Options.Timeout, StateAborting),
		Final:   finalStates,
		Context: votes,
		PerState: map[fsm.State]fsm.Handler[*tally]{
			StatePreparing:  txn.preparing,
			StateCommitting: txn.committing,
			StateAborting:   txn.aborting,
		},
		Transition: func(any, *tally) fsm.Target { return fsm.NoChange },
		OnEnter: map[fsm.State]fsm.EnterFunc[*tally]{
			StateCommitting: func(*tally) { txn.phase1.Complete(decideCommit) },
			StateAborting:   func(*tally) { txn.phase1.Complete(decideAbort) },
			StateCommitted: func(*tally) {
				txn.phase1.Complete(decideCommit)
				txn.phase2.Complete(StateCommitted)
			},
			StateAborted: func(*tally) {
				txn.phase1.Complete(decideAbort)
				txn.phase2.Complete(StateAborted)
			},
		},
	}, fsm.WithLogger(client.Logger()), fsm.WithName("coordinator "+proposal.TransactionID))
	return txn
}

func (x *transaction) run(ctx context.Context) error {
	options := x.proposal.Options
	if _, err := x.client.EnsurePath(ctx, x.proposal.Path); err != nil {
		return err
	}

	if !options.SitesCreateNodes {
		group, gctx := errgroup.WithContext(ctx)
		for _, id := range x.proposal.Sites {
			group.Go(func() error {
				_, err := x.client.Create(gctx, zkpath.Join(x.proposal.Path, id), nil, coord.Ephemeral)
				return err
			})
		}

		if err := group.Wait(); err != nil {
			return fmt.Errorf("failed to create vote nodes: %w", err)
		}
	}

	tree, err := x.client.WatchAllChildren(ctx, x.proposal.Path, x.onVote, coord.WithDepth(1))
	if err != nil {
		return err
	}

	x.tree.Store(tree)
	x.deliver(votesOf(tree))

	// sites answer through their vote node, not through the call
	for _, participant := range x.participants {
		go func() {
			if err := participant.Prepare(ctx, x.proposal); err != nil {
				x.logger.Warnf("failed to send prepare of %s to %s: %v", x.proposal.TransactionID, participant.ID(), err)
			}
		}()
	}

	phase1 := x.phase1.Await(ctx)
	if err := phase1.Failure(); err != nil {
		return err
	}

	if options.CoordinatorCommits {
		x.dispatch(ctx, phase1.Success())
	}

	if phase1.Success() == decideAbort && options.PresumedAbort {
		x.force(StateAborted)
	}

	// acknowledgments may have been observed before the decision
	x.deliver(reevaluate{})

	outcome, err := x.awaitOutcome(ctx)
	if err != nil {
		return err
	}

	if outcome != StateCommitted {
		return gerrors.NewErrTransactionAborted(x.proposal.TransactionID)
	}
	return nil
}

// dispatch sends the phase two orders
func (x *transaction) dispatch(ctx context.Context, outcome decision) {
	voters := mapset.NewThreadUnsafeSet(x.votes.freeze()...)
	for _, participant := range x.participants {
		switch {
		case outcome == decideCommit && voters.Contains(participant.ID()):
			go x.send(participant, "commit", func() error { return participant.Commit(ctx, x.proposal) })
		case outcome == decideAbort && (x.proposal.Options.SendAbortToAllSites || voters.Contains(participant.ID())):
			go x.send(participant, "abort", func() error { return participant.Abort(ctx, x.proposal) })
		}
	}
}

func (x *transaction) send(participant Participant, order string, fn func() error) {
	if err := fn(); err != nil {
		x.logger.Warnf("failed to send %s of %s to %s: %v", order, x.proposal.TransactionID, participant.ID(), err)
	}
}

// awaitOutcome waits for the acknowledgments. When they do not arrive in
// time the transaction is aborted, or committed under presumed commit.
func (x *transaction) awaitOutcome(ctx context.Context) (fsm.State, error) {
	ackCtx, cancel := context.WithTimeout(ctx, x.proposal.Options.Timeout)
	result := x.phase2.Await(ackCtx)
	cancel()
	if result.Failure() == nil {
		return result.Success(), nil
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	fallback := StateAborted
	if x.proposal.Options.PresumedCommit && x.machine.Is(StateCommitting) {
		fallback = StateCommitted
	}

	x.logger.Warnf("transaction %s: acknowledgments timed out, presuming %s", x.proposal.TransactionID, fallback)
	x.force(fallback)

	result = x.phase2.Await(ctx)
	return result.Success(), result.Failure()
}

// onVote runs on the client dispatcher after the mirror applied a change
func (x *transaction) onVote(coord.Event, *coord.WatchNode) {
	if tree := x.tree.Load(); tree != nil {
		x.deliver(votesOf(tree))
	}
}

// deliver feeds event to the machine and keeps evaluating until the state
// settles. Callers on the dispatcher and on the Execute goroutine never
// evaluate concurrently.
func (x *transaction) deliver(event any) {
	x.evaluating.Lock()
	defer x.evaluating.Unlock()
	for {
		before := x.machine.Current()
		after := x.machine.SendEvent(event)
		if after == before || x.machine.IsFinal() {
			return
		}
		event = reevaluate{}
	}
}

// force moves the machine outside of the vote handlers
func (x *transaction) force(state fsm.State) {
	x.evaluating.Lock()
	defer x.evaluating.Unlock()
	x.machine.SetState(fsm.To(state))
}

func (x *transaction) preparing(event any, votes *tally) fsm.Target {
	observe(event, votes)
	switch votes.decide() {
	case decideCommit:
		votes.freeze()
		return fsm.To(StateCommitting)
	case decideAbort:
		votes.freeze()
		return fsm.To(StateAborting)
	default:
		return fsm.NoChange
	}
}

func (x *transaction) committing(event any, votes *tally) fsm.Target {
	observe(event, votes)
	all, aborted := votes.acknowledged(VoteCommitted)
	switch {
	case aborted:
		return fsm.To(StateAborted)
	case all:
		return fsm.To(StateCommitted)
	default:
		return fsm.NoChange
	}
}

func (x *transaction) aborting(event any, votes *tally) fsm.Target {
	observe(event, votes)
	if all, _ := votes.acknowledged(VoteAborted); all {
		return fsm.To(StateAborted)
	}
	return fsm.NoChange
}

func (x *transaction) cleanup(ctx context.Context) {
	if tree := x.tree.Load(); tree != nil {
		tree.Close()
	}

	x.machine.Reset()
	if err := x.client.Rmr(context.WithoutCancel(ctx), x.proposal.Path); err != nil {
		x.logger.Warnf("failed to remove transaction %s: %v", x.proposal.Path, err)
	}
}

func observe(event any, votes *tally) {
	if values, ok := event.(map[string]Vote); ok {
		votes.observe(values)
	}
}

// votesOf reads the vote nodes mirrored by tree
func votesOf(tree *coord.WatchTree) map[string]Vote {
	children := tree.Root().Children()
	values := make(map[string]Vote, len(children))
	for _, child := range children {
		values[child.Name()] = Vote(child.Data())
	}
	return values
}

func siteIDs(sites []Participant) ([]string, error) {
	if len(sites) == 0 {
		return nil, gerrors.ErrNoSites
	}

	seen := mapset.NewThreadUnsafeSetWithSize[string](len(sites))
	ids := make([]string, 0, len(sites))
	for _, site := range sites {
		id := site.ID()
		if err := validateSiteID(id); err != nil {
			return nil, err
		}

		if !seen.Add(id) {
			return nil, fmt.Errorf("site=(%s) %w", id, gerrors.ErrDuplicateSite)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
