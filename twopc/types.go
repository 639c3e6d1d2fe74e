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

// Package twopc implements a two-phase commit coordinator and its sites on
// top of a transaction subtree: each site owns a vote node whose data carries
// its vote and later its acknowledgment.
package twopc

import (
	"context"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/fsm"
)

// Vote is the content of a vote node
type Vote string

const (
	// VoteNone is an empty vote node
	VoteNone Vote = ""
	// VoteCommit is a positive phase one vote
	VoteCommit Vote = "COMMIT"
	// VoteAbort is a negative phase one vote, the site awaits the abort order
	VoteAbort Vote = "ABORT"
	// VoteCommitted acknowledges a commit
	VoteCommitted Vote = "COMMITTED"
	// VoteAborted acknowledges an abort, or reports a unilateral abort
	VoteAborted Vote = "ABORTED"
)

func (v Vote) isCommit() bool {
	return v == VoteCommit || v == VoteCommitted
}

func (v Vote) isAbort() bool {
	return v == VoteAbort || v == VoteAborted
}

// Transaction states shared by coordinators and sites
const (
	StatePreparing  fsm.State = "PREPARING"
	StateCommitting fsm.State = "COMMITTING"
	StateAborting   fsm.State = "ABORTING"
	StateCommitted  fsm.State = "COMMITTED"
	StateAborted    fsm.State = "ABORTED"
)

var (
	states      = []fsm.State{StatePreparing, StateCommitting, StateAborting, StateCommitted, StateAborted}
	finalStates = []fsm.State{StateCommitted, StateAborted}
)

const (
	quorumAll = iota
	quorumMajority
	quorumAtLeast
)

// Quorum defines how many commit votes a transaction needs
type Quorum struct {
	kind  int
	count int
}

// All requires every site to vote commit. This is classic two-phase commit.
func All() Quorum {
	return Quorum{kind: quorumAll}
}

// Majority requires floor(n/2)+1 commit votes
func Majority() Quorum {
	return Quorum{kind: quorumMajority}
}

// AtLeast requires k commit votes
func AtLeast(k int) Quorum {
	return Quorum{kind: quorumAtLeast, count: k}
}

// VotesNeeded returns the number of commit votes deciding a commit and the
// number of abort votes the transaction tolerates for n sites
func (q Quorum) VotesNeeded(n int) (commit, abort int, err error) {
	if n <= 0 {
		return 0, 0, gerrors.ErrNoSites
	}

	switch q.kind {
	case quorumMajority:
		commit = n/2 + 1
	case quorumAtLeast:
		if q.count < 1 || q.count > n {
			return 0, 0, fmt.Errorf("%d of %d sites: %w", q.count, n, gerrors.ErrInvalidQuorum)
		}
		commit = q.count
	default:
		commit = n
	}
	return commit, n - commit, nil
}

// String returns a readable quorum
func (q Quorum) String() string {
	switch q.kind {
	case quorumMajority:
		return "majority"
	case quorumAtLeast:
		return fmt.Sprintf("at-least-%d", q.count)
	default:
		return "all"
	}
}

// ParseQuorum reads a quorum written by String
func ParseQuorum(text string) (Quorum, error) {
	switch text {
	case "all", "":
		return All(), nil
	case "majority":
		return Majority(), nil
	}

	var k int
	if _, err := fmt.Sscanf(text, "at-least-%d", &k); err != nil || k < 1 {
		return Quorum{}, fmt.Errorf("quorum=(%s) %w", text, gerrors.ErrInvalidQuorum)
	}
	return AtLeast(k), nil
}

// Options drive one transaction. They travel with the Proposal so that
// sites apply the same rules as the coordinator.
type Options struct {
	// Quorum defines the commit votes needed
	Quorum Quorum
	// Timeout bounds phase one and, separately, the acknowledgment wait
	Timeout time.Duration
	// CoordinatorCommits makes the coordinator send the commit and abort
	// orders. Otherwise every site watches the tally and decides by itself.
	CoordinatorCommits bool
	// SitesCreateNodes lets sites create their own vote node, so a dead site
	// never leaves a node behind for the coordinator to wait on
	SitesCreateNodes bool
	// SendAbortToAllSites sends the abort order to every site instead of the
	// commit voters only. Failing sites then vote ABORT and wait for it.
	SendAbortToAllSites bool
	// PresumedAbort skips the acknowledgment wait of aborted transactions
	PresumedAbort bool
	// PresumedCommit treats missing commit acknowledgments as committed
	PresumedCommit bool
}

// DefaultTimeout bounds each phase unless overridden
const DefaultTimeout = 5 * time.Second

func defaultOptions() Options {
	return Options{
		Quorum:             All(),
		Timeout:            DefaultTimeout,
		CoordinatorCommits: true,
	}
}

// ExecuteOption configures a transaction
type ExecuteOption func(*Options)

// WithQuorum sets the quorum
func WithQuorum(quorum Quorum) ExecuteOption {
	return func(o *Options) {
		o.Quorum = quorum
	}
}

// WithTimeout sets the phase timeout
func WithTimeout(timeout time.Duration) ExecuteOption {
	return func(o *Options) {
		if timeout > 0 {
			o.Timeout = timeout
		}
	}
}

// WithSitesDeciding lets sites decide the outcome from the shared tally
func WithSitesDeciding() ExecuteOption {
	return func(o *Options) {
		o.CoordinatorCommits = false
	}
}

// WithSitesCreateNodes lets sites create their own vote node
func WithSitesCreateNodes() ExecuteOption {
	return func(o *Options) {
		o.SitesCreateNodes = true
	}
}

// WithSendAbortToAllSites sends the abort order to every site
func WithSendAbortToAllSites() ExecuteOption {
	return func(o *Options) {
		o.SendAbortToAllSites = true
	}
}

// WithPresumedAbort skips the acknowledgment wait of aborted transactions
func WithPresumedAbort() ExecuteOption {
	return func(o *Options) {
		o.PresumedAbort = true
	}
}

// WithPresumedCommit treats missing commit acknowledgments as committed
func WithPresumedCommit() ExecuteOption {
	return func(o *Options) {
		o.PresumedCommit = true
	}
}

// Proposal is what a site receives for a transaction
type Proposal struct {
	// TransactionID identifies the transaction
	TransactionID string
	// Path is the transaction subtree holding the vote nodes
	Path string
	// Command is the opaque payload to apply
	Command []byte
	// Sites lists the ids of every participant
	Sites []string
	// Options are the transaction rules
	Options Options
}

// Participant is a transaction site as seen by the coordinator. Calls only
// deliver the order: outcomes flow back through the vote nodes.
type Participant interface {
	// ID returns the site id, used as its vote node name
	ID() string
	// Prepare asks the site to vote
	Prepare(ctx context.Context, proposal *Proposal) error
	// Commit orders the site to commit
	Commit(ctx context.Context, proposal *Proposal) error
	// Abort orders the site to abort
	Abort(ctx context.Context, proposal *Proposal) error
}

// Func applies one step of a transaction on a site: writing the prepare
// record, committing or aborting
type Func func(ctx context.Context, transactionID string, command []byte) error

func validateSiteID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\x00") || id == "." || id == ".." {
		return fmt.Errorf("site=(%s) %w", id, gerrors.ErrInvalidPath)
	}
	return nil
}
