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
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

type decision int

const (
	undecided decision = iota
	decideCommit
	decideAbort
)

// tally aggregates the vote nodes of one transaction. A site phase one vote
// is the first vote observed for it. Later values are acknowledgments.
type tally struct {
	mu           sync.Mutex
	sites        mapset.Set[string]
	commitNeeded int
	abortNeeded  int
	votes        map[string]Vote
	latest       map[string]Vote
	// frozen holds the commit voters at decision time. Late voters take no
	// part in phase two.
	frozen []string
}

func newTally(sites []string, quorum Quorum) (*tally, error) {
	commit, abort, err := quorum.VotesNeeded(len(sites))
	if err != nil {
		return nil, err
	}

	return &tally{
		sites:        mapset.NewThreadUnsafeSet(sites...),
		commitNeeded: commit,
		abortNeeded:  abort,
		votes:        make(map[string]Vote, len(sites)),
		latest:       make(map[string]Vote, len(sites)),
	}, nil
}

// observe records the current content of the vote nodes
func (t *tally) observe(values map[string]Vote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for site, value := range values {
		if !t.sites.Contains(site) || value == VoteNone {
			continue
		}

		t.latest[site] = value
		if _, voted := t.votes[site]; !voted && (value.isCommit() || value.isAbort()) {
			t.votes[site] = value
		}
	}
}

// counts returns the commit votes, the abort votes and the missing votes
func (t *tally) counts() (commit, abort, missing int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, vote := range t.votes {
		switch {
		case vote.isCommit():
			commit++
		case vote.isAbort():
			abort++
		}
	}
	return commit, abort, t.sites.Cardinality() - commit - abort
}

// decide applies the phase one rules. Nothing is decided before the first
// vote. Commit wins once enough sites voted for it. Abort wins when too many
// sites voted against or when the quorum can no longer be reached.
func (t *tally) decide() decision {
	commit, abort, missing := t.counts()
	switch {
	case commit == 0 && abort == 0:
		return undecided
	case commit >= t.commitNeeded:
		return decideCommit
	case abort > t.abortNeeded || missing+commit < t.commitNeeded:
		return decideAbort
	default:
		return undecided
	}
}

// commitVoters returns the sites that voted commit in phase one
func (t *tally) commitVoters() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	voters := make([]string, 0, len(t.votes))
	for site, vote := range t.votes {
		if vote.isCommit() {
			voters = append(voters, site)
		}
	}
	return voters
}

// freeze fixes the phase two participants to the current commit voters and
// returns them. Only the first call has an effect.
func (t *tally) freeze() []string {
	voters := t.commitVoters()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen == nil {
		t.frozen = voters
	}
	return t.frozen
}

// votedCommit reports whether site voted commit in phase one
func (t *tally) votedCommit(site string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.votes[site].isCommit()
}

// acknowledged reports whether every phase two participant acknowledged with
// ack and whether any of them reported an abort instead
func (t *tally) acknowledged(ack Vote) (all bool, aborted bool) {
	voters := t.freeze()

	t.mu.Lock()
	defer t.mu.Unlock()
	all = true
	for _, site := range voters {
		switch t.latest[site] {
		case ack:
		case VoteAborted:
			aborted = true
			all = false
		default:
			all = false
		}
	}
	return all, aborted
}
