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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/tochemey/recipes/errors"
)

func TestQuorum(t *testing.T) {
	testCases := []struct {
		name   string
		quorum Quorum
		sites  int
		commit int
		abort  int
		err    error
	}{
		{name: "all of one", quorum: All(), sites: 1, commit: 1, abort: 0},
		{name: "all of five", quorum: All(), sites: 5, commit: 5, abort: 0},
		{name: "majority of one", quorum: Majority(), sites: 1, commit: 1, abort: 0},
		{name: "majority of two", quorum: Majority(), sites: 2, commit: 2, abort: 0},
		{name: "majority of five", quorum: Majority(), sites: 5, commit: 3, abort: 2},
		{name: "majority of six", quorum: Majority(), sites: 6, commit: 4, abort: 2},
		{name: "one of two", quorum: AtLeast(1), sites: 2, commit: 1, abort: 1},
		{name: "three of seven", quorum: AtLeast(3), sites: 7, commit: 3, abort: 4},
		{name: "more than sites", quorum: AtLeast(3), sites: 2, err: gerrors.ErrInvalidQuorum},
		{name: "zero", quorum: AtLeast(0), sites: 2, err: gerrors.ErrInvalidQuorum},
		{name: "no sites", quorum: Majority(), sites: 0, err: gerrors.ErrNoSites},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			commit, abort, err := tc.quorum.VotesNeeded(tc.sites)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.commit, commit)
			assert.Equal(t, tc.abort, abort)
		})
	}
}

func TestTally(t *testing.T) {
	sites := []string{"a", "b", "c"}

	t.Run("With no votes", func(t *testing.T) {
		votes, err := newTally(sites, Majority())
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteNone, "b": VoteNone})
		assert.Equal(t, undecided, votes.decide())
	})
	t.Run("With commit quorum", func(t *testing.T) {
		votes, err := newTally(sites, Majority())
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteCommit})
		assert.Equal(t, undecided, votes.decide())
		votes.observe(map[string]Vote{"a": VoteCommit, "b": VoteCommit})
		assert.Equal(t, decideCommit, votes.decide())
		assert.ElementsMatch(t, []string{"a", "b"}, votes.commitVoters())
	})
	t.Run("With too many aborts", func(t *testing.T) {
		votes, err := newTally(sites, Majority())
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteAbort})
		assert.Equal(t, undecided, votes.decide())
		votes.observe(map[string]Vote{"b": VoteAborted})
		assert.Equal(t, decideAbort, votes.decide())
	})
	t.Run("With unreachable quorum", func(t *testing.T) {
		votes, err := newTally(sites, All())
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteCommit, "b": VoteAborted})
		assert.Equal(t, decideAbort, votes.decide())
	})
	t.Run("With unknown sites", func(t *testing.T) {
		votes, err := newTally(sites, AtLeast(1))
		require.NoError(t, err)
		votes.observe(map[string]Vote{"z": VoteCommit})
		assert.Equal(t, undecided, votes.decide())
	})
	t.Run("With first vote kept", func(t *testing.T) {
		votes, err := newTally(sites, All())
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteCommit, "b": VoteCommit, "c": VoteCommit})
		votes.observe(map[string]Vote{"a": VoteAborted})
		assert.Equal(t, decideCommit, votes.decide())
		assert.True(t, votes.votedCommit("a"))

		all, aborted := votes.acknowledged(VoteCommitted)
		assert.False(t, all)
		assert.True(t, aborted)
	})
	t.Run("With acknowledgments", func(t *testing.T) {
		votes, err := newTally(sites, AtLeast(2))
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteCommit, "b": VoteCommit, "c": VoteAborted})

		all, _ := votes.acknowledged(VoteCommitted)
		assert.False(t, all)
		votes.observe(map[string]Vote{"a": VoteCommitted, "b": VoteCommitted})
		all, aborted := votes.acknowledged(VoteCommitted)
		assert.True(t, all)
		assert.False(t, aborted)
	})
	t.Run("With late voters", func(t *testing.T) {
		votes, err := newTally(sites, Majority())
		require.NoError(t, err)
		votes.observe(map[string]Vote{"a": VoteCommit, "b": VoteCommit})
		require.Equal(t, decideCommit, votes.decide())
		assert.ElementsMatch(t, []string{"a", "b"}, votes.freeze())

		votes.observe(map[string]Vote{"a": VoteCommitted, "b": VoteCommitted, "c": VoteCommit})
		assert.ElementsMatch(t, []string{"a", "b"}, votes.freeze())
		all, _ := votes.acknowledged(VoteCommitted)
		assert.True(t, all)
	})
}

func TestParseQuorum(t *testing.T) {
	for _, quorum := range []Quorum{All(), Majority(), AtLeast(3)} {
		parsed, err := ParseQuorum(quorum.String())
		require.NoError(t, err)
		assert.Equal(t, quorum, parsed)
	}

	_, err := ParseQuorum("at-least-0")
	require.ErrorIs(t, err, gerrors.ErrInvalidQuorum)
	_, err = ParseQuorum("most")
	require.ErrorIs(t, err, gerrors.ErrInvalidQuorum)
}
