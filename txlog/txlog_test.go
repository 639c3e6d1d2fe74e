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

package txlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/tochemey/recipes/coord"
	"github.com/tochemey/recipes/coord/memory"
	gerrors "github.com/tochemey/recipes/errors"
	"github.com/tochemey/recipes/log"
	"github.com/tochemey/recipes/retry"
	"github.com/tochemey/recipes/twopc"
)

func openLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.db")
	txlog, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = txlog.Close() })
	return txlog, path
}

func TestLog(t *testing.T) {
	ctx := context.Background()

	t.Run("With prepare and commit", func(t *testing.T) {
		txlog, _ := openLog(t)
		require.NoError(t, txlog.Prepare(ctx, "txn-1", []byte{0xff, 0x00}))
		require.NoError(t, txlog.Prepare(ctx, "txn-1", []byte{0xff, 0x00}))

		record, err := txlog.Get(ctx, "txn-1")
		require.NoError(t, err)
		assert.Equal(t, StatusPrepared, record.Status)
		assert.Equal(t, []byte{0xff, 0x00}, record.Command)
		assert.False(t, record.PreparedAt.IsZero())
		assert.True(t, record.DecidedAt.IsZero())

		require.NoError(t, txlog.Commit(ctx, "txn-1", nil))
		require.NoError(t, txlog.Commit(ctx, "txn-1", nil))
		record, err = txlog.Get(ctx, "txn-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCommitted, record.Status)
		assert.Equal(t, []byte{0xff, 0x00}, record.Command)
		assert.False(t, record.DecidedAt.IsZero())
	})
	t.Run("With conflicting outcomes", func(t *testing.T) {
		txlog, _ := openLog(t)
		require.NoError(t, txlog.Prepare(ctx, "txn-1", nil))
		require.NoError(t, txlog.Abort(ctx, "txn-1", nil))
		require.ErrorIs(t, txlog.Commit(ctx, "txn-1", nil), ErrConflict)
		require.ErrorIs(t, txlog.Prepare(ctx, "txn-1", nil), ErrConflict)
	})
	t.Run("With an outcome without prepare", func(t *testing.T) {
		txlog, _ := openLog(t)
		require.NoError(t, txlog.Abort(ctx, "txn-1", []byte("cmd")))
		record, err := txlog.Get(ctx, "txn-1")
		require.NoError(t, err)
		assert.Equal(t, StatusAborted, record.Status)
		assert.True(t, record.PreparedAt.IsZero())
	})
	t.Run("With a missing transaction", func(t *testing.T) {
		txlog, _ := openLog(t)
		_, err := txlog.Get(ctx, "txn-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("With pending transactions surviving a restart", func(t *testing.T) {
		txlog, path := openLog(t)
		require.NoError(t, txlog.Prepare(ctx, "txn-2", nil))
		require.NoError(t, txlog.Prepare(ctx, "txn-1", nil))
		require.NoError(t, txlog.Prepare(ctx, "txn-3", nil))
		require.NoError(t, txlog.Commit(ctx, "txn-3", nil))
		require.NoError(t, txlog.Close())

		reopened, err := Open(path)
		require.NoError(t, err)
		defer func() { _ = reopened.Close() }()

		pending, err := reopened.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "txn-1", pending[0].TransactionID)
		assert.Equal(t, "txn-2", pending[1].TransactionID)
	})
	t.Run("With a closed log", func(t *testing.T) {
		txlog, _ := openLog(t)
		require.NoError(t, txlog.Close())
		require.NoError(t, txlog.Close())
		require.ErrorIs(t, txlog.Prepare(ctx, "txn-1", nil), gerrors.ErrClosed)
		_, err := txlog.Pending(ctx)
		require.ErrorIs(t, err, gerrors.ErrClosed)
	})
	t.Run("With a cancelled context", func(t *testing.T) {
		txlog, _ := openLog(t)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		require.ErrorIs(t, txlog.Prepare(cancelled, "txn-1", nil), context.Canceled)
	})
}

func TestLogAsSiteStorage(t *testing.T) {
	ctx := context.Background()
	server := memory.NewServer(log.DiscardLogger)
	newClient := func() *coord.Client {
		client, err := coord.New(server.Connect(),
			coord.WithLogger(log.DiscardLogger),
			coord.WithRetryPolicy(retry.None()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	txlog, _ := openLog(t)
	committed := atomic.NewInt32(0)
	site, err := twopc.NewSite(newClient(), "site-1", txlog.Prepare,
		twopc.WithCommitFunc(func(ctx context.Context, transactionID string, command []byte) error {
			committed.Inc()
			return txlog.Commit(ctx, transactionID, command)
		}),
		twopc.WithAbortFunc(txlog.Abort))
	require.NoError(t, err)

	coordinator := twopc.NewCoordinator(newClient(), "/txlog")
	require.NoError(t, coordinator.Execute(ctx, []byte("credit 10"), []twopc.Participant{site}, twopc.WithTimeout(2*time.Second)))
	assert.EqualValues(t, 1, committed.Load())

	pending, err := txlog.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
