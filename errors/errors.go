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

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoNode is returned when the node does not exist.
	ErrNoNode = errors.New("node does not exist")

	// ErrNodeExists is returned when creating a node that already exists.
	ErrNodeExists = errors.New("node already exists")

	// ErrNotEmpty is returned when removing a node that still has children.
	ErrNotEmpty = errors.New("node has children")

	// ErrNoChildrenForEphemerals is returned when creating a child under an ephemeral node.
	ErrNoChildrenForEphemerals = errors.New("ephemeral nodes may not have children")

	// ErrBadVersion is returned when a conditional write loses a race.
	ErrBadVersion = errors.New("version conflict")

	// ErrConnectionLoss is returned when the backend connection dropped during a call.
	// The outcome of the call is unknown.
	ErrConnectionLoss = errors.New("connection loss")

	// ErrSessionExpired is returned when the session backing ephemeral nodes is gone.
	ErrSessionExpired = errors.New("session expired")

	// ErrOperationTimeout is returned when the backend did not answer in time.
	ErrOperationTimeout = errors.New("operation timeout")

	// ErrSystemError is a generic server side failure.
	ErrSystemError = errors.New("system error")

	// ErrAPIError is a generic client side failure.
	ErrAPIError = errors.New("api error")

	// ErrClosed is returned when using a client or session after Close.
	ErrClosed = errors.New("client is closed")

	// ErrInvalidPath is returned when a node path is malformed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidSequence is returned when a node name carries no sequence suffix.
	ErrInvalidSequence = errors.New("invalid sequence node name")

	// ErrTransactionAborted is returned when the participants reached a negative consensus.
	// It is distinct from transport failures that prevented the transaction from running.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrLockNotHeld is returned when the contender node vanished before the lock was granted.
	ErrLockNotHeld = errors.New("lock is not held")

	// ErrInvalidQuorum is returned when the requested quorum can never be reached.
	ErrInvalidQuorum = errors.New("invalid quorum")

	// ErrNoSites is returned when a transaction is executed without participants.
	ErrNoSites = errors.New("no participating sites")

	// ErrUnknownSite is returned when a site is asked to act on a transaction it never prepared.
	ErrUnknownSite = errors.New("unknown site")

	// ErrDuplicateSite is returned when two participants share an id.
	ErrDuplicateSite = errors.New("duplicate site")
)

// NewErrNoNode formats an ErrNoNode with the given path.
func NewErrNoNode(path string) error {
	return fmt.Errorf("path=(%s) %w", path, ErrNoNode)
}

// NewErrNodeExists formats an ErrNodeExists with the given path.
func NewErrNodeExists(path string) error {
	return fmt.Errorf("path=(%s) %w", path, ErrNodeExists)
}

// NewErrInvalidPath formats an ErrInvalidPath with the given path.
func NewErrInvalidPath(path string) error {
	return fmt.Errorf("path=(%s) %w", path, ErrInvalidPath)
}

// NewErrTransactionAborted formats an ErrTransactionAborted with the given transaction id.
func NewErrTransactionAborted(txnID string) error {
	return fmt.Errorf("transaction=(%s) %w", txnID, ErrTransactionAborted)
}

// IsTransient reports whether the error is worth retrying: connection loss,
// timeouts and generic system or API failures.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnectionLoss) ||
		errors.Is(err, ErrOperationTimeout) ||
		errors.Is(err, ErrSystemError) ||
		errors.Is(err, ErrAPIError)
}

// PanicError defines the panic error
// wrapping the underlying error
type PanicError struct {
	err error
}

// enforce compilation error
var _ error = (*PanicError)(nil)

// NewPanicError creates an instance of PanicError
func NewPanicError(err error) *PanicError {
	return &PanicError{err}
}

// Error implements the standard error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.err)
}

func (e *PanicError) Unwrap() error {
	return e.err
}
