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

// Package txlog is the stable storage of a transaction site. Its Prepare,
// Commit and Abort methods have the shape of the site functions, so a site
// records every step before acknowledging it.
package txlog

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	bbolt "go.etcd.io/bbolt"
	"go.uber.org/atomic"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	gerrors "github.com/tochemey/recipes/errors"
)

const (
	fileMode   os.FileMode = 0o600
	bucketName             = "transactions"
)

var (
	defaultOptions = &bbolt.Options{Timeout: 5 * time.Second}

	// ErrNotFound is returned when the log has no record of a transaction
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict is returned when an outcome contradicts the recorded one
	ErrConflict = errors.New("conflicting transaction outcome")
)

// Status is the recorded state of a transaction
type Status string

const (
	StatusPrepared  Status = "PREPARED"
	StatusCommitted Status = "COMMITTED"
	StatusAborted   Status = "ABORTED"
)

// Record is what the log knows about one transaction
type Record struct {
	TransactionID string
	Command       []byte
	Status        Status
	PreparedAt    time.Time
	DecidedAt     time.Time
}

// Log records transaction steps in a bbolt database
type Log struct {
	db     *bbolt.DB
	bucket []byte
	closed *atomic.Bool
}

// Open opens or creates the log stored at path
func Open(path string) (*Log, error) {
	options := *defaultOptions
	db, err := bbolt.Open(path, fileMode, &options)
	if err != nil {
		return nil, fmt.Errorf("txlog: opening %s: %w", path, err)
	}

	bucket := []byte(bucketName)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("txlog: initializing bucket: %w", err)
	}

	return &Log{db: db, bucket: bucket, closed: atomic.NewBool(false)}, nil
}

// Prepare records that the site is ready to commit. Preparing twice is a
// no-op while the transaction is undecided.
func (l *Log) Prepare(ctx context.Context, transactionID string, command []byte) error {
	return l.update(ctx, transactionID, func(record *Record, found bool) (*Record, error) {
		if found {
			if record.Status != StatusPrepared {
				return nil, fmt.Errorf("transaction=(%s) is %s: %w", transactionID, record.Status, ErrConflict)
			}
			return nil, nil
		}

		return &Record{
			TransactionID: transactionID,
			Command:       command,
			Status:        StatusPrepared,
			PreparedAt:    time.Now().UTC(),
		}, nil
	})
}

// Commit records the commit of a transaction
func (l *Log) Commit(ctx context.Context, transactionID string, command []byte) error {
	return l.decide(ctx, transactionID, command, StatusCommitted)
}

// Abort records the abort of a transaction
func (l *Log) Abort(ctx context.Context, transactionID string, command []byte) error {
	return l.decide(ctx, transactionID, command, StatusAborted)
}

// Get returns the record of a transaction
func (l *Log) Get(ctx context.Context, transactionID string) (*Record, error) {
	if err := l.ensureOpen(ctx); err != nil {
		return nil, err
	}

	var record *Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(l.bucket).Get([]byte(transactionID))
		if raw == nil {
			return fmt.Errorf("transaction=(%s) %w", transactionID, ErrNotFound)
		}

		var err error
		record, err = decode(raw)
		return err
	})
	return record, err
}

// Pending returns the prepared transactions without an outcome, ordered by
// transaction id. A restarting site resolves them.
func (l *Log) Pending(ctx context.Context) ([]*Record, error) {
	if err := l.ensureOpen(ctx); err != nil {
		return nil, err
	}

	var pending []*Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(l.bucket).ForEach(func(_, raw []byte) error {
			record, err := decode(raw)
			if err != nil {
				return err
			}

			if record.Status == StatusPrepared {
				pending = append(pending, record)
			}
			return nil
		})
	})
	return pending, err
}

// Close releases the database. The file stays on disk.
func (l *Log) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.db.Close()
}

func (l *Log) decide(ctx context.Context, transactionID string, command []byte, status Status) error {
	return l.update(ctx, transactionID, func(record *Record, found bool) (*Record, error) {
		if !found {
			// sites may skip the prepare record
			record = &Record{TransactionID: transactionID, Command: command}
		}

		switch record.Status {
		case status:
			return nil, nil
		case StatusCommitted, StatusAborted:
			return nil, fmt.Errorf("transaction=(%s) is %s: %w", transactionID, record.Status, ErrConflict)
		}

		record.Status = status
		record.DecidedAt = time.Now().UTC()
		return record, nil
	})
}

// update applies fn to the current record in a single write transaction.
// A nil record from fn leaves the log unchanged.
func (l *Log) update(ctx context.Context, transactionID string, fn func(*Record, bool) (*Record, error)) error {
	if err := l.ensureOpen(ctx); err != nil {
		return err
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(l.bucket)
		key := []byte(transactionID)

		current := new(Record)
		raw := bucket.Get(key)
		if raw != nil {
			var err error
			if current, err = decode(raw); err != nil {
				return err
			}
		}

		next, err := fn(current, raw != nil)
		if err != nil || next == nil {
			return err
		}

		data, err := encode(next)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

func (l *Log) ensureOpen(ctx context.Context) error {
	if l.closed.Load() {
		return gerrors.ErrClosed
	}
	return ctx.Err()
}

func encode(record *Record) ([]byte, error) {
	fields := map[string]any{
		"transaction_id": record.TransactionID,
		"command":        base64.StdEncoding.EncodeToString(record.Command),
		"status":         string(record.Status),
		"prepared_at":    formatTime(record.PreparedAt),
		"decided_at":     formatTime(record.DecidedAt),
	}

	message, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(message)
}

func decode(raw []byte) (*Record, error) {
	message := new(structpb.Struct)
	if err := proto.Unmarshal(raw, message); err != nil {
		return nil, fmt.Errorf("txlog: corrupted record: %w", err)
	}

	fields := message.GetFields()
	record := &Record{
		TransactionID: fields["transaction_id"].GetStringValue(),
		Status:        Status(fields["status"].GetStringValue()),
		PreparedAt:    parseTime(fields["prepared_at"].GetStringValue()),
		DecidedAt:     parseTime(fields["decided_at"].GetStringValue()),
	}

	if command := fields["command"].GetStringValue(); command != "" {
		bytea, err := base64.StdEncoding.DecodeString(command)
		if err != nil {
			return nil, fmt.Errorf("txlog: corrupted record: %w", err)
		}
		record.Command = bytea
	}
	return record, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(text string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, text)
	return t
}
