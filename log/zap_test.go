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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZap(t *testing.T) {
	t.Run("With debug level", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(DebugLevel, buffer)
		require.Equal(t, DebugLevel, logger.LogLevel())

		logger.Debug("test debug")
		entry := decodeEntry(t, buffer)
		assert.Equal(t, "test debug", entry["msg"])
		assert.Equal(t, DebugLevel.String(), entry["level"])
	})
	t.Run("With info level skips debug", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(InfoLevel, buffer)
		logger.Debug("hidden")
		require.Empty(t, buffer.String())
		require.False(t, logger.Enabled(DebugLevel))
		require.True(t, logger.Enabled(ErrorLevel))

		logger.Infof("lock %s acquired", "/locks/a")
		entry := decodeEntry(t, buffer)
		assert.Equal(t, "lock /locks/a acquired", entry["msg"])
		assert.Equal(t, "info", entry["level"])
	})
	t.Run("With warn level", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(WarningLevel, buffer)
		require.Equal(t, WarningLevel, logger.LogLevel())
		logger.Warn("careful")
		entry := decodeEntry(t, buffer)
		assert.Equal(t, "warn", entry["level"])
	})
	t.Run("With error level", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(ErrorLevel, buffer)
		logger.Errorf("failed: %v", errors.New("boom"))
		entry := decodeEntry(t, buffer)
		assert.Equal(t, "failed: boom", entry["msg"])
		assert.Equal(t, "error", entry["level"])
	})
	t.Run("With panic level", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(PanicLevel, buffer)
		assert.Panics(t, func() { logger.Panic("oops") })
	})
	t.Run("LogOutput", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(InfoLevel, buffer)
		require.Len(t, logger.LogOutput(), 1)
		require.NoError(t, logger.Flush())
		require.NotNil(t, logger.StdLogger())
	})
}

func TestZapWith(t *testing.T) {
	t.Run("adds structured fields", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(InfoLevel, buffer)
		logger.With("path", "/txn", "votes", 3, "wait", time.Second).Info("tally")
		entry := decodeEntry(t, buffer)
		assert.Equal(t, "/txn", entry["path"])
		assert.EqualValues(t, 3, entry["votes"])
		assert.Equal(t, "1s", entry["wait"])
	})
	t.Run("returns same logger when keyValues empty", func(t *testing.T) {
		logger := NewZap(InfoLevel, new(bytes.Buffer))
		assert.Equal(t, logger, logger.With())
	})
	t.Run("odd keyValues uses _ for orphan", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(InfoLevel, buffer)
		logger.With("a", 1, "orphan").Info("msg")
		entry := decodeEntry(t, buffer)
		assert.Contains(t, entry, "a")
		assert.Contains(t, entry, "_")
	})
	t.Run("skips non-string keys", func(t *testing.T) {
		buffer := new(bytes.Buffer)
		logger := NewZap(InfoLevel, buffer)
		logger.With(42, "ignored", "k", "v").Info("msg")
		entry := decodeEntry(t, buffer)
		assert.Equal(t, "v", entry["k"])
	})
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger
	logger.Info("nothing")
	logger.Debugf("nothing %d", 1)
	logger.Warn("nothing")
	logger.Error("nothing")
	assert.Equal(t, InfoLevel, logger.LogLevel())
	assert.False(t, logger.Enabled(InfoLevel))
	assert.True(t, logger.Enabled(PanicLevel))
	assert.Equal(t, DiscardLogger, logger.With("k", "v"))
	assert.NoError(t, logger.Flush())
	assert.NotNil(t, logger.StdLogger())
	assert.Len(t, logger.LogOutput(), 1)
	assert.Panics(t, func() { logger.Panicf("boom %d", 1) })
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "info", InfoLevel.String())
	assert.Equal(t, "invalid", Level(42).String())
	assert.Equal(t, WarningLevel, ParseLevel("WARNING"))
	assert.Equal(t, DebugLevel, ParseLevel(" debug "))
	assert.Equal(t, InvalidLevel, ParseLevel("verbose"))
}

func decodeEntry(t *testing.T, buffer *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	return entry
}
