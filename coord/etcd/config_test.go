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

package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
)

func TestConfig(t *testing.T) {
	t.Run("With defaults", func(t *testing.T) {
		config := &Config{Endpoints: []string{"127.0.0.1:2379"}}
		config.Sanitize()
		require.NoError(t, config.Validate())
		assert.Equal(t, context.Background(), config.Context)
		assert.Equal(t, defaultNamespace, config.Namespace)
		assert.Equal(t, defaultSessionTTL, config.SessionTTL)
		assert.Equal(t, defaultDialTimeout, config.DialTimeout)
		assert.Equal(t, defaultTimeout, config.Timeout)
		assert.Equal(t, 10, config.ttlSeconds())
	})
	t.Run("Without endpoints", func(t *testing.T) {
		config := &Config{}
		config.Sanitize()
		require.Error(t, config.Validate())
	})
	t.Run("With a short session", func(t *testing.T) {
		config := &Config{Endpoints: []string{"127.0.0.1:2379"}, SessionTTL: 100 * time.Millisecond}
		config.Sanitize()
		require.Error(t, config.Validate())
	})
	t.Run("With namespaces", func(t *testing.T) {
		assert.Equal(t, "/apps", normalizeNamespace(" /apps/ "))
		assert.Equal(t, defaultNamespace, normalizeNamespace(" "))
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "/n", nodeKey("/"))
	assert.Equal(t, "/n/a/b", nodeKey("/a/b"))
	assert.Equal(t, "/n/", childrenPrefix("/"))
	assert.Equal(t, "/n/a/", childrenPrefix("/a"))
	assert.Equal(t, "/s/a", sequenceKey("/a"))

	name, ok := childName("/n/a/", []byte("/n/a/b"))
	assert.True(t, ok)
	assert.Equal(t, "b", name)
	_, ok = childName("/n/a/", []byte("/n/a/b/c"))
	assert.False(t, ok)
	_, ok = childName("/n/a/", []byte("/n/ab"))
	assert.False(t, ok)
}

func TestCounterMoved(t *testing.T) {
	assert.False(t, counterMoved(nil, 0))
	assert.True(t, counterMoved(nil, 7))
	assert.False(t, counterMoved([]*mvccpb.KeyValue{{ModRevision: 7}}, 7))
	assert.True(t, counterMoved([]*mvccpb.KeyValue{{ModRevision: 9}}, 7))
	assert.True(t, counterMoved([]*mvccpb.KeyValue{{ModRevision: 9}}, 0))
}
