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
	"strings"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/tochemey/recipes/coord"
	"github.com/tochemey/recipes/internal/zkpath"
)

// Nodes live under /n followed by their path. The sequence counter of a
// parent lives under /s, out of the way of child listings.
const (
	nodesPrefix    = "/n"
	sequencePrefix = "/s"
)

func nodeKey(path string) string {
	if path == zkpath.Root {
		return nodesPrefix
	}
	return nodesPrefix + path
}

func childrenPrefix(path string) string {
	return nodesPrefix + strings.TrimSuffix(path, "/") + "/"
}

func sequenceKey(path string) string {
	return sequencePrefix + path
}

// childName returns the direct child name a key designates under prefix
func childName(prefix string, key []byte) (string, bool) {
	name, ok := strings.CutPrefix(string(key), prefix)
	if !ok || name == "" || strings.ContainsRune(name, '/') {
		return "", false
	}
	return name, true
}

// countChildren counts the direct children among a keys-only prefix range
func countChildren(prefix string, kvs []*mvccpb.KeyValue) int {
	count := 0
	for _, kv := range kvs {
		if _, ok := childName(prefix, kv.Key); ok {
			count++
		}
	}
	return count
}

// newStat builds the node metadata. etcd keeps no timestamps, so Created and
// Modified stay zero. CVersion counts the sequential children created.
func newStat(kv *mvccpb.KeyValue, children int, cversion int64) *coord.Stat {
	stat := &coord.Stat{
		CVersion:    cversion,
		NumChildren: children,
	}

	if kv != nil {
		stat.Version = kv.Version - 1
		stat.Ephemeral = kv.Lease != 0
	}
	return stat
}
