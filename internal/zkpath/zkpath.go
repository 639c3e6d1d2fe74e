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

// Package zkpath holds helpers for slash separated node paths.
package zkpath

import (
	"strconv"
	"strings"

	gerrors "github.com/tochemey/recipes/errors"
)

// Root is the path of the tree root
const Root = "/"

// SequenceWidth is the number of digits of a sequence suffix
const SequenceWidth = 10

// Join joins a parent path with one or more child segments
func Join(parent string, segments ...string) string {
	var builder strings.Builder
	builder.WriteString(strings.TrimSuffix(parent, "/"))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment == "" {
			continue
		}
		builder.WriteByte('/')
		builder.WriteString(segment)
	}
	if builder.Len() == 0 {
		return Root
	}
	return builder.String()
}

// Parent returns the parent path. The parent of the root is the root.
func Parent(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return Root
	}
	return path[:idx]
}

// Base returns the last segment of the path
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Split returns every ancestor of the path, root excluded, shallowest first,
// ending with the path itself.
func Split(path string) []string {
	if path == Root {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	paths := make([]string, 0, len(segments))
	current := ""
	for _, segment := range segments {
		current += "/" + segment
		paths = append(paths, current)
	}
	return paths
}

// Validate checks that the path is absolute, has no empty segment and no trailing slash
func Validate(path string) error {
	if path == Root {
		return nil
	}

	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return gerrors.NewErrInvalidPath(path)
	}

	for _, segment := range strings.Split(path[1:], "/") {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsRune(segment, 0) {
			return gerrors.NewErrInvalidPath(path)
		}
	}
	return nil
}

// Sequential appends a zero padded sequence suffix to the path
func Sequential(path string, seq int64) string {
	digits := strconv.FormatInt(seq, 10)
	if pad := SequenceWidth - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return path + digits
}

// SequenceNumber returns the integer that follows the final '-' of the node name
func SequenceNumber(path string) (int64, error) {
	name := Base(path)
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 || idx == len(name)-1 {
		return 0, gerrors.ErrInvalidSequence
	}

	seq, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return 0, gerrors.ErrInvalidSequence
	}
	return seq, nil
}
