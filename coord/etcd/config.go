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
	"crypto/tls"
	"strings"
	"time"

	"github.com/tochemey/recipes/internal/validation"
)

const (
	defaultNamespace   = "/recipes"
	defaultSessionTTL  = 10 * time.Second
	defaultDialTimeout = 5 * time.Second
	defaultTimeout     = 5 * time.Second
)

// Config holds the configuration of the etcd backend.
type Config struct {
	// Context is the parent of every background operation.
	// If nil, context.Background() will be used.
	Context context.Context
	// Endpoints is a list of etcd cluster endpoints.
	Endpoints []string
	// Namespace scopes the node keys. Defaults to /recipes.
	Namespace string
	// SessionTTL is the time-to-live of the lease backing ephemeral nodes.
	SessionTTL time.Duration
	// TLS configures client TLS (optional).
	TLS *tls.Config
	// DialTimeout sets the timeout for establishing etcd connections.
	DialTimeout time.Duration
	// Timeout sets the timeout for etcd operations.
	Timeout time.Duration
	// Username sets the etcd authentication user (optional).
	Username string
	// Password sets the etcd authentication password (optional).
	Password string
}

var _ validation.Validator = (*Config)(nil)

// Validate implements validation.Validator.
func (c *Config) Validate() error {
	return validation.New(validation.FailFast()).
		Require(len(c.Endpoints) > 0, "the [Endpoints] must not be empty").
		Add(validation.AtLeast("SessionTTL", c.SessionTTL, time.Second),
			validation.Positive("DialTimeout", c.DialTimeout),
			validation.Positive("Timeout", c.Timeout)).
		Validate()
}

// Sanitize sets the defaults of unset fields
func (c *Config) Sanitize() {
	if c.Context == nil {
		c.Context = context.Background()
	}

	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = defaultNamespace
	}

	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

func (c *Config) ttlSeconds() int {
	seconds := int(c.SessionTTL / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func normalizeNamespace(namespace string) string {
	trimmed := strings.TrimSpace(namespace)
	if trimmed == "" {
		trimmed = defaultNamespace
	}
	return strings.TrimSuffix(trimmed, "/")
}
