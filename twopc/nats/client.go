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

package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/tochemey/recipes/log"
	"github.com/tochemey/recipes/twopc"
)

// Client sends orders to remote sites
type Client struct {
	config     *Config
	connection *nats.Conn
	logger     log.Logger
}

// Dial connects a client to the nats server
func Dial(ctx context.Context, config *Config, opts ...Option) (*Client, error) {
	config.Sanitize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options := newOptions(opts)
	name := options.name
	if name == "" {
		name = "coordinator"
	}

	connection, err := connect(ctx, config, name)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Server, err)
	}

	return &Client{
		config:     config,
		connection: connection,
		logger:     options.logger,
	}, nil
}

// Participant returns the remote site with the given id
func (c *Client) Participant(id string) twopc.Participant {
	return &participant{client: c, id: id}
}

// Close closes the connection
func (c *Client) Close() error {
	c.connection.Close()
	return nil
}

func (c *Client) request(ctx context.Context, siteID, order string, proposal *twopc.Proposal) error {
	data, err := encodeProposal(proposal)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.connection.RequestWithContext(ctx, subject(c.config.Subject, siteID, order), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("site=(%s) %w", siteID, ErrUnreachable)
		}
		return err
	}
	return decodeReply(reply.Data)
}

type participant struct {
	client *Client
	id     string
}

// enforce compilation error
var _ twopc.Participant = (*participant)(nil)

func (p *participant) ID() string {
	return p.id
}

func (p *participant) Prepare(ctx context.Context, proposal *twopc.Proposal) error {
	return p.client.request(ctx, p.id, orderPrepare, proposal)
}

func (p *participant) Commit(ctx context.Context, proposal *twopc.Proposal) error {
	return p.client.request(ctx, p.id, orderCommit, proposal)
}

func (p *participant) Abort(ctx context.Context, proposal *twopc.Proposal) error {
	return p.client.request(ctx, p.id, orderAbort, proposal)
}
