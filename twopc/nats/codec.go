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
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tochemey/recipes/twopc"
)

const (
	orderPrepare = "prepare"
	orderCommit  = "commit"
	orderAbort   = "abort"
)

var (
	// ErrMalformedMessage is returned when an order or a reply cannot be decoded
	ErrMalformedMessage = errors.New("malformed message")
	// ErrRemote wraps the error a remote site returned for an order
	ErrRemote = errors.New("remote site failure")
	// ErrUnreachable is returned when no server listens for a site
	ErrUnreachable = errors.New("site unreachable")
)

func subject(prefix, siteID, order string) string {
	return strings.Join([]string{prefix, siteID, order}, ".")
}

// orderOf returns the last token of an order subject
func orderOf(subj string) string {
	if i := strings.LastIndexByte(subj, '.'); i >= 0 {
		return subj[i+1:]
	}
	return subj
}

func encodeProposal(proposal *twopc.Proposal) ([]byte, error) {
	sites := make([]any, 0, len(proposal.Sites))
	for _, site := range proposal.Sites {
		sites = append(sites, site)
	}

	options := proposal.Options
	envelope, err := structpb.NewStruct(map[string]any{
		"transaction_id": proposal.TransactionID,
		"path":           proposal.Path,
		"command":        base64.StdEncoding.EncodeToString(proposal.Command),
		"sites":          sites,
		"options": map[string]any{
			"quorum":                  options.Quorum.String(),
			"timeout":                 options.Timeout.String(),
			"coordinator_commits":     options.CoordinatorCommits,
			"sites_create_nodes":      options.SitesCreateNodes,
			"send_abort_to_all_sites": options.SendAbortToAllSites,
			"presumed_abort":          options.PresumedAbort,
			"presumed_commit":         options.PresumedCommit,
		},
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(envelope)
}

func decodeProposal(data []byte) (*twopc.Proposal, error) {
	envelope := new(structpb.Struct)
	if err := proto.Unmarshal(data, envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	fields := envelope.GetFields()
	command, err := base64.StdEncoding.DecodeString(fields["command"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	values := fields["sites"].GetListValue().GetValues()
	sites := make([]string, 0, len(values))
	for _, value := range values {
		sites = append(sites, value.GetStringValue())
	}

	options := fields["options"].GetStructValue().GetFields()
	quorum, err := twopc.ParseQuorum(options["quorum"].GetStringValue())
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(options["timeout"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	proposal := &twopc.Proposal{
		TransactionID: fields["transaction_id"].GetStringValue(),
		Path:          fields["path"].GetStringValue(),
		Command:       command,
		Sites:         sites,
		Options: twopc.Options{
			Quorum:              quorum,
			Timeout:             timeout,
			CoordinatorCommits:  options["coordinator_commits"].GetBoolValue(),
			SitesCreateNodes:    options["sites_create_nodes"].GetBoolValue(),
			SendAbortToAllSites: options["send_abort_to_all_sites"].GetBoolValue(),
			PresumedAbort:       options["presumed_abort"].GetBoolValue(),
			PresumedCommit:      options["presumed_commit"].GetBoolValue(),
		},
	}

	if proposal.TransactionID == "" || proposal.Path == "" {
		return nil, fmt.Errorf("%w: missing transaction", ErrMalformedMessage)
	}
	return proposal, nil
}

func encodeReply(err error) []byte {
	fields := map[string]*structpb.Value{}
	if err != nil {
		fields["error"] = structpb.NewStringValue(err.Error())
	}

	// marshaling a struct of strings cannot fail
	bytea, _ := proto.Marshal(&structpb.Struct{Fields: fields})
	return bytea
}

func decodeReply(data []byte) error {
	reply := new(structpb.Struct)
	if err := proto.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	if message, ok := reply.GetFields()["error"]; ok {
		return fmt.Errorf("%w: %s", ErrRemote, message.GetStringValue())
	}
	return nil
}
