// Copyright 2026 The Cypherock Protocols Authors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package attestation is the client for the remote attestation server that
// vouches for device and card serials during authentication.
package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
)

// DefaultTimeout bounds each attestation request.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps the body read from the server.
const maxResponseSize = 64 << 10

// ErrServer is returned for non-2xx responses.
var ErrServer = errors.New("attestation server error")

// Client talks to the attestation server over HTTPS with JSON bodies.
type Client struct {
	http *http.Client
	base string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Nil keeps the default.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// NewClient creates a client for the server at base, e.g.
// https://api.cypherock.com.
func NewClient(base string, opts ...Option) *Client {
	c := &Client{
		base: base,
		http: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig creates a client for cfg.AttestationURL.
func NewClientFromConfig(cfg *protocols.Config, opts ...Option) *Client {
	return NewClient(cfg.AttestationURL, opts...)
}

var _ flow.Attestor = (*Client)(nil)

type serialBody struct {
	Serial     string `json:"serial"`
	Signature  string `json:"signature"`
	Hash       string `json:"hash,omitempty"`
	Postfix1   string `json:"postfix1,omitempty"`
	Postfix2   string `json:"postfix2,omitempty"`
	CardNumber int    `json:"cardNumber,omitempty"`
	IsTestApp  bool   `json:"isTestApp"`
}

type challengeBody struct {
	Serial          string `json:"serial"`
	Signature       string `json:"signature"`
	Challenge       string `json:"challenge"`
	FirmwareVersion string `json:"firmwareVersion"`
	Postfix1        string `json:"postfix1,omitempty"`
	Postfix2        string `json:"postfix2,omitempty"`
	CardNumber      int    `json:"cardNumber,omitempty"`
	IsTestApp       bool   `json:"isTestApp"`
}

type verdict struct {
	Challenge string `json:"challenge"`
	Verified  bool   `json:"verified"`
}

// endpoints returns the verify and challenge paths for kind.
func endpoints(kind flow.AuthKind) (verifyPath, challengePath string) {
	if kind == flow.AuthDevice {
		return "verification/verify", "verification/challenge"
	}
	return "cardauth/verify", "cardauth/challenge"
}

// VerifySerial implements flow.Attestor. An unrecognised serial yields an
// empty challenge and no error.
func (c *Client) VerifySerial(ctx context.Context, req flow.SerialRequest) (string, error) {
	verifyPath, _ := endpoints(req.Kind)
	var v verdict
	err := c.post(ctx, verifyPath, serialBody{
		Serial:     req.Serial,
		Signature:  req.Signature,
		Hash:       req.Hash,
		Postfix1:   req.Postfix1,
		Postfix2:   req.Postfix2,
		CardNumber: req.CardNumber,
		IsTestApp:  req.IsTestApp,
	}, &v)
	if err != nil {
		return "", err
	}
	if !v.Verified {
		protocols.Debugf("attestation: %s serial %s not recognised", req.Kind, req.Serial)
		return "", nil
	}
	return v.Challenge, nil
}

// VerifyChallenge implements flow.Attestor.
func (c *Client) VerifyChallenge(ctx context.Context, req flow.ChallengeRequest) (bool, error) {
	_, challengePath := endpoints(req.Kind)
	var v verdict
	err := c.post(ctx, challengePath, challengeBody{
		Serial:          req.Serial,
		Signature:       req.Signature,
		Challenge:       req.Challenge,
		FirmwareVersion: req.FirmwareVersion,
		Postfix1:        req.Postfix1,
		Postfix2:        req.Postfix2,
		CardNumber:      req.CardNumber,
		IsTestApp:       req.IsTestApp,
	}, &v)
	if err != nil {
		return false, err
	}
	protocols.Debugf("attestation: %s challenge verdict %t", req.Kind, v.Verified)
	return v.Verified, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	uri, err := url.JoinPath(c.base, endpoint)
	if err != nil {
		return fmt.Errorf("error parsing base URL: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("error encoding %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, buf)
	if err != nil {
		return fmt.Errorf("error creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error making HTTP request to %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s %s", ErrServer, endpoint, resp.Status, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", endpoint, err)
	}
	return nil
}
