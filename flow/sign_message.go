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

package flow

import (
	"context"
	"fmt"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// SignMessageRequest is a message to sign with an account key. Metadata is
// the coin-specific header built off-device.
type SignMessageRequest struct {
	Wallet   Wallet
	Metadata string
	Message  []byte
}

// SignMessageFlow signs an arbitrary message on the device.
type SignMessageFlow struct {
	Base
}

// NewSignMessageFlow creates a sign message flow.
func NewSignMessageFlow(opts ...Option) *SignMessageFlow {
	f := &SignMessageFlow{}
	f.init("signMessage", opts)
	return f
}

// Run shows the message on the device and publishes the signature.
func (f *SignMessageFlow) Run(ctx context.Context, conn protocols.Connection, req SignMessageRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		if len(req.Message) == 0 {
			return ExitNone, fmt.Errorf("%w: empty message", protocols.ErrInvalidParameter)
		}
		tracker := newProgressTracker(s, coin.MessageThresholds(), LegSend, skippedStages(req.Wallet)...)
		return f.body(s, req, tracker)
	})
}

func signMessagePayload(req SignMessageRequest) string {
	return req.Metadata + protocols.EncodeField(protocols.ASCIIToHex(string(req.Message)))
}

func (f *SignMessageFlow) body(s *session, req SignMessageRequest, tracker *progressTracker) (ExitReason, error) {
	frame, err := s.exchange(protocols.CmdSignMessageStart, signMessagePayload(req),
		expect(one(protocols.CmdSignMessageConfirm), lookupFailures), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	if reason, err := f.confirmed(s, frame); err != nil || reason != ExitNone {
		return reason, err
	}
	s.emit(EventAcceptedRequest, Confirmation{OK: true})
	tracker.mark(coin.StageCoinsConfirmed)

	if s.sequenced() {
		frame, err = s.operation(protocols.CmdSignMessageResult, protocols.PayloadReject,
			expect(one(protocols.CmdSignMessageResult, protocols.CmdSignMessageConfirm), userFailures, lookupFailures),
			deviceFlowTimeout, tracker.onStatus)
		if err != nil {
			return ExitNone, err
		}
		if frame.CommandType == protocols.CmdSignMessageConfirm {
			// Only a rejection of the on-screen check ends up here.
			if reason, err := f.confirmed(s, frame); err != nil || reason != ExitNone {
				return reason, err
			}
			return ExitNone, s.unexpected(frame)
		}
	} else {
		frame, err = s.receive(expect(one(protocols.CmdSignMessageConfirm), lookupFailures),
			protocols.RecipientVerifyTimeout)
		if err != nil {
			return ExitNone, err
		}
		if reason, err := f.confirmed(s, frame); err != nil || reason != ExitNone {
			return reason, err
		}
		tracker.mark(coin.StageVerified)

		if reason, err := s.confirmOnDevice(req.Wallet, tracker); err != nil || reason != ExitNone {
			return reason, err
		}
		frame, err = s.receive(expect(one(protocols.CmdSignMessageResult), lookupFailures),
			protocols.SignatureTimeout)
		if err != nil {
			return ExitNone, err
		}
	}
	if frame.CommandType != protocols.CmdSignMessageResult {
		return s.resolve(frame)
	}
	tracker.flush()

	sig, err := signaturePayload(s, frame)
	if err != nil {
		return ExitNone, err
	}
	s.emit(EventMessageSignature, MessageSignatureData{Signature: sig})
	return ExitNone, nil
}

// confirmed handles a 94 acceptance; anything else is resolved as a
// terminal response.
func (f *SignMessageFlow) confirmed(s *session, frame protocols.CommandFrame) (ExitReason, error) {
	if frame.CommandType != protocols.CmdSignMessageConfirm {
		return s.resolve(frame)
	}
	ok, err := s.acceptance(frame)
	if err != nil {
		return ExitNone, err
	}
	if !ok {
		return s.reject()
	}
	return ExitNone, nil
}
