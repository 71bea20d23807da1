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

const acceptableSizeHexLen = 4

// SendFlow signs a transaction on the device.
type SendFlow struct {
	wallet TxWallet
	Base
}

// NewSendFlow creates a send flow building transactions with wallet.
func NewSendFlow(wallet TxWallet, opts ...Option) *SendFlow {
	f := &SendFlow{wallet: wallet}
	f.init("send", opts)
	return f
}

// Run builds the transaction described by req, has the device confirm and
// sign it, and publishes the signed transaction.
func (f *SendFlow) Run(ctx context.Context, conn protocols.Connection, req SendRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		if f.wallet == nil {
			return ExitNone, fmt.Errorf("%w: transaction wallet", ErrMissingDependency)
		}
		thresholds, err := coin.Thresholds(req.Coin.Family, coin.KindSend)
		if err != nil {
			return ExitNone, err
		}
		tracker := newProgressTracker(s, thresholds, LegSend, skippedStages(req.Wallet)...)
		return f.body(s, req, tracker)
	})
}

func (f *SendFlow) body(s *session, req SendRequest, tracker *progressTracker) (ExitReason, error) {
	metadata, err := f.wallet.Metadata(s.ctx, req)
	if err != nil {
		return ExitNone, fmt.Errorf("build metadata: %w", err)
	}

	frame, err := s.exchange(protocols.CmdSendMetadata, metadata,
		expect(one(protocols.CmdSendUTXO), lookupFailures), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdSendUTXO {
		return s.resolve(frame)
	}
	acceptable, ok, err := parseAcceptance(s, frame)
	if err != nil {
		return ExitNone, err
	}
	if !ok {
		return s.reject()
	}
	s.emit(EventAcceptedRequest, Confirmation{OK: true})
	tracker.mark(coin.StageCoinsConfirmed)

	unsigned, err := f.wallet.UnsignedTransaction(s.ctx, req)
	if err != nil {
		return ExitNone, fmt.Errorf("build unsigned transaction: %w", err)
	}
	leg := sendLeg{
		wallet:     f.wallet,
		blockhash:  f.settings.blockhash,
		req:        req,
		unsigned:   unsigned,
		acceptable: acceptable,
		tracker:    tracker,
	}
	return leg.run(s)
}

// parseAcceptance reads a "01"+acceptable size or "00" confirmation.
func parseAcceptance(s *session, f protocols.CommandFrame) (acceptable int, ok bool, err error) {
	accepted, err := s.acceptance(f)
	if err != nil || !accepted {
		return 0, false, err
	}
	field, err := protocols.Slice(f.Payload, 2, acceptableSizeHexLen)
	if err != nil {
		return 0, false, s.protocolError(f.CommandType, "acceptable size: %v", err)
	}
	size, err := protocols.ParseHexUint(field)
	if err != nil {
		return 0, false, s.protocolError(f.CommandType, "acceptable size: %v", err)
	}
	return int(size), true, nil
}

// sendLeg is the part of a send that follows the device's acceptance: size
// check, unsigned transaction, confirmations, signatures. Swap reuses it.
type sendLeg struct {
	wallet     TxWallet
	blockhash  BlockhashSource
	tracker    *progressTracker
	unsigned   UnsignedTx
	req        SendRequest
	acceptable int
}

func (l *sendLeg) run(s *session) (ExitReason, error) {
	if limit := 2 * l.acceptable; len(l.unsigned.Hex) > limit {
		protocols.Debugf("%s: unsigned transaction of %d hex chars exceeds %d", s.base.name, len(l.unsigned.Hex), limit)
		s.emit(EventTxnTooLarge, SizeData{Size: len(l.unsigned.Hex) / 2, Limit: l.acceptable})
		s.interrupted = true
		return ExitTxnTooLarge, nil
	}
	if l.req.Coin.Family == coin.UTXO && len(l.unsigned.Inputs) == 0 {
		return ExitNone, fmt.Errorf("%w: UTXO transaction without inputs", protocols.ErrInvalidParameter)
	}
	if l.req.Coin.Family == coin.Solana && l.blockhash == nil {
		return ExitNone, fmt.Errorf("%w: blockhash source", ErrMissingDependency)
	}

	var sc SignContext
	var signatures []string
	var reason ExitReason
	var err error
	if s.sequenced() {
		signatures, reason, err = l.runOperation(s, &sc)
	} else {
		signatures, reason, err = l.runLegacy(s, &sc)
	}
	if err != nil || reason != ExitNone {
		return reason, err
	}
	return l.finish(s, signatures, sc)
}

func (l *sendLeg) runLegacy(s *session, sc *SignContext) ([]string, ExitReason, error) {
	if err := s.send(protocols.CmdRecipientVerify, l.unsigned.Hex); err != nil {
		return nil, ExitNone, err
	}
	if l.req.Coin.Family == coin.UTXO {
		for i, prev := range l.unsigned.Inputs {
			if reason, err := l.verifyInput(s, i, prev); err != nil || reason != ExitNone {
				return nil, reason, err
			}
		}
	}

	frame, err := s.receive(expect(one(protocols.CmdRecipientVerify, protocols.CmdReceiveRejected), lookupFailures),
		protocols.RecipientVerifyTimeout)
	if err != nil {
		return nil, ExitNone, err
	}
	if reason, err := l.recipientVerified(s, frame); err != nil || reason != ExitNone {
		return nil, reason, err
	}
	if reason, err := s.confirmOnDevice(l.req.Wallet, l.tracker); err != nil || reason != ExitNone {
		return nil, reason, err
	}
	if reason, err := l.forwardBlockhash(s, sc); err != nil || reason != ExitNone {
		return nil, reason, err
	}
	return l.collectSignatures(s, 0, nil)
}

func (l *sendLeg) runOperation(s *session, sc *SignContext) ([]string, ExitReason, error) {
	if l.req.Coin.Family == coin.UTXO {
		for i, prev := range l.unsigned.Inputs {
			if reason, err := l.verifyInput(s, i, prev); err != nil || reason != ExitNone {
				return nil, reason, err
			}
		}
	}
	if reason, err := l.forwardBlockhash(s, sc); err != nil || reason != ExitNone {
		return nil, reason, err
	}

	frame, err := s.operation(protocols.CmdRecipientVerify, l.unsigned.Hex,
		expect(one(protocols.CmdSignature, protocols.CmdRecipientVerify, protocols.CmdReceiveRejected),
			userFailures, lookupFailures),
		deviceFlowTimeout, l.tracker.onStatus)
	if err != nil {
		return nil, ExitNone, err
	}
	if frame.CommandType != protocols.CmdSignature {
		// Anything other than the first signature ends the flow here.
		if frame.CommandType == protocols.CmdRecipientVerify {
			if reason, err := l.recipientVerified(s, frame); err != nil || reason != ExitNone {
				return nil, reason, err
			}
			return nil, ExitNone, s.unexpected(frame)
		}
		reason, err := s.resolve(frame)
		return nil, reason, err
	}
	l.tracker.flush()

	first, err := signaturePayload(s, frame)
	if err != nil {
		return nil, ExitNone, err
	}
	return l.collectSignatures(s, 1, []string{first})
}

// verifyInput sends one previous transaction; the device must answer "01".
func (l *sendLeg) verifyInput(s *session, index int, prevTx string) (ExitReason, error) {
	frame, err := s.exchange(protocols.CmdSendUTXO, prevTx,
		expect(one(protocols.CmdSendUTXO), lookupFailures), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdSendUTXO {
		return s.resolve(frame)
	}
	if !frame.HasPrefix(protocols.PayloadAccept) {
		return ExitNone, s.protocolError(frame.CommandType, "input %d not verified (payload %q)", index, frame.Payload)
	}
	protocols.Debugf("%s: input %d verified", s.base.name, index)
	return ExitNone, nil
}

func (l *sendLeg) recipientVerified(s *session, frame protocols.CommandFrame) (ExitReason, error) {
	if frame.CommandType != protocols.CmdRecipientVerify {
		return s.resolve(frame)
	}
	ok, err := s.acceptance(frame)
	if err != nil {
		return ExitNone, err
	}
	if !ok {
		return s.reject()
	}
	l.tracker.mark(coin.StageVerified)
	return ExitNone, nil
}

func (l *sendLeg) forwardBlockhash(s *session, sc *SignContext) (ExitReason, error) {
	if l.req.Coin.Family != coin.Solana {
		return ExitNone, nil
	}
	hash, err := l.blockhash.LatestBlockhash(s.ctx)
	if err != nil {
		return ExitNone, fmt.Errorf("latest blockhash: %w", err)
	}
	frame, err := s.exchange(protocols.CmdCoinSpecificData, hash,
		expect(one(protocols.CmdCoinSpecificData), lookupFailures), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdCoinSpecificData {
		return s.resolve(frame)
	}
	if !frame.HasPrefix(protocols.PayloadAccept) {
		return ExitNone, s.protocolError(frame.CommandType, "blockhash not acknowledged (payload %q)", frame.Payload)
	}
	sc.Blockhash = hash
	return ExitNone, nil
}

// collectSignatures requests the signatures not yet received, starting at
// index from. UTXO coins sign once per input; account coins once.
func (l *sendLeg) collectSignatures(s *session, from int, signatures []string) ([]string, ExitReason, error) {
	count := 1
	if l.req.Coin.Family == coin.UTXO {
		count = len(l.unsigned.Inputs)
	}
	for i := from; i < count; i++ {
		payload := protocols.PayloadReject
		if l.req.Coin.Family == coin.UTXO {
			payload = protocols.Uint16Hex(uint16(i))
		}
		frame, err := s.exchange(protocols.CmdSignature, payload,
			expect(one(protocols.CmdSignature), lookupFailures), protocols.SignatureTimeout)
		if err != nil {
			return nil, ExitNone, err
		}
		if frame.CommandType != protocols.CmdSignature {
			reason, err := s.resolve(frame)
			return nil, reason, err
		}
		sig, err := signaturePayload(s, frame)
		if err != nil {
			return nil, ExitNone, err
		}
		signatures = append(signatures, sig)
	}
	return signatures, ExitNone, nil
}

func signaturePayload(s *session, frame protocols.CommandFrame) (string, error) {
	if !protocols.IsHex(frame.Payload) {
		return "", s.protocolError(frame.CommandType, "signature is not hex (%d chars)", len(frame.Payload))
	}
	return frame.Payload, nil
}

func (l *sendLeg) finish(s *session, signatures []string, sc SignContext) (ExitReason, error) {
	signed, err := l.wallet.SignedTransaction(s.ctx, l.unsigned, signatures, sc)
	if err != nil {
		return ExitNone, fmt.Errorf("assemble signed transaction: %w", err)
	}
	ok, err := l.wallet.VerifySignedTransaction(s.ctx, signed)
	if err != nil {
		return ExitNone, fmt.Errorf("verify signed transaction: %w", err)
	}
	s.emit(EventSignatureVerify, Confirmation{OK: ok})
	if !ok {
		protocols.Debugf("%s: signed transaction failed verification", s.base.name)
		return ExitNone, nil
	}
	s.emit(EventSignedTxn, SignedTxnData{Hex: signed})
	return ExitNone, nil
}
