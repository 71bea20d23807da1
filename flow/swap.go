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

// SwapRequest describes both legs of a swap. Send.Outputs is filled in by the
// flow with the exchange's pay-in address.
type SwapRequest struct {
	Send           SendRequest
	ReceiveWallet  Wallet
	ReceiveCoin    coin.Coin
	SendAmount     string
	ReceiveAmount  string
	ExchangeFee    string
	ReceiveAccount uint32
}

// SwapFlow runs a receive leg and a send leg back to back in one device
// session.
type SwapFlow struct {
	wallet   TxWallet
	deriver  AddressDeriver
	exchange SwapExchange
	Base
}

// NewSwapFlow creates a swap flow.
func NewSwapFlow(wallet TxWallet, deriver AddressDeriver, exchange SwapExchange, opts ...Option) *SwapFlow {
	f := &SwapFlow{wallet: wallet, deriver: deriver, exchange: exchange}
	f.init("swap", opts)
	return f
}

// Run verifies the receive address, creates the exchange order and signs the
// transaction paying into it.
func (f *SwapFlow) Run(ctx context.Context, conn protocols.Connection, req SwapRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		switch {
		case f.wallet == nil:
			return ExitNone, fmt.Errorf("%w: transaction wallet", ErrMissingDependency)
		case f.deriver == nil:
			return ExitNone, fmt.Errorf("%w: address deriver", ErrMissingDependency)
		case f.exchange == nil:
			return ExitNone, fmt.Errorf("%w: swap exchange", ErrMissingDependency)
		}
		return f.body(s, req)
	})
}

func (f *SwapFlow) body(s *session, req SwapRequest) (ExitReason, error) {
	address, path, err := f.deriver.ReceiveAddress(s.ctx, req.ReceiveWallet, req.ReceiveCoin, req.ReceiveAccount)
	if err != nil {
		return ExitNone, fmt.Errorf("derive receive address: %w", err)
	}
	s.emit(EventReceiveAddress, AddressData{Address: address, Path: path.String()})

	metadata, err := f.wallet.Metadata(s.ctx, req.Send)
	if err != nil {
		return ExitNone, fmt.Errorf("build send metadata: %w", err)
	}

	recvThresholds, err := coin.Thresholds(req.ReceiveCoin.Family, coin.KindReceive)
	if err != nil {
		return ExitNone, err
	}
	sendThresholds, err := coin.Thresholds(req.Send.Coin.Family, coin.KindSend)
	if err != nil {
		return ExitNone, err
	}
	recvTracker := newProgressTracker(s, recvThresholds, LegReceive, skippedStages(req.ReceiveWallet)...)
	sendTracker := newProgressTracker(s, sendThresholds, LegSend, skippedStages(req.Send.Wallet)...)

	frame, err := s.exchange(protocols.CmdSwapMetadata, swapPayload(req, metadata, path, address),
		expect(one(protocols.CmdSwapMetadata, protocols.CmdReceiveRejected), lookupFailures),
		protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdSwapMetadata {
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
	recvTracker.mark(coin.StageCoinsConfirmed)

	recv := receiveLeg{
		wallet:   req.ReceiveWallet,
		address:  address,
		tracker:  recvTracker,
		verified: protocols.CmdSwapAddrVerified,
	}
	if reason, err := recv.run(s); err != nil || reason != ExitNone {
		return reason, err
	}

	payin, err := f.exchange.CreateOrder(s.ctx, SwapOrder{
		From:           req.Send.Coin,
		To:             req.ReceiveCoin,
		SendAmount:     req.SendAmount,
		ReceiveAmount:  req.ReceiveAmount,
		ReceiveAddress: address,
	})
	if err != nil {
		return ExitNone, fmt.Errorf("create exchange order: %w", err)
	}
	s.emit(EventExchangeOrder, AddressData{Address: payin})

	sendReq := req.Send
	sendReq.Outputs = []Output{{Address: payin, Amount: req.SendAmount}}
	unsigned, err := f.wallet.UnsignedTransaction(s.ctx, sendReq)
	if err != nil {
		return ExitNone, fmt.Errorf("build unsigned transaction: %w", err)
	}
	sendTracker.mark(coin.StageCoinsConfirmed)

	leg := sendLeg{
		wallet:     f.wallet,
		blockhash:  f.settings.blockhash,
		req:        sendReq,
		unsigned:   unsigned,
		acceptable: acceptable,
		tracker:    sendTracker,
	}
	return leg.run(s)
}

// swapPayload carries both legs and the amounts, each length-prefixed: send
// wallet and metadata, receive wallet with path and address, send amount,
// receive amount, exchange fee.
func swapPayload(req SwapRequest, metadata string, path coin.Path, address string) string {
	return protocols.EncodeField(req.Send.Wallet.ID+metadata) +
		protocols.EncodeField(receivePayload(req.ReceiveWallet.ID, path, address)) +
		protocols.EncodeField(protocols.ASCIIToHex(req.SendAmount)) +
		protocols.EncodeField(protocols.ASCIIToHex(req.ReceiveAmount)) +
		protocols.EncodeField(protocols.ASCIIToHex(req.ExchangeFee))
}
