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

// ReceiveRequest selects the account to receive into.
type ReceiveRequest struct {
	Wallet  Wallet
	Coin    coin.Coin
	Account uint32
}

// ReceiveFlow shows a freshly derived receive address on the device for the
// user to check.
type ReceiveFlow struct {
	deriver AddressDeriver
	Base
}

// NewReceiveFlow creates a receive flow deriving addresses with deriver.
func NewReceiveFlow(deriver AddressDeriver, opts ...Option) *ReceiveFlow {
	f := &ReceiveFlow{deriver: deriver}
	f.init("receive", opts)
	return f
}

// Run derives the next receive address and has the device verify it.
func (f *ReceiveFlow) Run(ctx context.Context, conn protocols.Connection, req ReceiveRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		if f.deriver == nil {
			return ExitNone, fmt.Errorf("%w: address deriver", ErrMissingDependency)
		}
		address, path, err := f.deriver.ReceiveAddress(s.ctx, req.Wallet, req.Coin, req.Account)
		if err != nil {
			return ExitNone, fmt.Errorf("derive receive address: %w", err)
		}
		s.emit(EventReceiveAddress, AddressData{Address: address, Path: path.String()})

		thresholds, err := coin.Thresholds(req.Coin.Family, coin.KindReceive)
		if err != nil {
			return ExitNone, err
		}
		tracker := newProgressTracker(s, thresholds, LegReceive, skippedStages(req.Wallet)...)

		leg := receiveLeg{wallet: req.Wallet, address: address, tracker: tracker, verified: protocols.CmdReceiveAddrVerified}
		reason, err := chain(
			func() (ExitReason, error) { return requestReceive(s, req.Wallet, path, address, tracker) },
			func() (ExitReason, error) { return leg.run(s) },
		)
		if err != nil || reason != ExitNone {
			return reason, err
		}

		if store := f.settings.addrStore; store != nil {
			if err := store.SaveReceiveAddress(s.ctx, req.Wallet.ID, req.Coin.ID, address, path.String()); err != nil {
				return ExitNone, fmt.Errorf("save receive address: %w", err)
			}
		}
		return ExitNone, nil
	})
}

// receivePayload is wallet id, derivation path, then the length-prefixed
// ASCII address.
func receivePayload(walletID string, path coin.Path, address string) string {
	return walletID + path.Hex() + protocols.EncodeField(protocols.ASCIIToHex(address))
}

func requestReceive(s *session, w Wallet, path coin.Path, address string, tracker *progressTracker) (ExitReason, error) {
	frame, err := s.exchange(protocols.CmdReceiveRequest, receivePayload(w.ID, path, address),
		expect(one(protocols.CmdReceiveCoinConfirmed, protocols.CmdReceiveRejected), lookupFailures),
		protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdReceiveCoinConfirmed {
		return s.resolve(frame)
	}
	s.emit(EventAcceptedRequest, Confirmation{OK: true})
	tracker.mark(coin.StageCoinsConfirmed)
	return ExitNone, nil
}

// receiveLeg runs the user confirmations and the on-screen address check.
// Swap reuses it with its own address verified command.
type receiveLeg struct {
	tracker  *progressTracker
	address  string
	wallet   Wallet
	verified uint32
}

func (l receiveLeg) run(s *session) (ExitReason, error) {
	var frame protocols.CommandFrame
	var err error
	if s.sequenced() {
		frame, err = s.operation(l.verified, protocols.PayloadReject,
			expect(one(l.verified, protocols.CmdReceiveRejected), userFailures, lookupFailures),
			deviceFlowTimeout, l.tracker.onStatus)
	} else {
		if reason, err := s.confirmOnDevice(l.wallet, l.tracker); err != nil || reason != ExitNone {
			return reason, err
		}
		frame, err = s.receive(expect(one(l.verified, protocols.CmdReceiveRejected), lookupFailures),
			protocols.RecipientVerifyTimeout)
	}
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != l.verified {
		return s.resolve(frame)
	}

	ok, err := s.acceptance(frame)
	if err != nil {
		return ExitNone, err
	}
	if !ok {
		s.emit(EventAddressVerified, AddressData{Address: l.address, Verified: false})
		return ExitRejected, nil
	}
	l.tracker.flush()
	s.emit(EventAddressVerified, AddressData{Address: l.address, Verified: true})
	return ExitNone, nil
}
