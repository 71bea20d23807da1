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
	"errors"
	"fmt"
	"strings"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// AddCoinRequest selects the coins to export xpubs for.
type AddCoinRequest struct {
	Wallet Wallet
	Coins  []coin.Coin
	Resync bool
}

// AddCoinFlow exports extended public keys for new coins in a wallet.
type AddCoinFlow struct {
	Base
}

// NewAddCoinFlow creates an add coin flow.
func NewAddCoinFlow(opts ...Option) *AddCoinFlow {
	f := &AddCoinFlow{}
	f.init("addCoin", opts)
	return f
}

// Run confirms the coins on the device and collects one xpub per coin.
func (f *AddCoinFlow) Run(ctx context.Context, conn protocols.Connection, req AddCoinRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		return f.body(s, req)
	})
}

func addCoinPayload(req AddCoinRequest) (string, error) {
	if len(req.Coins) == 0 || len(req.Coins) > 0xFF {
		return "", fmt.Errorf("%w: %d coins", protocols.ErrInvalidParameter, len(req.Coins))
	}
	var b strings.Builder
	b.WriteString(req.Wallet.ID)
	if req.Resync {
		b.WriteString("01")
	} else {
		b.WriteString("00")
	}
	fmt.Fprintf(&b, "%02x", len(req.Coins))
	for _, c := range req.Coins {
		b.WriteString(c.IndexHex())
	}
	return b.String(), nil
}

func (f *AddCoinFlow) body(s *session, req AddCoinRequest) (ExitReason, error) {
	payload, err := addCoinPayload(req)
	if err != nil {
		return ExitNone, err
	}
	thresholds, err := coin.Thresholds(coin.UTXO, coin.KindReceive)
	if err != nil {
		return ExitNone, err
	}
	skip := append(skippedStages(req.Wallet), coin.StageVerified)
	tracker := newProgressTracker(s, thresholds, LegReceive, skip...)

	frame, err := s.exchange(protocols.CmdAddCoinRequest, payload,
		expect(one(protocols.CmdAddCoinResponse), lookupFailures), protocols.UserTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdAddCoinResponse {
		return s.resolve(frame)
	}
	ok, err := s.acceptance(frame)
	if err != nil {
		return ExitNone, err
	}
	if !ok {
		return s.reject()
	}
	tracker.mark(coin.StageCoinsConfirmed)

	if s.sequenced() {
		frame, err = s.operation(protocols.CmdXpub, protocols.PayloadReject,
			expect(one(protocols.CmdXpub), userFailures, lookupFailures), deviceFlowTimeout, tracker.onStatus)
	} else {
		if reason, err := s.confirmOnDevice(req.Wallet, tracker); err != nil || reason != ExitNone {
			return reason, err
		}
		frame, err = s.receive(expect(one(protocols.CmdXpub), lookupFailures), protocols.ConfirmTimeout)
	}
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdXpub {
		return s.resolve(frame)
	}
	tracker.flush()

	xpubs, err := parseXpubs(frame.Payload, req.Coins)
	if err != nil {
		return ExitNone, s.protocolError(frame.CommandType, "%v", err)
	}
	if store := f.settings.coinStore; store != nil {
		for _, x := range xpubs {
			if err := store.SaveXpub(s.ctx, req.Wallet.ID, x); err != nil {
				return ExitNone, fmt.Errorf("save xpub for %s: %w", x.CoinID, err)
			}
		}
	}
	s.emit(EventXpubs, XpubData{Xpubs: xpubs})
	return ExitNone, nil
}

// parseXpubs reads one length-prefixed ASCII xpub per requested coin.
func parseXpubs(payload string, coins []coin.Coin) ([]Xpub, error) {
	xpubs := make([]Xpub, 0, len(coins))
	rest := payload
	for _, c := range coins {
		field, next, err := protocols.DecodeField(rest)
		if err != nil {
			return nil, fmt.Errorf("xpub for %s: %w", c.ID, err)
		}
		text, err := protocols.HexToASCII(field)
		if err != nil {
			return nil, fmt.Errorf("xpub for %s: %w", c.ID, err)
		}
		if text == "" {
			return nil, fmt.Errorf("xpub for %s: %w", c.ID, errEmptyField)
		}
		xpubs = append(xpubs, Xpub{CoinID: c.ID, Xpub: text})
		rest = next
	}
	return xpubs, nil
}

var errEmptyField = errors.New("empty field")
