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
	"strings"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// Wallet details layout: name (16 bytes, NUL padded), info byte, wallet id (32 bytes).
const (
	walletNameHexLen = 32
	walletInfoHexLen = 2
	walletIDHexLen   = 64
	walletDetailsLen = walletNameHexLen + walletInfoHexLen + walletIDHexLen

	walletInfoPin        = 0x01
	walletInfoPassphrase = 0x02
)

// AddWalletFlow imports a wallet the user selects on the device.
type AddWalletFlow struct {
	Base
}

// NewAddWalletFlow creates an add wallet flow.
func NewAddWalletFlow(opts ...Option) *AddWalletFlow {
	f := &AddWalletFlow{}
	f.init("addWallet", opts)
	return f
}

// Run asks the device for a wallet and stores it when it is new.
func (f *AddWalletFlow) Run(ctx context.Context, conn protocols.Connection) Result {
	return f.run(ctx, conn, runOptions{}, f.body)
}

func (f *AddWalletFlow) body(s *session) (ExitReason, error) {
	frame, err := s.exchange(protocols.CmdAddWalletRequest, protocols.PayloadReject,
		expect(one(protocols.CmdWalletDetails), lookupFailures), protocols.UserTimeout)
	if err != nil {
		return ExitNone, err
	}
	if frame.CommandType != protocols.CmdWalletDetails {
		return s.resolve(frame)
	}

	wallet, err := parseWalletDetails(frame.Payload)
	if err != nil {
		return ExitNone, s.protocolError(frame.CommandType, "%v", err)
	}

	store := f.settings.walletStore
	if store == nil {
		s.emit(EventWalletDetails, WalletData{Wallet: wallet})
		return ExitNone, nil
	}

	exists, err := store.WalletExists(s.ctx, wallet.ID)
	if err != nil {
		return ExitNone, fmt.Errorf("look up wallet %s: %w", wallet.ID, err)
	}
	if exists {
		s.emit(EventDuplicateWallet, WalletData{Wallet: wallet})
		return ExitDuplicate, nil
	}
	if err := store.SaveWallet(s.ctx, wallet); err != nil {
		return ExitNone, fmt.Errorf("save wallet %s: %w", wallet.ID, err)
	}
	s.emit(EventWalletDetails, WalletData{Wallet: wallet})
	return ExitNone, nil
}

func parseWalletDetails(payload string) (Wallet, error) {
	if len(payload) < walletDetailsLen {
		return Wallet{}, fmt.Errorf("wallet details need %d hex chars, have %d", walletDetailsLen, len(payload))
	}
	name, err := protocols.HexToASCII(payload[:walletNameHexLen])
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet name: %w", err)
	}
	info, err := protocols.ParseHexUint(payload[walletNameHexLen : walletNameHexLen+walletInfoHexLen])
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet info: %w", err)
	}
	id := payload[walletNameHexLen+walletInfoHexLen : walletDetailsLen]
	if !protocols.IsHex(id) {
		return Wallet{}, fmt.Errorf("wallet id %q is not hex", id)
	}
	return Wallet{
		ID:            strings.ToLower(id),
		Name:          strings.TrimRight(name, "\x00"),
		HasPin:        info&walletInfoPin != 0,
		HasPassphrase: info&walletInfoPassphrase != 0,
	}, nil
}
