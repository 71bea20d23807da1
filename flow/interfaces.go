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

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// Wallet is a wallet as the device reports it.
type Wallet struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	HasPin        bool   `json:"hasPin"`
	HasPassphrase bool   `json:"hasPassphrase"`
}

// Xpub is the extended public key the device exported for one coin.
type Xpub struct {
	CoinID string `json:"coinId"`
	Xpub   string `json:"xpub"`
}

// AuthKind selects which attestation endpoints a request goes to.
type AuthKind int

const (
	AuthCard AuthKind = iota
	AuthDevice
)

func (k AuthKind) String() string {
	if k == AuthDevice {
		return "device"
	}
	return "card"
}

// SerialRequest asks the attestation server to check a signed serial.
type SerialRequest struct {
	Serial     string
	Signature  string
	Hash       string
	Postfix1   string
	Postfix2   string
	Kind       AuthKind
	CardNumber int
	IsTestApp  bool
}

// ChallengeRequest asks the attestation server to check a signed challenge.
type ChallengeRequest struct {
	Serial          string
	Signature       string
	Challenge       string
	FirmwareVersion string
	Postfix1        string
	Postfix2        string
	Kind            AuthKind
	CardNumber      int
	IsTestApp       bool
}

// Attestor is the remote attestation server. VerifySerial returns an empty
// challenge when the serial is not recognised.
type Attestor interface {
	VerifySerial(ctx context.Context, req SerialRequest) (string, error)
	VerifyChallenge(ctx context.Context, req ChallengeRequest) (bool, error)
}

// Output is one recipient of a send.
type Output struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// SendRequest describes a transaction to build.
type SendRequest struct {
	Data    string
	Fee     string
	Wallet  Wallet
	Outputs []Output
	Coin    coin.Coin
	Account uint32
}

// UnsignedTx is an unsigned transaction. Inputs holds, per input, the
// previous transaction the device needs to verify it (UTXO families only).
type UnsignedTx struct {
	Hex    string
	Inputs []string
}

// SignContext carries coin-specific data gathered during signing.
type SignContext struct {
	Blockhash string
}

// TxWallet builds and checks transactions off-device.
type TxWallet interface {
	Metadata(ctx context.Context, req SendRequest) (string, error)
	UnsignedTransaction(ctx context.Context, req SendRequest) (UnsignedTx, error)
	SignedTransaction(ctx context.Context, unsigned UnsignedTx, signatures []string, sc SignContext) (string, error)
	VerifySignedTransaction(ctx context.Context, signedHex string) (bool, error)
}

// AddressDeriver derives receive addresses off-device.
type AddressDeriver interface {
	ReceiveAddress(ctx context.Context, wallet Wallet, c coin.Coin, account uint32) (string, coin.Path, error)
}

// BlockhashSource returns a recent Solana blockhash.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (string, error)
}

// SwapOrder is what the exchange needs to create an order.
type SwapOrder struct {
	From           coin.Coin
	To             coin.Coin
	SendAmount     string
	ReceiveAmount  string
	ReceiveAddress string
}

// SwapExchange creates the third-party exchange order once the receive
// address is verified and returns the address to pay into.
type SwapExchange interface {
	CreateOrder(ctx context.Context, order SwapOrder) (string, error)
}

// WalletStore persists wallets.
type WalletStore interface {
	WalletExists(ctx context.Context, id string) (bool, error)
	SaveWallet(ctx context.Context, w Wallet) error
}

// CoinStore persists exported xpubs.
type CoinStore interface {
	SaveXpub(ctx context.Context, walletID string, x Xpub) error
}

// DeviceStore records device authentication outcomes.
type DeviceStore interface {
	SaveDeviceAuth(ctx context.Context, serial string, verified bool) error
}

// AddressStore records verified receive addresses.
type AddressStore interface {
	SaveReceiveAddress(ctx context.Context, walletID, coinID, address, path string) error
}

// Upgrader transfers firmware over an open connection to a device in
// bootloader mode. Each call is all-or-nothing.
type Upgrader interface {
	Upgrade(ctx context.Context, conn protocols.Connection, firmwareHex string, progress func(percent int)) error
}
