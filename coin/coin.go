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

// Package coin describes the coin families the device understands and the
// per-family data flows branch on.
package coin

import (
	"fmt"
	"sort"
	"strings"
)

// Family is the closed set of coin families. Every switch over Family must
// handle all four values.
type Family int

const (
	// UTXO covers Bitcoin-like coins where each input is verified separately.
	UTXO Family = iota
	// Ethereum covers Ethereum and EVM chains.
	Ethereum
	// Near covers NEAR protocol accounts.
	Near
	// Solana covers Solana accounts, which need a recent blockhash to sign.
	Solana
)

// String returns the family name
func (f Family) String() string {
	switch f {
	case UTXO:
		return "utxo"
	case Ethereum:
		return "ethereum"
	case Near:
		return "near"
	case Solana:
		return "solana"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// AccountBased reports whether the family signs a single payload instead of
// one signature per input.
func (f Family) AccountBased() bool {
	switch f {
	case UTXO:
		return false
	case Ethereum, Near, Solana:
		return true
	default:
		return false
	}
}

// Coin is a catalogue entry.
type Coin struct {
	ID       string
	Name     string
	Symbol   string
	Family   Family
	Index    uint32 // SLIP-44 coin type
	Purpose  uint32
	Decimals int
	ChainID  uint64 // Ethereum family only
	Testnet  bool
}

// IndexHex returns the hardened coin type as 4 bytes of hex, the form the
// device expects in add-coin and path payloads.
func (c Coin) IndexHex() string {
	return fmt.Sprintf("%08x", c.Index|Hardened)
}

var catalogue = map[string]Coin{
	"btc":  {ID: "btc", Name: "Bitcoin", Symbol: "BTC", Family: UTXO, Index: 0, Purpose: 84, Decimals: 8},
	"btct": {ID: "btct", Name: "Bitcoin Testnet", Symbol: "BTCT", Family: UTXO, Index: 1, Purpose: 84, Decimals: 8, Testnet: true},
	"ltc":  {ID: "ltc", Name: "Litecoin", Symbol: "LTC", Family: UTXO, Index: 2, Purpose: 84, Decimals: 8},
	"doge": {ID: "doge", Name: "Dogecoin", Symbol: "DOGE", Family: UTXO, Index: 3, Purpose: 44, Decimals: 8},
	"dash": {ID: "dash", Name: "Dash", Symbol: "DASH", Family: UTXO, Index: 5, Purpose: 44, Decimals: 8},
	"eth": {
		ID: "eth", Name: "Ethereum", Symbol: "ETH", Family: Ethereum, Index: 60, Purpose: 44, Decimals: 18, ChainID: 1,
	},
	"matic": {
		ID: "matic", Name: "Polygon", Symbol: "MATIC", Family: Ethereum, Index: 60, Purpose: 44, Decimals: 18, ChainID: 137,
	},
	"bnb": {
		ID: "bnb", Name: "BNB Smart Chain", Symbol: "BNB", Family: Ethereum, Index: 60, Purpose: 44, Decimals: 18, ChainID: 56,
	},
	"near": {ID: "near", Name: "Near", Symbol: "NEAR", Family: Near, Index: 397, Purpose: 44, Decimals: 24},
	"sol":  {ID: "sol", Name: "Solana", Symbol: "SOL", Family: Solana, Index: 501, Purpose: 44, Decimals: 9},
}

// Lookup returns the catalogue entry for id (case-insensitive).
func Lookup(id string) (Coin, error) {
	c, ok := catalogue[strings.ToLower(id)]
	if !ok {
		return Coin{}, fmt.Errorf("%w: %q", ErrUnknownCoin, id)
	}
	return c, nil
}

// All returns every catalogue entry sorted by ID.
func All() []Coin {
	coins := make([]Coin, 0, len(catalogue))
	for _, c := range catalogue {
		coins = append(coins, c)
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].ID < coins[j].ID })
	return coins
}
