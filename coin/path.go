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

package coin

import (
	"fmt"
	"strconv"
	"strings"
)

// Hardened marks a hardened derivation index.
const Hardened uint32 = 0x80000000

// Path is a five-level derivation path: purpose'/coin'/account'/change/index.
type Path struct {
	Purpose      uint32
	CoinIndex    uint32
	Account      uint32
	Change       uint32
	AddressIndex uint32
}

// ReceivePath returns the external-chain path for a coin account.
func ReceivePath(c Coin, account, index uint32) Path {
	return Path{Purpose: c.Purpose, CoinIndex: c.Index, Account: account, AddressIndex: index}
}

// Hex encodes the path as 5 big-endian uint32 values; the first three levels
// are hardened. Account-based families derive at the account level only and
// leave change and index zero.
func (p Path) Hex() string {
	return fmt.Sprintf("%08x%08x%08x%08x%08x",
		p.Purpose|Hardened, p.CoinIndex|Hardened, p.Account|Hardened, p.Change, p.AddressIndex)
}

// String renders the path in m/84'/0'/0'/0/0 notation.
func (p Path) String() string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.Purpose, p.CoinIndex, p.Account, p.Change, p.AddressIndex)
}

// ParsePath parses the m/a'/b'/c'/d/e notation produced by String.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 6 || parts[0] != "m" {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}

	var levels [5]uint32
	for i, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		if i < 3 && !hardened {
			return Path{}, fmt.Errorf("%w: level %d of %q must be hardened", ErrInvalidPath, i+1, s)
		}
		v, err := strconv.ParseUint(strings.TrimSuffix(part, "'"), 10, 31)
		if err != nil {
			return Path{}, fmt.Errorf("%w: %q: %w", ErrInvalidPath, s, err)
		}
		levels[i] = uint32(v)
	}

	return Path{
		Purpose:      levels[0],
		CoinIndex:    levels[1],
		Account:      levels[2],
		Change:       levels[3],
		AddressIndex: levels[4],
	}, nil
}
