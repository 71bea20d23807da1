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
	"slices"
)

// Stage is a milestone inside an on-device confirmation sequence.
type Stage int

const (
	StageCoinsConfirmed Stage = iota
	StageVerified
	StagePassphraseEntered
	StagePinEntered
	StageCardsTapped
)

var stageNames = [...]string{
	StageCoinsConfirmed:    "coinsConfirmed",
	StageVerified:          "verified",
	StagePassphraseEntered: "passphraseEntered",
	StagePinEntered:        "pinEntered",
	StageCardsTapped:       "cardsTapped",
}

// String returns the milestone name as published in flow events
func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText encodes the milestone name for JSON consumers.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind selects which confirmation sequence a threshold set belongs to.
type Kind int

const (
	KindSend Kind = iota
	KindReceive
)

// String returns the kind name
func (k Kind) String() string {
	if k == KindReceive {
		return "receive"
	}
	return "send"
}

// Threshold is the FlowStatus value at which a stage counts as crossed.
type Threshold struct {
	Stage  Stage
	Status uint16
}

// Each firmware variant numbers its internal steps differently. Entries are
// ordered by Status.
var thresholds = map[Family]map[Kind][]Threshold{
	UTXO: {
		KindSend: {
			{StageCoinsConfirmed, 1}, {StageVerified, 3}, {StagePassphraseEntered, 4},
			{StagePinEntered, 5}, {StageCardsTapped, 6},
		},
		KindReceive: {
			{StageCoinsConfirmed, 1}, {StagePassphraseEntered, 2}, {StagePinEntered, 3},
			{StageCardsTapped, 4}, {StageVerified, 6},
		},
	},
	Ethereum: {
		KindSend: {
			{StageCoinsConfirmed, 1}, {StageVerified, 4}, {StagePassphraseEntered, 5},
			{StagePinEntered, 6}, {StageCardsTapped, 7},
		},
		KindReceive: {
			{StageCoinsConfirmed, 1}, {StagePassphraseEntered, 2}, {StagePinEntered, 3},
			{StageCardsTapped, 4}, {StageVerified, 7},
		},
	},
	Near: {
		KindSend: {
			{StageCoinsConfirmed, 1}, {StageVerified, 5}, {StagePassphraseEntered, 6},
			{StagePinEntered, 7}, {StageCardsTapped, 8},
		},
		KindReceive: {
			{StageCoinsConfirmed, 1}, {StagePassphraseEntered, 2}, {StagePinEntered, 3},
			{StageCardsTapped, 4}, {StageVerified, 6},
		},
	},
	Solana: {
		KindSend: {
			{StageCoinsConfirmed, 1}, {StageVerified, 3}, {StagePassphraseEntered, 4},
			{StagePinEntered, 5}, {StageCardsTapped, 6},
		},
		KindReceive: {
			{StageCoinsConfirmed, 1}, {StagePassphraseEntered, 2}, {StagePinEntered, 3},
			{StageCardsTapped, 4}, {StageVerified, 6},
		},
	},
}

// Thresholds returns the ordered threshold set for a family and kind. The
// returned slice is a copy.
func Thresholds(f Family, k Kind) ([]Threshold, error) {
	byKind, ok := thresholds[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, f)
	}
	set, ok := byKind[k]
	if !ok {
		return nil, fmt.Errorf("%w: no %s thresholds for %s", ErrUnknownFamily, k, f)
	}
	return slices.Clone(set), nil
}

// MessageThresholds returns the thresholds used while signing a message,
// which tracks progress exactly like a one-shot Ethereum send.
func MessageThresholds() []Threshold {
	set, _ := Thresholds(Ethereum, KindSend)
	return set
}
