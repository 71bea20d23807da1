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
)

var cardAuthProtocol = authProtocol{
	kind:          AuthCard,
	start:         protocols.CmdCardAuth,
	accept:        protocols.CmdCardAuth,
	serial:        protocols.CmdCardAuth,
	challenge:     protocols.CmdCardAuth,
	verdict:       protocols.CmdCardAuth,
	serialTimeout: protocols.UserTimeout,
	parse:         parseCardSignedSerial,
}

// MaxCards is the number of cards that pair with one device.
const MaxCards = 4

// CardAuthRequest selects the card to authenticate.
type CardAuthRequest struct {
	FirmwareVersion string
	// CardNumber is 1-based, up to MaxCards
	CardNumber int
}

// CardAuthFlow checks that an X1 card is genuine.
type CardAuthFlow struct {
	attestor Attestor
	Base
}

// NewCardAuthFlow creates a card authentication flow verifying against attestor.
func NewCardAuthFlow(attestor Attestor, opts ...Option) *CardAuthFlow {
	f := &CardAuthFlow{attestor: attestor}
	f.init("cardAuth", opts)
	return f
}

// Run authenticates one card. A card that fails attestation ends the flow
// with ExitNotVerified after the verified event.
func (f *CardAuthFlow) Run(ctx context.Context, conn protocols.Connection, req CardAuthRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		if f.attestor == nil {
			return ExitNone, fmt.Errorf("%w: attestor", ErrMissingDependency)
		}
		if req.CardNumber < 1 || req.CardNumber > MaxCards {
			return ExitNone, fmt.Errorf("%w: card number %d", protocols.ErrInvalidParameter, req.CardNumber)
		}

		p := cardAuthProtocol
		p.startPayload = fmt.Sprintf("%02x%s", req.CardNumber, boolHex(f.settings.config.IsTestApp))

		outcome, reason, err := authenticate(s, p, f.attestor, authParams{
			firmwareVersion: req.FirmwareVersion,
			cardNumber:      req.CardNumber,
			isTestApp:       f.settings.config.IsTestApp,
		})
		if err != nil || reason != ExitNone {
			return reason, err
		}
		s.emit(EventVerified, Confirmation{OK: outcome.verified})
		if !outcome.verified {
			return ExitNotVerified, nil
		}
		return ExitNone, nil
	})
}

func boolHex(v bool) string {
	if v {
		return "01"
	}
	return "00"
}
