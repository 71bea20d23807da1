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
	"strings"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// deviceFlowTimeout bounds a sequenced command that spans every user step.
const deviceFlowTimeout = protocols.RecipientVerifyTimeout + 3*protocols.UserTimeout

// terminalOutcome is what a terminal device response means: the event that
// explains it and the reason the flow stops.
type terminalOutcome struct {
	data   func(f protocols.CommandFrame) EventData
	event  EventType
	reason ExitReason
}

var terminalResponses = map[uint32]terminalOutcome{
	protocols.CmdPinRejected:        {event: EventPinRejected, reason: ExitPinRejected},
	protocols.CmdNoWalletOnCard:     {event: EventNoWalletOnCard, reason: ExitNoWalletOnCard},
	protocols.CmdCardError:          {event: EventCardError, reason: ExitCardError, data: cardErrorData},
	protocols.CmdPassphraseRejected: {event: EventPassphraseRejected, reason: ExitPassphraseRejected},
	protocols.CmdReceiveRejected:    {event: EventAcceptedRequest, reason: ExitRejected, data: rejectedData},
}

func cardErrorData(f protocols.CommandFrame) EventData {
	return CardErrorData{Code: f.Payload}
}

func rejectedData(protocols.CommandFrame) EventData {
	return Confirmation{OK: false}
}

// Response sets shared by the dispatch tables.
var (
	lookupFailures = []uint32{protocols.CmdWalletLocked, protocols.CmdWalletLookupFailed}
	userFailures   = []uint32{
		protocols.CmdPassphraseRejected, protocols.CmdPinRejected,
		protocols.CmdNoWalletOnCard, protocols.CmdCardError,
	}
)

// expect concatenates command type sets.
func expect(sets ...[]uint32) []uint32 {
	var out []uint32
	for _, set := range sets {
		out = append(out, set...)
	}
	return out
}

func one(types ...uint32) []uint32 {
	return types
}

// handleLock publishes locked for a 75 response.
func (s *session) handleLock(protocols.CommandFrame) ExitReason {
	s.emit(EventLocked, nil)
	return ExitLocked
}

// commandHandler76 decodes the wallet state carried by a lookup failure and
// publishes noWalletFound. It never lets the flow continue: a payload it
// cannot decode is a protocol error.
func (s *session) commandHandler76(f protocols.CommandFrame) (ExitReason, error) {
	state, ok := parseWalletState(f.Payload)
	if !ok {
		return ExitNone, s.protocolError(f.CommandType, "unknown wallet state %q", f.Payload)
	}
	s.emit(EventNoWalletFound, WalletStateData{State: state})
	return ExitNoWallet, nil
}

func parseWalletState(payload string) (WalletState, bool) {
	p := strings.ToLower(payload)
	switch {
	case strings.HasPrefix(p, "00"):
		return NoWalletFound, true
	case strings.HasPrefix(p, "01"):
		return PartialState, true
	case strings.HasPrefix(p, "02"):
		return NotPresent, true
	default:
		return 0, false
	}
}

// dispatchTerminal handles lock, lookup failure and user-step failures.
// It returns ExitNone with no error when f is not a terminal response.
func (s *session) dispatchTerminal(f protocols.CommandFrame) (ExitReason, error) {
	switch f.CommandType {
	case protocols.CmdWalletLocked:
		return s.handleLock(f), nil
	case protocols.CmdWalletLookupFailed:
		return s.commandHandler76(f)
	}

	outcome, ok := terminalResponses[f.CommandType]
	if !ok {
		return ExitNone, nil
	}
	var data EventData
	if outcome.data != nil {
		data = outcome.data(f)
	}
	s.emit(outcome.event, data)
	return outcome.reason, nil
}

// resolve handles a frame that is not the step's success response: either a
// terminal response or a protocol violation.
func (s *session) resolve(f protocols.CommandFrame) (ExitReason, error) {
	reason, err := s.dispatchTerminal(f)
	if err != nil || reason != ExitNone {
		return reason, err
	}
	return ExitNone, s.unexpected(f)
}

// userStep is a user-paced confirmation the device reports with ok.
type userStep struct {
	expected []uint32
	stage    coin.Stage
	ok       uint32
}

var (
	passphraseStep = userStep{
		stage:    coin.StagePassphraseEntered,
		ok:       protocols.CmdPassphraseEntered,
		expected: expect(one(protocols.CmdPassphraseEntered, protocols.CmdPassphraseRejected), lookupFailures),
	}
	pinStep = userStep{
		stage: coin.StagePinEntered,
		ok:    protocols.CmdPinEntered,
		expected: expect(one(protocols.CmdPinEntered, protocols.CmdPinRejected,
			protocols.CmdNoWalletOnCard, protocols.CmdCardError), lookupFailures),
	}
	cardStep = userStep{
		stage: coin.StageCardsTapped,
		ok:    protocols.CmdCardTapped,
		expected: expect(one(protocols.CmdCardTapped, protocols.CmdPinRejected,
			protocols.CmdNoWalletOnCard, protocols.CmdCardError), lookupFailures),
	}
)

func (s *session) awaitUserStep(st userStep, p *progressTracker) (ExitReason, error) {
	f, err := s.receive(st.expected, protocols.UserTimeout)
	if err != nil {
		return ExitNone, err
	}
	if f.CommandType != st.ok {
		return s.resolve(f)
	}
	p.mark(st.stage)
	return ExitNone, nil
}

// confirmOnDevice runs the passphrase, PIN and card tap steps wallet needs,
// in that order (legacy generation).
func (s *session) confirmOnDevice(w Wallet, p *progressTracker) (ExitReason, error) {
	var steps []step
	if w.HasPassphrase {
		steps = append(steps, func() (ExitReason, error) { return s.awaitUserStep(passphraseStep, p) })
	}
	if w.HasPin {
		steps = append(steps, func() (ExitReason, error) { return s.awaitUserStep(pinStep, p) })
	}
	steps = append(steps, func() (ExitReason, error) { return s.awaitUserStep(cardStep, p) })
	return chain(steps...)
}

// acceptance interprets a "01"/"00" confirmation payload.
func (s *session) acceptance(f protocols.CommandFrame) (bool, error) {
	switch {
	case f.HasPrefix(protocols.PayloadAccept):
		return true, nil
	case f.HasPrefix(protocols.PayloadReject):
		return false, nil
	default:
		return false, s.protocolError(f.CommandType, "unexpected confirmation payload %q", f.Payload)
	}
}

// reject publishes acceptedRequest=false and stops the flow.
func (s *session) reject() (ExitReason, error) {
	s.emit(EventAcceptedRequest, Confirmation{OK: false})
	return ExitRejected, nil
}
