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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

const signatureHexLen = 128

// Device serial layouts, in hex characters.
const (
	deviceSerialHexLen   = 64
	devicePostfix1HexLen = 14
	devicePostfix2HexLen = 46
	deviceShortLayoutLen = deviceSerialHexLen + signatureHexLen
	deviceLongLayoutLen  = devicePostfix1HexLen + devicePostfix2HexLen + deviceShortLayoutLen
)

// signedSerial is a serial or challenge signed by the card or device.
type signedSerial struct {
	Serial    string
	Signature string
	Postfix1  string
	Postfix2  string
}

// authProtocol parameterises the challenge-response driver with the command
// codes and payload layout of one authenticating party.
type authProtocol struct {
	parse         func(payload string) (signedSerial, error)
	startPayload  string
	kind          AuthKind
	start         uint32
	accept        uint32 // separate accept/reject response; 0 when the serial implies acceptance
	serial        uint32
	reject        uint32 // explicit reject response; 0 when rejection is a payload
	challenge     uint32
	verdict       uint32
	serialTimeout time.Duration
}

func (p authProtocol) responses(ok uint32) []uint32 {
	types := []uint32{ok}
	if p.reject != 0 {
		types = append(types, p.reject)
	}
	if p.kind == AuthCard {
		types = append(types, protocols.CmdCardError)
	}
	return types
}

// authParams are the per-run inputs of an authentication.
type authParams struct {
	firmwareVersion string
	cardNumber      int
	isTestApp       bool
}

// authOutcome is the serial presented and whether attestation accepted it.
type authOutcome struct {
	serial   string
	verified bool
}

// authenticate runs the challenge-response exchange and reports whether the
// attestation server verified both signatures.
func authenticate(s *session, p authProtocol, attestor Attestor, params authParams) (authOutcome, ExitReason, error) {
	signed, reason, err := requestSignedSerial(s, p)
	if err != nil || reason != ExitNone {
		return authOutcome{}, reason, err
	}
	out := authOutcome{serial: signed.Serial}
	s.emit(EventSerialSigned, SignatureData{Serial: signed.Serial, Signature: signed.Signature})

	hash, err := serialHash(signed.Serial)
	if err != nil {
		return out, ExitNone, s.protocolError(p.serial, "%v", err)
	}
	challenge, err := attestor.VerifySerial(s.ctx, serialRequest(p, signed, hash, params))
	if err != nil {
		return out, ExitNone, fmt.Errorf("verify %s serial: %w", p.kind, err)
	}
	if challenge == "" {
		protocols.Debugf("%s: attestation returned no challenge for serial %s", s.base.name, signed.Serial)
		return out, ExitNone, sendVerdict(s, p, false)
	}

	frame, err := s.exchange(p.challenge, challenge, p.responses(p.challenge), protocols.UserTimeout)
	if err != nil {
		return out, ExitNone, err
	}
	if reason, err := authFailure(s, p, frame); err != nil || reason != ExitNone {
		return out, reason, err
	}
	response, err := p.parse(frame.Payload)
	if err != nil {
		return out, ExitNone, s.protocolError(frame.CommandType, "challenge signature: %v", err)
	}
	s.emit(EventChallengeSigned, SignatureData{Serial: signed.Serial, Signature: response.Signature})

	verified, err := attestor.VerifyChallenge(s.ctx, ChallengeRequest{
		Kind:            p.kind,
		Serial:          signed.Serial,
		Signature:       response.Signature,
		Challenge:       challenge,
		FirmwareVersion: params.firmwareVersion,
		Postfix1:        response.Postfix1,
		Postfix2:        response.Postfix2,
		CardNumber:      params.cardNumber,
		IsTestApp:       params.isTestApp,
	})
	if err != nil {
		return out, ExitNone, fmt.Errorf("verify %s challenge: %w", p.kind, err)
	}
	out.verified = verified
	return out, ExitNone, sendVerdict(s, p, verified)
}

func serialRequest(p authProtocol, signed signedSerial, hash string, params authParams) SerialRequest {
	return SerialRequest{
		Kind:       p.kind,
		Serial:     signed.Serial,
		Signature:  signed.Signature,
		Hash:       hash,
		Postfix1:   signed.Postfix1,
		Postfix2:   signed.Postfix2,
		CardNumber: params.cardNumber,
		IsTestApp:  params.isTestApp,
	}
}

// requestSignedSerial starts the authentication and reads the signed serial.
func requestSignedSerial(s *session, p authProtocol) (signedSerial, ExitReason, error) {
	var frame protocols.CommandFrame
	var err error

	switch {
	case s.sequenced():
		frame, err = s.operation(p.start, p.startPayload, p.responses(p.serial), p.serialTimeout, nil)
	case p.accept != 0:
		reason, aerr := awaitAuthAccept(s, p)
		if aerr != nil || reason != ExitNone {
			return signedSerial{}, reason, aerr
		}
		frame, err = s.receive(p.responses(p.serial), p.serialTimeout)
	default:
		frame, err = s.exchange(p.start, p.startPayload, p.responses(p.serial), p.serialTimeout)
	}
	if err != nil {
		return signedSerial{}, ExitNone, err
	}

	if reason, err := authFailure(s, p, frame); err != nil || reason != ExitNone {
		return signedSerial{}, reason, err
	}
	// A bare reject on the shared serial command means the user declined.
	if p.accept != 0 && strings.EqualFold(frame.Payload, protocols.PayloadReject) {
		reason, err := s.reject()
		return signedSerial{}, reason, err
	}
	if p.accept == 0 || s.sequenced() {
		s.emit(EventAcceptedRequest, Confirmation{OK: true})
	}

	signed, err := p.parse(frame.Payload)
	if err != nil {
		return signedSerial{}, ExitNone, s.protocolError(frame.CommandType, "signed serial: %v", err)
	}
	return signed, ExitNone, nil
}

func awaitAuthAccept(s *session, p authProtocol) (ExitReason, error) {
	frame, err := s.exchange(p.start, p.startPayload, one(p.accept), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	ok, err := s.acceptance(frame)
	if err != nil {
		return ExitNone, err
	}
	if !ok {
		return s.reject()
	}
	s.emit(EventAcceptedRequest, Confirmation{OK: true})
	return ExitNone, nil
}

// authFailure maps an explicit reject or a card error; the ok response
// yields ExitNone.
func authFailure(s *session, p authProtocol, f protocols.CommandFrame) (ExitReason, error) {
	switch {
	case p.reject != 0 && f.CommandType == p.reject:
		return s.reject()
	case f.CommandType == protocols.CmdCardError:
		return s.dispatchTerminal(f)
	default:
		return ExitNone, nil
	}
}

// sendVerdict tells the device the attestation outcome. The device does not
// answer it.
func sendVerdict(s *session, p authProtocol, verified bool) error {
	payload := protocols.PayloadReject
	if verified {
		payload = protocols.PayloadAccept
	}
	return s.notify(p.verdict, payload)
}

// serialHash is the hex SHA-256 of the raw serial bytes.
func serialHash(serial string) (string, error) {
	raw, err := hex.DecodeString(serial)
	if err != nil {
		return "", fmt.Errorf("serial is not hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// parseCardSignedSerial splits a card payload: the signature is the last 64
// bytes, the serial everything before it.
func parseCardSignedSerial(payload string) (signedSerial, error) {
	if len(payload) <= signatureHexLen || !protocols.IsHex(payload) {
		return signedSerial{}, fmt.Errorf("%w: card payload of %d hex chars", protocols.ErrInvalidFormat, len(payload))
	}
	cut := len(payload) - signatureHexLen
	return signedSerial{Serial: payload[:cut], Signature: payload[cut:]}, nil
}

// parseDeviceSignedSerial picks the layout from the payload length. The long
// layout carries two postfix fields ahead of the serial.
func parseDeviceSignedSerial(payload string) (signedSerial, error) {
	if !protocols.IsHex(payload) {
		return signedSerial{}, fmt.Errorf("%w: device payload is not hex", protocols.ErrInvalidFormat)
	}
	switch len(payload) {
	case deviceShortLayoutLen:
		return signedSerial{
			Serial:    payload[:deviceSerialHexLen],
			Signature: payload[deviceSerialHexLen:],
		}, nil
	case deviceLongLayoutLen:
		serialAt := devicePostfix1HexLen + devicePostfix2HexLen
		return signedSerial{
			Postfix1:  payload[:devicePostfix1HexLen],
			Postfix2:  payload[devicePostfix1HexLen:serialAt],
			Serial:    payload[serialAt : serialAt+deviceSerialHexLen],
			Signature: payload[serialAt+deviceSerialHexLen:],
		}, nil
	default:
		return signedSerial{}, fmt.Errorf("%w: device payload of %d hex chars", protocols.ErrInvalidFormat, len(payload))
	}
}
