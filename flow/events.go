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
	"encoding/json"
	"fmt"
	"time"

	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// EventType names a value a flow publishes. Names are a stable contract for
// UI and CLI consumers and mean the same thing under both protocol
// generations.
type EventType int

const (
	EventUnknown EventType = iota
	EventConnectionOpen
	EventNotReady
	EventError
	EventLocked
	EventNoWalletFound
	EventNoWalletOnCard
	EventCardError
	EventPinRejected
	EventPassphraseRejected
	EventAcceptedRequest
	EventCoinsConfirmed
	EventVerified
	EventPassphraseEntered
	EventPinEntered
	EventCardsTapped
	EventTxnTooLarge
	EventSignatureVerify
	EventSignedTxn
	EventReceiveAddress
	EventAddressVerified
	EventExchangeOrder
	EventSerialSigned
	EventChallengeSigned
	EventWalletDetails
	EventDuplicateWallet
	EventXpubs
	EventMessageSignature
	EventUpdateConfirmed
	EventUpdateProgress
	EventCompleted
	EventLoggingDisabled
	EventLogChunk
	EventLogsFetched
	EventDeviceInfo
	EventSDKNotSupported
	EventAborted
)

var eventTypeNames = map[EventType]string{
	EventUnknown:            "unknown",
	EventConnectionOpen:     "connectionOpen",
	EventNotReady:           "notReady",
	EventError:              "error",
	EventLocked:             "locked",
	EventNoWalletFound:      "noWalletFound",
	EventNoWalletOnCard:     "noWalletOnCard",
	EventCardError:          "cardError",
	EventPinRejected:        "pinRejected",
	EventPassphraseRejected: "passphraseRejected",
	EventAcceptedRequest:    "acceptedRequest",
	EventCoinsConfirmed:     "coinsConfirmed",
	EventVerified:           "verified",
	EventPassphraseEntered:  "passphraseEntered",
	EventPinEntered:         "pinEntered",
	EventCardsTapped:        "cardsTapped",
	EventTxnTooLarge:        "txnTooLarge",
	EventSignatureVerify:    "signatureVerify",
	EventSignedTxn:          "signedTxn",
	EventReceiveAddress:     "receiveAddress",
	EventAddressVerified:    "addressVerified",
	EventExchangeOrder:      "exchangeOrder",
	EventSerialSigned:       "serialSigned",
	EventChallengeSigned:    "challengeSigned",
	EventWalletDetails:      "walletDetails",
	EventDuplicateWallet:    "duplicateWallet",
	EventXpubs:              "xpubs",
	EventMessageSignature:   "messageSignature",
	EventUpdateConfirmed:    "updateConfirmed",
	EventUpdateProgress:     "updateProgress",
	EventCompleted:          "completed",
	EventLoggingDisabled:    "loggingDisabled",
	EventLogChunk:           "logChunk",
	EventLogsFetched:        "logsFetched",
	EventDeviceInfo:         "deviceInfo",
	EventSDKNotSupported:    "sdkNotSupported",
	EventAborted:            "aborted",
}

// String returns the published event name
func (e EventType) String() string {
	if name, ok := eventTypeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// MarshalText encodes the event name for JSON consumers.
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

var stageEvents = map[coin.Stage]EventType{
	coin.StageCoinsConfirmed:    EventCoinsConfirmed,
	coin.StageVerified:          EventVerified,
	coin.StagePassphraseEntered: EventPassphraseEntered,
	coin.StagePinEntered:        EventPinEntered,
	coin.StageCardsTapped:       EventCardsTapped,
}

// Event is one published value.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data,omitempty"`
	Flow      string    `json:"flow"`
	Type      EventType `json:"type"`
}

// EventData is the closed set of event payloads.
type EventData interface {
	eventData()
}

// Confirmation carries a yes/no outcome.
type Confirmation struct {
	OK bool `json:"ok"`
}

func (Confirmation) eventData() {}

// Leg distinguishes the two halves of a swap.
type Leg int

const (
	LegSend Leg = iota
	LegReceive
)

func (l Leg) String() string {
	if l == LegReceive {
		return "receive"
	}
	return "send"
}

// MarshalText encodes the leg name for JSON consumers.
func (l Leg) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// MilestoneData accompanies progress milestone events.
type MilestoneData struct {
	Stage coin.Stage `json:"stage"`
	Leg   Leg        `json:"leg"`
}

func (MilestoneData) eventData() {}

// WalletState is why a wallet lookup failed.
type WalletState int

const (
	NoWalletFound WalletState = 0
	PartialState  WalletState = 1
	NotPresent    WalletState = 2
)

func (w WalletState) String() string {
	switch w {
	case NoWalletFound:
		return "no wallet found"
	case PartialState:
		return "partial state"
	case NotPresent:
		return "not present"
	default:
		return fmt.Sprintf("wallet state(%d)", int(w))
	}
}

// WalletStateData accompanies noWalletFound.
type WalletStateData struct {
	State WalletState `json:"state"`
}

func (WalletStateData) eventData() {}

// WalletData accompanies walletDetails and duplicateWallet.
type WalletData struct {
	Wallet Wallet `json:"wallet"`
}

func (WalletData) eventData() {}

// XpubData accompanies xpubs.
type XpubData struct {
	Xpubs []Xpub `json:"xpubs"`
}

func (XpubData) eventData() {}

// AddressData accompanies receiveAddress, addressVerified and exchangeOrder.
type AddressData struct {
	Address  string `json:"address"`
	Path     string `json:"path,omitempty"`
	Verified bool   `json:"verified"`
}

func (AddressData) eventData() {}

// SizeData accompanies txnTooLarge.
type SizeData struct {
	Size  int `json:"size"`
	Limit int `json:"limit"`
}

func (SizeData) eventData() {}

// SignedTxnData accompanies signedTxn.
type SignedTxnData struct {
	Hex string `json:"hex"`
}

func (SignedTxnData) eventData() {}

// SignatureData accompanies serialSigned and challengeSigned.
type SignatureData struct {
	Serial    string `json:"serial"`
	Signature string `json:"signature"`
}

func (SignatureData) eventData() {}

// MessageSignatureData accompanies messageSignature.
type MessageSignatureData struct {
	Signature string `json:"signature"`
}

func (MessageSignatureData) eventData() {}

// CardErrorData accompanies cardError.
type CardErrorData struct {
	Code string `json:"code"`
}

func (CardErrorData) eventData() {}

// DeviceInfoData accompanies deviceInfo.
type DeviceInfoData struct {
	Serial          string `json:"serial"`
	FirmwareVersion string `json:"firmwareVersion"`
	SDKVersion      string `json:"sdkVersion"`
	Authenticated   bool   `json:"authenticated"`
	Initial         bool   `json:"initial"`
}

func (DeviceInfoData) eventData() {}

// VersionData accompanies sdkNotSupported.
type VersionData struct {
	Version string `json:"version"`
}

func (VersionData) eventData() {}

// ProgressData accompanies updateProgress.
type ProgressData struct {
	Percent int `json:"percent"`
}

func (ProgressData) eventData() {}

// LogData accompanies logChunk and logsFetched.
type LogData struct {
	Path  string `json:"path,omitempty"`
	Bytes int    `json:"bytes"`
}

func (LogData) eventData() {}

// ErrorData accompanies error.
type ErrorData struct {
	Err error `json:"-"`
}

func (ErrorData) eventData() {}

// MarshalJSON renders the error text.
func (e ErrorData) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
}

// EventHandler receives events synchronously, in publish order. Handlers must
// not block for long; the flow waits for them.
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event)
}

// EventHandlerFunc is a function adapter for EventHandler
type EventHandlerFunc func(ctx context.Context, event Event)

// HandleEvent implements EventHandler
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event Event) {
	f(ctx, event)
}
