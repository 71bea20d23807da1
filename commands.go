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

package protocols

import "fmt"

// Device command types. Hex payloads unless noted.
const (
	CmdHandshake uint32 = 41 // liveness handshake request
	CmdAck       uint32 = 42 // handshake response, generic ack, abort ("04")

	CmdAddWalletRequest uint32 = 43
	CmdWalletDetails    uint32 = 44

	CmdAddCoinRequest  uint32 = 45
	CmdAddCoinResponse uint32 = 46

	CmdPinEntered      uint32 = 47
	CmdCardTapped      uint32 = 48
	CmdXpub            uint32 = 49
	CmdSendMetadata    uint32 = 50
	CmdSendUTXO        uint32 = 51
	CmdRecipientVerify uint32 = 52
	CmdSendReserved    uint32 = 53
	CmdSignature       uint32 = 54

	CmdReceiveRequest       uint32 = 59
	CmdReceiveRejected      uint32 = 63
	CmdReceiveAddrVerified  uint32 = 64
	CmdReceiveCoinConfirmed uint32 = 65

	CmdSwapMetadata     uint32 = 66
	CmdSwapAddrVerified uint32 = 67

	CmdCardAuth  uint32 = 70
	CmdCardError uint32 = 71

	CmdWalletLocked       uint32 = 75
	CmdWalletLookupFailed uint32 = 76

	CmdUpdateRequest uint32 = 77
	CmdUpdateConfirm uint32 = 78

	CmdPinRejected     uint32 = 79
	CmdPinReserved     uint32 = 80
	CmdNoWalletOnCard  uint32 = 81
	CmdDeviceAuthStart uint32 = 83

	CmdDeviceAuthReject    uint32 = 85
	CmdDeviceAuthChallenge uint32 = 86
	CmdDeviceSerial        uint32 = 87
	CmdSDKVersion          uint32 = 88

	CmdPassphraseEntered  uint32 = 90
	CmdPassphraseRejected uint32 = 91

	CmdCoinSpecificData   uint32 = 92
	CmdSignMessageStart   uint32 = 93
	CmdSignMessageConfirm uint32 = 94
	CmdSignMessageResult  uint32 = 95

	CmdLogChunk    uint32 = 37
	CmdLogDisabled uint32 = 38
)

// Well-known payloads.
const (
	PayloadHandshake = "00"
	PayloadReject    = "00"
	PayloadAccept    = "01"
	PayloadReady     = "02"
	PayloadAbort     = "04"
)

var commandNames = map[uint32]string{
	CmdHandshake:            "Handshake",
	CmdAck:                  "Ack",
	CmdAddWalletRequest:     "AddWalletRequest",
	CmdWalletDetails:        "WalletDetails",
	CmdAddCoinRequest:       "AddCoinRequest",
	CmdAddCoinResponse:      "AddCoinResponse",
	CmdPinEntered:           "PinEntered",
	CmdCardTapped:           "CardTapped",
	CmdXpub:                 "Xpub",
	CmdSendMetadata:         "SendMetadata",
	CmdSendUTXO:             "SendUTXO",
	CmdRecipientVerify:      "RecipientVerify",
	CmdSendReserved:         "SendReserved",
	CmdSignature:            "Signature",
	CmdReceiveRequest:       "ReceiveRequest",
	CmdReceiveRejected:      "ReceiveRejected",
	CmdReceiveAddrVerified:  "ReceiveAddressVerified",
	CmdReceiveCoinConfirmed: "ReceiveCoinConfirmed",
	CmdSwapMetadata:         "SwapMetadata",
	CmdSwapAddrVerified:     "SwapAddressVerified",
	CmdCardAuth:             "CardAuth",
	CmdCardError:            "CardError",
	CmdWalletLocked:         "WalletLocked",
	CmdWalletLookupFailed:   "WalletLookupFailed",
	CmdUpdateRequest:        "UpdateRequest",
	CmdUpdateConfirm:        "UpdateConfirm",
	CmdPinRejected:          "PinRejected",
	CmdPinReserved:          "PinReserved",
	CmdNoWalletOnCard:       "NoWalletOnCard",
	CmdDeviceAuthStart:      "DeviceAuthStart",
	CmdDeviceAuthReject:     "DeviceAuthReject",
	CmdDeviceAuthChallenge:  "DeviceAuthChallenge",
	CmdDeviceSerial:         "DeviceSerial",
	CmdSDKVersion:           "SDKVersion",
	CmdPassphraseEntered:    "PassphraseEntered",
	CmdPassphraseRejected:   "PassphraseRejected",
	CmdCoinSpecificData:     "CoinSpecificData",
	CmdSignMessageStart:     "SignMessageStart",
	CmdSignMessageConfirm:   "SignMessageConfirm",
	CmdSignMessageResult:    "SignMessageResult",
	CmdLogChunk:             "LogChunk",
	CmdLogDisabled:          "LogDisabled",
}

// CommandName returns a readable name for a command type, used in logs and errors.
func CommandName(cmd uint32) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", cmd)
}
