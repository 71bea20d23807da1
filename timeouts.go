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

import "time"

// Receive timeouts for flow steps. A timeout is a transport failure, never a
// device rejection.
const (
	// HandshakeTimeout bounds the liveness check before a flow starts.
	HandshakeTimeout = 2 * time.Second
	// LogChunkTimeout bounds each log chunk request.
	LogChunkTimeout = 2 * time.Second
	// ConfirmTimeout is used for device-paced request acceptance steps.
	ConfirmTimeout = 30 * time.Second
	// UserTimeout is used for user-paced steps: PIN, passphrase, card taps.
	UserTimeout = 90 * time.Second
	// RecipientVerifyTimeout is used while the user checks an address on screen.
	RecipientVerifyTimeout = 120 * time.Second
	// SignatureTimeout bounds each signature read once the user has confirmed.
	SignatureTimeout = 30 * time.Second
	// ProbeTimeout bounds each packet version probe during negotiation.
	ProbeTimeout = 500 * time.Millisecond
	// AbortTimeout bounds the best-effort abort sent when a flow ends.
	AbortTimeout = 1 * time.Second
)

// Connection retry constants control device connection behavior.
const (
	// ConnectionRetries is the number of attempts to open a device port.
	ConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Firmware transfer retry policy.
const (
	// FirmwareTransferAttempts is the total number of transfer attempts.
	FirmwareTransferAttempts = 3
	// FirmwareRetryPause is the fixed pause between transfer attempts.
	FirmwareRetryPause = 2 * time.Second
)

// Transport retry constants control low-level packet exchange.
const (
	// TransportACKRetries is the number of times a packet is resent without an ACK.
	TransportACKRetries = 3
	// TransportACKTimeout caps the wait for a single packet ACK.
	TransportACKTimeout = 500 * time.Millisecond
	// TransportDrainRetries is the number of attempts to drain stale input.
	TransportDrainRetries = 3
	// StatusPollInterval is the delay between status requests while a
	// sequenced command executes.
	StatusPollInterval = 200 * time.Millisecond
)
