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

var deviceAuthProtocol = authProtocol{
	kind:          AuthDevice,
	start:         protocols.CmdDeviceAuthStart,
	startPayload:  protocols.PayloadAccept,
	serial:        protocols.CmdDeviceSerial,
	reject:        protocols.CmdDeviceAuthReject,
	challenge:     protocols.CmdDeviceAuthChallenge,
	verdict:       protocols.CmdDeviceAuthReject,
	serialTimeout: protocols.ConfirmTimeout,
	parse:         parseDeviceSignedSerial,
}

// DeviceAuthRequest carries what the attestation server needs besides the
// device's own signatures.
type DeviceAuthRequest struct {
	FirmwareVersion string
}

// DeviceAuthFlow checks that the connected X1 wallet is genuine.
type DeviceAuthFlow struct {
	attestor Attestor
	Base
}

// NewDeviceAuthFlow creates a device authentication flow verifying against attestor.
func NewDeviceAuthFlow(attestor Attestor, opts ...Option) *DeviceAuthFlow {
	f := &DeviceAuthFlow{attestor: attestor}
	f.init("deviceAuth", opts)
	return f
}

// Run authenticates the device and records the outcome in the device store
// when one is configured.
func (f *DeviceAuthFlow) Run(ctx context.Context, conn protocols.Connection, req DeviceAuthRequest) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		if f.attestor == nil {
			return ExitNone, fmt.Errorf("%w: attestor", ErrMissingDependency)
		}

		outcome, reason, err := authenticate(s, deviceAuthProtocol, f.attestor, authParams{
			firmwareVersion: req.FirmwareVersion,
			isTestApp:       f.settings.config.IsTestApp,
		})
		if err != nil || reason != ExitNone {
			return reason, err
		}

		if store := f.settings.deviceStore; store != nil {
			if err := store.SaveDeviceAuth(s.ctx, outcome.serial, outcome.verified); err != nil {
				return ExitNone, fmt.Errorf("save device auth: %w", err)
			}
		}
		s.emit(EventVerified, Confirmation{OK: outcome.verified})
		if !outcome.verified {
			return ExitNotVerified, nil
		}
		return ExitNone, nil
	})
}
