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

// SDK version layout: major (2 bytes), minor (2 bytes), patch (4 bytes).
const sdkVersionHexLen = 16

// Device info layout: serial (32 bytes), firmware version (4 bytes),
// authenticated flag, initial flag.
const (
	infoSerialHexLen   = 64
	infoFirmwareHexLen = 8
	infoFlagHexLen     = 2
	deviceInfoHexLen   = infoSerialHexLen + infoFirmwareHexLen + 2*infoFlagHexLen
)

// DeviceInfoFlow reads the device's SDK version, serial and firmware state.
type DeviceInfoFlow struct {
	Base
}

// NewDeviceInfoFlow creates a device info flow.
func NewDeviceInfoFlow(opts ...Option) *DeviceInfoFlow {
	f := &DeviceInfoFlow{}
	f.init("deviceInfo", opts)
	return f
}

// Run publishes deviceInfo, or sdkNotSupported when the device speaks an SDK
// version outside the configured list.
func (f *DeviceInfoFlow) Run(ctx context.Context, conn protocols.Connection) Result {
	return f.run(ctx, conn, runOptions{}, f.body)
}

func (f *DeviceInfoFlow) body(s *session) (ExitReason, error) {
	frame, err := s.exchange(protocols.CmdSDKVersion, protocols.PayloadReject,
		one(protocols.CmdSDKVersion), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	sdk, err := parseSDKVersion(frame.Payload)
	if err != nil {
		return ExitNone, s.protocolError(frame.CommandType, "%v", err)
	}
	if !f.settings.config.SupportsSDK(sdk) {
		protocols.Debugf("%s: sdk %s not in %v", s.base.name, sdk, f.settings.config.SupportedSDKVersions)
		s.emit(EventSDKNotSupported, VersionData{Version: sdk})
		return ExitUnsupportedSDK, nil
	}

	frame, err = s.exchange(protocols.CmdDeviceSerial, protocols.PayloadReject,
		one(protocols.CmdDeviceSerial), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	info, err := parseDeviceInfo(frame.Payload)
	if err != nil {
		return ExitNone, s.protocolError(frame.CommandType, "%v", err)
	}
	info.SDKVersion = sdk
	s.emit(EventDeviceInfo, info)
	return ExitNone, nil
}

func parseSDKVersion(payload string) (string, error) {
	if len(payload) < sdkVersionHexLen {
		return "", fmt.Errorf("%w: sdk version of %d hex chars", protocols.ErrInvalidFormat, len(payload))
	}
	major, err := protocols.ParseHexUint(payload[0:4])
	if err != nil {
		return "", err
	}
	minor, err := protocols.ParseHexUint(payload[4:8])
	if err != nil {
		return "", err
	}
	patch, err := protocols.ParseHexUint(payload[8:16])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, patch), nil
}

func parseDeviceInfo(payload string) (DeviceInfoData, error) {
	if len(payload) < deviceInfoHexLen || !protocols.IsHex(payload) {
		return DeviceInfoData{}, fmt.Errorf("%w: device info of %d hex chars", protocols.ErrInvalidFormat, len(payload))
	}
	fw := payload[infoSerialHexLen : infoSerialHexLen+infoFirmwareHexLen]
	version, err := protocols.ParseHexUint(fw)
	if err != nil {
		return DeviceInfoData{}, err
	}
	flags := infoSerialHexLen + infoFirmwareHexLen
	return DeviceInfoData{
		Serial:          payload[:infoSerialHexLen],
		FirmwareVersion: formatFirmwareVersion(uint32(version)),
		Authenticated:   payload[flags:flags+infoFlagHexLen] == "01",
		Initial:         payload[flags+infoFlagHexLen:flags+2*infoFlagHexLen] == "01",
	}, nil
}

// formatFirmwareVersion renders major.minor.patch from the packed version:
// one byte major, one byte minor, two bytes patch.
func formatFirmwareVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>24, (v>>16)&0xFF, v&0xFFFF)
}
