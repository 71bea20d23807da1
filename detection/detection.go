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

// Package detection finds connected wallets among the host's serial ports.
//
// Ports are matched on the device's USB vendor and product IDs, filtered
// through a block list and an ignore list, and optionally confirmed by
// opening the port and negotiating a packet version. Results are cached
// for a short while so repeated scans do not reopen ports.
package detection

import (
	"errors"
	"fmt"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/transport/serial"
)

// Mode controls how invasive detection is.
type Mode int

const (
	// Passive only reads USB descriptors
	Passive Mode = iota
	// Safe confirms ports with a known device ID by negotiating a packet version
	Safe
	// Full probes every USB serial port, whatever its ID
	Full
)

// Confidence is how sure detection is that a port is a wallet.
type Confidence int

const (
	// Low means the port was probed without a known ID and answered
	Low Confidence = iota
	// Medium means the USB ID matched but the device was not probed
	Medium
	// High means the device answered a packet version probe
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a detected device.
type DeviceInfo struct {
	// Path is the serial port, e.g. /dev/ttyACM0 or COM3
	Path string
	// VIDPID is the USB ID in VVVV:PPPP form
	VIDPID       string
	SerialNumber string
	Product      string
	// PacketVersion is set when the device was probed
	PacketVersion protocols.PacketVersion
	Confidence    Confidence
	// Bootloader is true when the device enumerated in bootloader mode
	Bootloader bool
}

func (d DeviceInfo) String() string {
	mode := "firmware"
	if d.Bootloader {
		mode = "bootloader"
	}
	return fmt.Sprintf("%s [%s, %s] (confidence: %s)", d.Path, d.VIDPID, mode, d.Confidence)
}

// Factory returns a connection factory for the device. Whatever detection
// learned about the device is passed on, so opening skips negotiation when
// the packet version is already known.
func (d DeviceInfo) Factory(opts ...serial.Option) protocols.ConnectionFactory {
	switch {
	case d.Bootloader:
		opts = append([]serial.Option{serial.WithBootloader()}, opts...)
	case d.PacketVersion != protocols.PacketNone:
		opts = append([]serial.Option{serial.WithPacketVersion(d.PacketVersion)}, opts...)
	}
	return serial.Factory(d.Path, opts...)
}

// Options configures a scan.
type Options struct {
	// Blocklist holds VID:PID pairs to skip
	Blocklist []string
	// IgnorePaths holds port paths to skip (e.g. "/dev/ttyACM1", "COM2")
	IgnorePaths []string
	// CacheTTL is how long a scan result is reused
	CacheTTL time.Duration
	// ProbeTimeout bounds the probe of a single port
	ProbeTimeout time.Duration
	Mode         Mode
	EnableCache  bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		Blocklist:    DefaultBlocklist(),
		ProbeTimeout: 3 * time.Second,
		EnableCache:  true,
		CacheTTL:     30 * time.Second,
	}
}

var (
	// ErrNoDevicesFound indicates no wallet was detected
	ErrNoDevicesFound = errors.New("no devices found")
	// ErrDetectionTimeout indicates the scan ran out of time
	ErrDetectionTimeout = errors.New("detection timeout")
)

// filterDevices applies the ignore and block lists to cached results,
// which were scanned under possibly different options.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) || IsBlocked(device.VIDPID, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}
