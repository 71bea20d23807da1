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

package detection

import (
	"context"
	"errors"
	"fmt"

	"go.bug.st/serial/enumerator"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/transport/serial"
)

// Enumerator lists the host's serial ports.
type Enumerator func() ([]*enumerator.PortDetails, error)

// Detector scans serial ports for wallets.
type Detector struct {
	enumerate   Enumerator
	cache       *resultCache
	portOptions []serial.Option
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithEnumerator replaces the port enumerator.
func WithEnumerator(e Enumerator) DetectorOption {
	return func(d *Detector) {
		d.enumerate = e
	}
}

// WithPortOptions passes options to the connections opened while probing.
func WithPortOptions(opts ...serial.Option) DetectorOption {
	return func(d *Detector) {
		d.portOptions = append(d.portOptions, opts...)
	}
}

// New creates a Detector using the platform port enumerator.
func New(opts ...DetectorOption) *Detector {
	d := &Detector{
		enumerate: enumerator.GetDetailedPortsList,
		cache:     newResultCache(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ClearCache drops every cached scan.
func (d *Detector) ClearCache() {
	d.cache.clearAll()
}

// Detect scans for wallets. It returns ErrNoDevicesFound when none is found.
func (d *Detector) Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts.EnableCache {
		if cached, ok := d.cache.get(opts.Mode, opts.CacheTTL); ok {
			if devices := filterDevices(cached, opts); len(devices) > 0 {
				return devices, nil
			}
		}
	}

	ports, err := d.enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []DeviceInfo
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDetectionTimeout, err)
		}
		if device, ok := d.processPort(ctx, port, opts); ok {
			devices = append(devices, device)
		}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			d.cache.set(opts.Mode, devices)
		} else {
			d.cache.clear(opts.Mode)
		}
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}

// First returns the best device found: a probed device over an unprobed
// one, firmware mode over bootloader mode.
func (d *Detector) First(ctx context.Context, opts *Options) (DeviceInfo, error) {
	devices, err := d.Detect(ctx, opts)
	if err != nil {
		return DeviceInfo{}, err
	}
	best := devices[0]
	for _, dev := range devices[1:] {
		if dev.Confidence > best.Confidence || (dev.Confidence == best.Confidence && best.Bootloader && !dev.Bootloader) {
			best = dev
		}
	}
	return best, nil
}

func (d *Detector) processPort(ctx context.Context, port *enumerator.PortDetails, opts *Options) (DeviceInfo, bool) {
	if !port.IsUSB {
		return DeviceInfo{}, false
	}
	device := DeviceInfo{
		Path:         port.Name,
		VIDPID:       NormalizeVIDPID(port.VID, port.PID),
		SerialNumber: port.SerialNumber,
		Product:      port.Product,
		Confidence:   Medium,
	}
	if IsBlocked(device.VIDPID, opts.Blocklist) || IsPathIgnored(device.Path, opts.IgnorePaths) {
		return DeviceInfo{}, false
	}

	known := isWallet(device.VIDPID)
	device.Bootloader = device.VIDPID == VendorID+":"+BootloaderPID

	switch opts.Mode {
	case Passive:
		return device, known
	case Safe:
		if !known {
			return DeviceInfo{}, false
		}
	case Full:
	default:
		return DeviceInfo{}, false
	}

	// The bootloader only takes the firmware transfer; opening it is left
	// to the update flow.
	if device.Bootloader {
		return device, true
	}

	version, err := d.probe(ctx, device.Path, opts)
	if err != nil {
		protocols.Debugf("detection: %s did not answer: %v", device.Path, err)
		return DeviceInfo{}, false
	}
	device.PacketVersion = version
	if known {
		device.Confidence = High
	} else {
		device.Confidence = Low
	}
	return device, true
}

func (d *Detector) probe(ctx context.Context, path string, opts *Options) (protocols.PacketVersion, error) {
	if opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ProbeTimeout)
		defer cancel()
	}

	portOpts := append([]serial.Option{serial.WithRetryConfig(&protocols.RetryConfig{})}, d.portOptions...)
	conn := serial.New(path, portOpts...)
	if err := conn.Open(ctx); err != nil {
		return protocols.PacketNone, err //nolint:wrapcheck // logged only
	}
	version := conn.PacketVersion()
	if err := conn.Close(); err != nil && !errors.Is(err, protocols.ErrTransportClosed) {
		protocols.Debugf("detection: close %s: %v", path, err)
	}
	return version, nil
}

func isWallet(vidpid string) bool {
	return vidpid == VendorID+":"+ProductID || vidpid == VendorID+":"+BootloaderPID
}
