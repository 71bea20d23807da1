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

package serial

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
)

// BootReplyTimeout bounds the bootloader's answer to each transfer step.
// Flash erase on BootStart is the slow one.
const BootReplyTimeout = 10 * time.Second

// Upgrader transfers firmware images to a device in bootloader mode.
type Upgrader struct {
	replyTimeout time.Duration
}

// NewUpgrader creates an Upgrader.
func NewUpgrader() *Upgrader {
	return &Upgrader{replyTimeout: BootReplyTimeout}
}

// Upgrade implements flow.Upgrader: BootStart with the image size, the image
// in BootBlockSize blocks, then BootEnd. Progress is reported after every
// block.
func (u *Upgrader) Upgrade(
	ctx context.Context, conn protocols.Connection, firmwareHex string, progress func(percent int),
) error {
	image, err := hex.DecodeString(protocols.PadEven(firmwareHex))
	if err != nil {
		return fmt.Errorf("%w: firmware is not hex: %w", protocols.ErrInvalidParameter, err)
	}
	if len(image) == 0 {
		return fmt.Errorf("%w: empty firmware image", protocols.ErrInvalidParameter)
	}
	if !conn.InBootloader() {
		protocols.Warnf("upgrade: connection does not report bootloader mode")
	}

	size := protocols.Uint32Hex(uint32(len(image))) //nolint:gosec // images are far below 4 GiB
	if err := u.step(ctx, conn, packet.BootStart, size, "start"); err != nil {
		return err
	}

	report := func(percent int) {
		if progress != nil {
			progress(percent)
		}
	}
	report(0)

	blocks := (len(image) + packet.BootBlockSize - 1) / packet.BootBlockSize
	for i := range blocks {
		block := image[i*packet.BootBlockSize : min((i+1)*packet.BootBlockSize, len(image))]
		if err := u.step(ctx, conn, packet.BootData, hex.EncodeToString(block), fmt.Sprintf("block %d/%d", i+1, blocks)); err != nil {
			return err
		}
		report((i + 1) * 100 / blocks)
	}

	if err := u.step(ctx, conn, packet.BootEnd, "", "end"); err != nil {
		return err
	}
	protocols.Debugf("upgrade: transferred %d bytes in %d blocks", len(image), blocks)
	return nil
}

func (u *Upgrader) step(ctx context.Context, conn protocols.Connection, command uint32, payload, what string) error {
	if err := conn.Send(ctx, command, payload); err != nil {
		return fmt.Errorf("upgrade %s: %w", what, err)
	}
	frame, err := conn.Receive(ctx, []uint32{packet.BootOK, packet.BootError}, u.replyTimeout)
	if err != nil {
		return fmt.Errorf("upgrade %s: %w", what, err)
	}
	if frame.CommandType == packet.BootError {
		return fmt.Errorf("%w: bootloader rejected %s (code %s)", protocols.ErrCommandFailed, what, frame.Payload)
	}
	return nil
}

var _ flow.Upgrader = (*Upgrader)(nil)
