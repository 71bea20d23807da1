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
	"encoding/binary"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
)

// Probe implements protocols.VersionProber. Legacy versions are probed with
// a link-level ping, the sequenced version with a status request. On
// success the connection keeps speaking version; on failure it goes back to
// the version it spoke before.
func (c *Connection) Probe(ctx context.Context, version protocols.PacketVersion, timeout time.Duration) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	port, err := c.currentPort()
	if err != nil {
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		protocols.Debugf("serial %s: reset input buffer: %v", c.portName, err)
	}

	previous := c.PacketVersion()
	c.setVersion(version)
	if err := c.probe(ctx, version, time.Now().Add(timeout)); err != nil {
		c.setVersion(previous)
		return err
	}
	return nil
}

func (c *Connection) probe(ctx context.Context, version protocols.PacketVersion, deadline time.Time) error {

	if version == protocols.PacketV3 {
		_, err := c.pollStatus(ctx, deadline)
		return err
	}

	if err := c.writePacket(packet.Packet{
		Version: version, Command: packet.LegacyPing, Current: 1, Total: 1,
	}); err != nil {
		return err
	}
	for {
		p, err := c.readPacket(ctx, deadline)
		if err != nil {
			return err
		}
		if p.Command == packet.LegacyAck && len(p.Data) >= 2 && binary.BigEndian.Uint16(p.Data) == 1 {
			return nil
		}
	}
}
