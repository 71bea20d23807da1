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
	"encoding/hex"
	"slices"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
)

// Send implements protocols.Connection. Each packet is resent until the
// device acknowledges its packet number.
func (c *Connection) Send(ctx context.Context, commandType uint32, payload string) error {
	data, err := decodePayload(payload)
	if err != nil {
		return err
	}

	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	for _, p := range packet.LegacyChunks(c.PacketVersion(), commandType, data) {
		if err := c.sendAcked(ctx, p); err != nil {
			return err
		}
	}
	protocols.Debugf("serial %s: sent %s", c.portName, protocols.CommandFrame{CommandType: commandType, Payload: payload})
	return nil
}

func (c *Connection) sendAcked(ctx context.Context, p packet.Packet) error {
	for attempt := range protocols.TransportACKRetries {
		if err := c.writePacket(p); err != nil {
			return err
		}
		err := c.waitLegacyAck(ctx, p.Current, time.Now().Add(protocols.TransportACKTimeout))
		if err == nil {
			return nil
		}
		if !protocols.IsTimeout(err) {
			return err
		}
		protocols.Debugf("serial %s: no ack for packet %d/%d (attempt %d)",
			c.portName, p.Current, p.Total, attempt+1)
	}
	return c.trace.WrapError(protocols.NewNoACKError("send", c.portName))
}

// waitLegacyAck waits for the acknowledgement of packet number current.
// Device frames arriving meanwhile are queued for Receive.
func (c *Connection) waitLegacyAck(ctx context.Context, current uint16, deadline time.Time) error {
	for {
		p, err := c.readPacket(ctx, deadline)
		if err != nil {
			return err
		}
		if p.Command == packet.LegacyAck {
			if len(p.Data) >= 2 && binary.BigEndian.Uint16(p.Data) == current {
				return nil
			}
			continue
		}
		if frame, ok := c.acceptLegacy(p); ok {
			c.pending = append(c.pending, frame)
		}
	}
}

// acceptLegacy acknowledges a device packet and returns the frame it
// completes, if any.
func (c *Connection) acceptLegacy(p packet.Packet) (protocols.CommandFrame, bool) {
	if err := c.writePacket(packet.Packet{
		Version: p.Version, Command: packet.LegacyAck, Current: 1, Total: 1,
		Data: binary.BigEndian.AppendUint16(nil, p.Current),
	}); err != nil {
		protocols.Debugf("serial %s: ack packet %d: %v", c.portName, p.Current, err)
	}

	msg, done, err := c.assembler.Add(p)
	if err != nil {
		protocols.Debugf("serial %s: %v", c.portName, err)
		return protocols.CommandFrame{}, false
	}
	if !done {
		return protocols.CommandFrame{}, false
	}
	return protocols.CommandFrame{CommandType: p.Command, Payload: hex.EncodeToString(msg)}, true
}

// Receive implements protocols.Connection. Frames of other command types
// are dropped.
func (c *Connection) Receive(ctx context.Context, expected []uint32, timeout time.Duration) (protocols.CommandFrame, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	for len(c.pending) > 0 {
		frame := c.pending[0]
		c.pending = c.pending[1:]
		if slices.Contains(expected, frame.CommandType) {
			return frame, nil
		}
		protocols.Debugf("serial %s: skipping %s", c.portName, frame)
	}

	deadline := time.Now().Add(timeout)
	for {
		p, err := c.readPacket(ctx, deadline)
		if err != nil {
			return protocols.CommandFrame{}, err
		}
		if p.Command == packet.LegacyAck {
			continue
		}
		frame, ok := c.acceptLegacy(p)
		if !ok {
			continue
		}
		if slices.Contains(expected, frame.CommandType) {
			protocols.Debugf("serial %s: received %s", c.portName, frame)
			return frame, nil
		}
		protocols.Debugf("serial %s: skipping %s", c.portName, frame)
	}
}
