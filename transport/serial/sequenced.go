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
	"slices"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
)

// NextSequence implements protocols.Connection. Zero is never handed out;
// the device uses it for "no command".
func (c *Connection) NextSequence() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

// SendCommand implements protocols.Connection.
func (c *Connection) SendCommand(ctx context.Context, frame protocols.CommandFrame) error {
	data, err := decodePayload(frame.Payload)
	if err != nil {
		return err
	}

	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	payload := packet.CommandPayload(frame.CommandType, data)
	for _, p := range packet.SequencedChunks(frame.Sequence, packet.TypeCmd, payload) {
		if err := c.sendCmdPacket(ctx, p); err != nil {
			return err
		}
	}
	protocols.Debugf("serial %s: sent %s", c.portName, frame)
	return nil
}

func (c *Connection) sendCmdPacket(ctx context.Context, p packet.Packet) error {
	isAck := func(r packet.Packet) bool {
		return r.Type == packet.TypeCmdAck && r.Sequence == p.Sequence && r.Current == p.Current
	}
	for attempt := range protocols.TransportACKRetries {
		if err := c.writePacket(p); err != nil {
			return err
		}
		_, err := c.waitFor(ctx, time.Now().Add(protocols.TransportACKTimeout), isAck)
		if err == nil {
			return nil
		}
		if !protocols.IsTimeout(err) {
			return err
		}
		protocols.Debugf("serial %s: no cmd ack for seq %d packet %d/%d (attempt %d)",
			c.portName, p.Sequence, p.Current, p.Total, attempt+1)
	}
	return c.trace.WrapError(protocols.NewNoACKError("send command", c.portName))
}

// waitFor reads until a packet satisfying match arrives. Other packets are
// stale answers to earlier requests and are dropped.
func (c *Connection) waitFor(ctx context.Context, deadline time.Time, match func(packet.Packet) bool) (packet.Packet, error) {
	for {
		p, err := c.readPacket(ctx, deadline)
		if err != nil {
			return packet.Packet{}, err
		}
		if match(p) {
			return p, nil
		}
		protocols.Debugf("serial %s: dropping stale %s packet (seq %d)", c.portName, p.Type, p.Sequence)
	}
}

// Status implements protocols.Connection.
func (c *Connection) Status(ctx context.Context) (protocols.DeviceStatus, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	var lastErr error
	for range protocols.TransportACKRetries {
		status, err := c.pollStatus(ctx, time.Now().Add(protocols.TransportACKTimeout))
		if err == nil {
			return status, nil
		}
		if !protocols.IsTimeout(err) {
			return protocols.DeviceStatus{}, err
		}
		lastErr = err
	}
	return protocols.DeviceStatus{}, lastErr
}

func (c *Connection) pollStatus(ctx context.Context, deadline time.Time) (protocols.DeviceStatus, error) {
	err := c.writePacket(packet.Packet{
		Version: protocols.PacketV3, Type: packet.TypeStatusReq, Current: 1, Total: 1,
	})
	if err != nil {
		return protocols.DeviceStatus{}, err
	}
	p, err := c.waitFor(ctx, deadline, func(p packet.Packet) bool { return p.Type == packet.TypeStatus })
	if err != nil {
		return protocols.DeviceStatus{}, err
	}
	return packet.ParseStatus(p.Data) //nolint:wrapcheck // already carries ErrInvalidFormat
}

// WaitForOutput implements protocols.Connection. It polls the device status
// until the command with seq is done, then requests its output.
func (c *Connection) WaitForOutput(
	ctx context.Context, seq uint16, expected []uint32, timeout time.Duration, onStatus protocols.StatusFunc,
) (protocols.CommandFrame, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	deadline := time.Now().Add(timeout)
	reported := false
	var lastFlow uint16

	for {
		if time.Now().After(deadline) {
			c.trace.RecordTimeout("wait for output")
			return protocols.CommandFrame{}, c.trace.WrapError(protocols.NewTimeoutError("wait for output", c.portName))
		}

		pollDeadline := time.Now().Add(protocols.TransportACKTimeout)
		if pollDeadline.After(deadline) {
			pollDeadline = deadline
		}
		status, err := c.pollStatus(ctx, pollDeadline)
		switch {
		case err == nil:
		case protocols.IsTimeout(err):
			continue
		default:
			return protocols.CommandFrame{}, err
		}

		if status.CurrentCmdSeq == seq {
			if onStatus != nil && (!reported || status.FlowStatus > lastFlow) {
				reported = true
				lastFlow = status.FlowStatus
				onStatus(status)
			}
			switch status.CmdState {
			case protocols.CmdStateDone:
				return c.requestOutput(ctx, seq, expected, deadline)
			case protocols.CmdStateFailed, protocols.CmdStateInvalid:
				return protocols.CommandFrame{}, fmt.Errorf("%w: seq %d ended in state %d",
					protocols.ErrCommandFailed, seq, status.CmdState)
			}
		}

		select {
		case <-ctx.Done():
			return protocols.CommandFrame{}, ctx.Err()
		case <-time.After(protocols.StatusPollInterval):
		}
	}
}

func (c *Connection) requestOutput(
	ctx context.Context, seq uint16, expected []uint32, deadline time.Time,
) (protocols.CommandFrame, error) {
	err := c.writePacket(packet.Packet{
		Version: protocols.PacketV3, Type: packet.TypeCmdOutputReq, Sequence: seq, Current: 1, Total: 1,
	})
	if err != nil {
		return protocols.CommandFrame{}, err
	}

	var asm packet.Assembler
	for {
		p, err := c.waitFor(ctx, deadline, func(p packet.Packet) bool {
			return p.Sequence == seq && (p.Type == packet.TypeOutput || p.Type == packet.TypeError)
		})
		if err != nil {
			return protocols.CommandFrame{}, err
		}
		if p.Type == packet.TypeError {
			return protocols.CommandFrame{}, fmt.Errorf("%w: device refused output for seq %d",
				protocols.ErrInvalidResponse, seq)
		}

		msg, done, err := asm.Add(p)
		if err != nil {
			return protocols.CommandFrame{}, c.trace.WrapError(err)
		}
		if !done {
			continue
		}
		command, data, err := packet.SplitCommand(msg)
		if err != nil {
			return protocols.CommandFrame{}, err //nolint:wrapcheck // already carries ErrInvalidFormat
		}
		frame := protocols.CommandFrame{CommandType: command, Payload: hex.EncodeToString(data), Sequence: seq}
		if !slices.Contains(expected, command) {
			return protocols.CommandFrame{}, protocols.NewUnexpectedCommandError("serial", command)
		}
		protocols.Debugf("serial %s: received %s", c.portName, frame)
		return frame, nil
	}
}

// Abort implements protocols.Connection. It writes the abort without
// waiting for the exchange lock, so a flow blocked in Receive or
// WaitForOutput can be interrupted from another goroutine.
func (c *Connection) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	version := c.PacketVersion()
	if version == protocols.PacketV3 {
		c.mu.Lock()
		seq := c.seq
		c.mu.Unlock()
		return c.writePacket(packet.Packet{
			Version: protocols.PacketV3, Type: packet.TypeAbort, Sequence: seq, Current: 1, Total: 1,
		})
	}

	data, _ := hex.DecodeString(protocols.PayloadAbort)
	for _, p := range packet.LegacyChunks(version, protocols.CmdAck, data) {
		if err := c.writePacket(p); err != nil {
			return err
		}
	}
	return nil
}
