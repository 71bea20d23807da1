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

package testing

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
)

func write(t *testing.T, d *VirtualDevice, packets ...packet.Packet) {
	t.Helper()
	for _, p := range packets {
		raw, err := packet.Encode(p)
		require.NoError(t, err)
		_, err = d.Write(raw)
		require.NoError(t, err)
	}
}

func drain(t *testing.T, d *VirtualDevice, version protocols.PacketVersion) []packet.Packet {
	t.Helper()
	dec := packet.NewDecoder(version)
	buf := make([]byte, 256)
	for {
		n, err := d.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		dec.Feed(buf[:n])
	}
	var out []packet.Packet
	for {
		p, err := dec.Next()
		if errors.Is(err, packet.ErrIncomplete) {
			return out
		}
		require.NoError(t, err)
		out = append(out, p)
	}
}

func TestVirtualDevice_LegacyExchange(t *testing.T) {
	t.Parallel()

	d := NewVirtualDevice(protocols.PacketV1)
	d.Reply(protocols.CmdHandshake, protocols.CmdAck, protocols.PayloadReady)

	write(t, d, packet.LegacyChunks(protocols.PacketV1, protocols.CmdHandshake, []byte{0x00})...)

	got := drain(t, d, protocols.PacketV1)
	require.Len(t, got, 2)
	assert.Equal(t, packet.LegacyAck, got[0].Command)
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(got[0].Data))
	assert.Equal(t, protocols.CmdAck, got[1].Command)
	assert.Equal(t, []byte{0x02}, got[1].Data)

	require.Len(t, d.Received(), 1)
	assert.Equal(t, "00", d.Received()[0].Payload)
}

func TestVirtualDevice_IgnoresOtherVersions(t *testing.T) {
	t.Parallel()

	d := NewVirtualDevice(protocols.PacketV2)
	write(t, d, packet.SequencedChunks(1, packet.TypeStatusReq, nil)...)
	write(t, d, packet.LegacyChunks(protocols.PacketV1, packet.LegacyPing, nil)...)
	assert.Empty(t, drain(t, d, protocols.PacketV2))

	write(t, d, packet.LegacyChunks(protocols.PacketV2, packet.LegacyPing, nil)...)
	got := drain(t, d, protocols.PacketV2)
	require.Len(t, got, 1)
	assert.Equal(t, packet.LegacyAck, got[0].Command)
}

func TestVirtualDevice_SequencedCommand(t *testing.T) {
	t.Parallel()

	d := NewVirtualDevice(protocols.PacketV3)
	d.On(protocols.CmdXpub, Script{
		Replies:      []protocols.CommandFrame{{CommandType: protocols.CmdXpub, Payload: "beef"}},
		FlowStatuses: []uint16{1, 3},
	})

	write(t, d, packet.SequencedChunks(5, packet.TypeCmd, packet.CommandPayload(protocols.CmdXpub, []byte{0}))...)
	acks := drain(t, d, protocols.PacketV3)
	require.Len(t, acks, 1)
	assert.Equal(t, packet.TypeCmdAck, acks[0].Type)

	var flows []uint16
	var last protocols.DeviceStatus
	for range 3 {
		write(t, d, packet.SequencedChunks(5, packet.TypeStatusReq, nil)...)
		got := drain(t, d, protocols.PacketV3)
		require.Len(t, got, 1)
		s, err := packet.ParseStatus(got[0].Data)
		require.NoError(t, err)
		flows = append(flows, s.FlowStatus)
		last = s
	}
	assert.Equal(t, []uint16{1, 3, 3}, flows)
	assert.Equal(t, protocols.CmdStateDone, last.CmdState)
	assert.Equal(t, uint16(5), last.CurrentCmdSeq)

	write(t, d, packet.SequencedChunks(5, packet.TypeCmdOutputReq, nil)...)
	out := drain(t, d, protocols.PacketV3)
	require.Len(t, out, 1)
	cmd, data, err := packet.SplitCommand(out[0].Data)
	require.NoError(t, err)
	assert.Equal(t, protocols.CmdXpub, cmd)
	assert.Equal(t, []byte{0xBE, 0xEF}, data)
}

func TestVirtualDevice_UnscriptedCommandRunsUntilAbort(t *testing.T) {
	t.Parallel()

	d := NewVirtualDevice(protocols.PacketV3)
	write(t, d, packet.SequencedChunks(2, packet.TypeCmd, packet.CommandPayload(protocols.CmdSignature, nil))...)
	drain(t, d, protocols.PacketV3)

	write(t, d, packet.SequencedChunks(2, packet.TypeStatusReq, nil)...)
	got := drain(t, d, protocols.PacketV3)
	require.Len(t, got, 1)
	s, err := packet.ParseStatus(got[0].Data)
	require.NoError(t, err)
	assert.Equal(t, protocols.CmdStateExecuting, s.CmdState)

	write(t, d, packet.SequencedChunks(2, packet.TypeAbort, nil)...)
	assert.Equal(t, 1, d.Aborts())
}

func TestVirtualBootloader(t *testing.T) {
	t.Parallel()

	d := NewVirtualBootloader()
	d.FailBootBlocks(1)

	write(t, d, packet.LegacyChunks(protocols.PacketV2, packet.BootStart, []byte{0, 0, 0, 2})...)
	write(t, d, packet.LegacyChunks(protocols.PacketV2, packet.BootData, []byte{0xAB, 0xCD})...)
	write(t, d, packet.LegacyChunks(protocols.PacketV2, packet.BootData, []byte{0xAB, 0xCD})...)

	var replies []uint32
	for _, p := range drain(t, d, protocols.PacketV2) {
		if p.Command != packet.LegacyAck {
			replies = append(replies, p.Command)
		}
	}
	assert.Equal(t, []uint32{packet.BootOK, packet.BootError, packet.BootOK}, replies)
	assert.Equal(t, []byte{0xAB, 0xCD}, d.Firmware())
}
