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

// Package packet frames device commands for the serial link.
//
// Legacy v1 packets carry a one byte command type:
//
//	AA | cmd | cur | total | len | data (<= 32) | crc16
//
// Legacy v2 packets widen the header:
//
//	5A A5 | cmd (4) | cur (2) | total (2) | len | data (<= 32) | crc16
//
// Sequenced v3 packets carry a packet type and the command sequence number,
// with the CRC right after the start marker:
//
//	5A 5A | crc16 | cur (2) | total (2) | seq (2) | type | len | payload (<= 48)
//
// Multi-byte fields are big-endian. The CRC covers every byte after the start
// marker except the CRC itself.
package packet

import (
	"encoding/binary"
	"fmt"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// Start markers.
var (
	startV1 = []byte{0xAA}
	startV2 = []byte{0x5A, 0xA5}
	startV3 = []byte{0x5A, 0x5A}
)

// Size limits.
const (
	MaxLegacyData = 32
	MaxSequenced  = 48

	headerV1 = 4  // cmd, cur, total, len
	headerV2 = 9  // cmd, cur, total, len
	headerV3 = 10 // crc, cur, total, seq, type, len
	crcLen   = 2
)

// Legacy link-level command types. Device commands start well above these.
const (
	// LegacyAck acknowledges one packet; its data is the packet number.
	LegacyAck uint32 = 0x01
	// LegacyPing asks for a LegacyAck without involving the firmware's
	// command handler. It is used to probe the packet version.
	LegacyPing uint32 = 0x02
)

// Type is the sequenced packet type.
type Type uint8

// Sequenced packet types.
const (
	TypeStatusReq Type = iota + 1
	TypeCmd
	TypeCmdOutputReq
	TypeStatus
	TypeCmdAck
	TypeOutput
	TypeError
	TypeAbort
)

var typeNames = map[Type]string{
	TypeStatusReq:    "status-req",
	TypeCmd:          "cmd",
	TypeCmdOutputReq: "output-req",
	TypeStatus:       "status",
	TypeCmdAck:       "cmd-ack",
	TypeOutput:       "output",
	TypeError:        "error",
	TypeAbort:        "abort",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Packet is one framed chunk. Command is used by legacy packets, Type and
// Sequence by sequenced ones.
type Packet struct {
	Data     []byte
	Command  uint32
	Version  protocols.PacketVersion
	Current  uint16
	Total    uint16
	Sequence uint16
	Type     Type
}

// Encode serialises p in its version's layout.
func Encode(p Packet) ([]byte, error) {
	switch p.Version {
	case protocols.PacketV1:
		return encodeV1(p)
	case protocols.PacketV2:
		return encodeV2(p)
	case protocols.PacketV3:
		return encodeV3(p)
	default:
		return nil, fmt.Errorf("%w: packet version %s", protocols.ErrInvalidParameter, p.Version)
	}
}

func encodeV1(p Packet) ([]byte, error) {
	if len(p.Data) > MaxLegacyData {
		return nil, fmt.Errorf("%w: %d byte chunk", protocols.ErrDataTooLarge, len(p.Data))
	}
	if p.Command > 0xFF || p.Current > 0xFF || p.Total > 0xFF {
		return nil, fmt.Errorf("%w: v1 fields are one byte", protocols.ErrInvalidParameter)
	}
	buf := make([]byte, 0, 1+headerV1+len(p.Data)+crcLen)
	buf = append(buf, startV1...)
	buf = append(buf, byte(p.Command), byte(p.Current), byte(p.Total), byte(len(p.Data)))
	buf = append(buf, p.Data...)
	return binary.BigEndian.AppendUint16(buf, CRC16(buf[len(startV1):])), nil
}

func encodeV2(p Packet) ([]byte, error) {
	if len(p.Data) > MaxLegacyData {
		return nil, fmt.Errorf("%w: %d byte chunk", protocols.ErrDataTooLarge, len(p.Data))
	}
	buf := make([]byte, 0, len(startV2)+headerV2+len(p.Data)+crcLen)
	buf = append(buf, startV2...)
	buf = binary.BigEndian.AppendUint32(buf, p.Command)
	buf = binary.BigEndian.AppendUint16(buf, p.Current)
	buf = binary.BigEndian.AppendUint16(buf, p.Total)
	buf = append(buf, byte(len(p.Data)))
	buf = append(buf, p.Data...)
	return binary.BigEndian.AppendUint16(buf, CRC16(buf[len(startV2):])), nil
}

func encodeV3(p Packet) ([]byte, error) {
	if len(p.Data) > MaxSequenced {
		return nil, fmt.Errorf("%w: %d byte chunk", protocols.ErrDataTooLarge, len(p.Data))
	}
	body := make([]byte, 0, headerV3-crcLen+len(p.Data))
	body = binary.BigEndian.AppendUint16(body, p.Current)
	body = binary.BigEndian.AppendUint16(body, p.Total)
	body = binary.BigEndian.AppendUint16(body, p.Sequence)
	body = append(body, byte(p.Type), byte(len(p.Data)))
	body = append(body, p.Data...)

	buf := make([]byte, 0, len(startV3)+crcLen+len(body))
	buf = append(buf, startV3...)
	buf = binary.BigEndian.AppendUint16(buf, CRC16(body))
	return append(buf, body...), nil
}

// LegacyChunks splits data into legacy packets for command. Empty data still
// produces one packet.
func LegacyChunks(version protocols.PacketVersion, command uint32, data []byte) []Packet {
	parts := split(data, MaxLegacyData)
	packets := make([]Packet, len(parts))
	for i, part := range parts {
		packets[i] = Packet{
			Version: version,
			Command: command,
			Current: uint16(i + 1), //nolint:gosec // chunk count bounded by payload size
			Total:   uint16(len(parts)),
			Data:    part,
		}
	}
	return packets
}

// SequencedChunks splits payload into v3 packets of type t for seq.
func SequencedChunks(seq uint16, t Type, payload []byte) []Packet {
	parts := split(payload, MaxSequenced)
	packets := make([]Packet, len(parts))
	for i, part := range parts {
		packets[i] = Packet{
			Version:  protocols.PacketV3,
			Type:     t,
			Sequence: seq,
			Current:  uint16(i + 1), //nolint:gosec // chunk count bounded by payload size
			Total:    uint16(len(parts)),
			Data:     part,
		}
	}
	return packets
}

func split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{nil}
	}
	parts := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		parts = append(parts, data[:size])
		data = data[size:]
	}
	return append(parts, data)
}

// CommandPayload prefixes data with the 4-byte command type, the layout of
// sequenced cmd and output payloads.
func CommandPayload(command uint32, data []byte) []byte {
	return append(binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(data)), command), data...)
}

// SplitCommand reverses CommandPayload.
func SplitCommand(payload []byte) (command uint32, data []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("%w: command payload of %d bytes", protocols.ErrInvalidFormat, len(payload))
	}
	return binary.BigEndian.Uint32(payload), payload[4:], nil
}

// statusLen is the size of a status payload:
// device state, idle state, abort disabled, current seq (2), cmd state, flow status (2).
const statusLen = 8

// ParseStatus decodes a status payload.
func ParseStatus(payload []byte) (protocols.DeviceStatus, error) {
	if len(payload) < statusLen {
		return protocols.DeviceStatus{}, fmt.Errorf("%w: status of %d bytes", protocols.ErrInvalidFormat, len(payload))
	}
	return protocols.DeviceStatus{
		DeviceState:   payload[0],
		IdleState:     protocols.IdleState(payload[1]),
		AbortDisabled: payload[2] != 0,
		CurrentCmdSeq: binary.BigEndian.Uint16(payload[3:5]),
		CmdState:      protocols.CmdState(payload[5]),
		FlowStatus:    binary.BigEndian.Uint16(payload[6:8]),
	}, nil
}

// EncodeStatus encodes s as a status payload.
func EncodeStatus(s protocols.DeviceStatus) []byte {
	buf := []byte{s.DeviceState, byte(s.IdleState), 0}
	if s.AbortDisabled {
		buf[2] = 1
	}
	buf = binary.BigEndian.AppendUint16(buf, s.CurrentCmdSeq)
	buf = append(buf, byte(s.CmdState))
	return binary.BigEndian.AppendUint16(buf, s.FlowStatus)
}
