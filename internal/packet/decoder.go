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

package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// maxBuffered bounds the bytes a Decoder holds while waiting for a packet.
const maxBuffered = 4096

// ErrIncomplete means more bytes are needed before a packet can be decoded.
var ErrIncomplete = errors.New("incomplete packet")

// Decoder extracts packets of one version from a byte stream. Bytes before a
// start marker are discarded, and a packet with a bad CRC is dropped by
// skipping its start marker.
type Decoder struct {
	buf     []byte
	version protocols.PacketVersion
}

// NewDecoder creates a decoder for version.
func NewDecoder(version protocols.PacketVersion) *Decoder {
	return &Decoder{version: version}
}

// Feed appends received bytes.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
	if len(d.buf) > maxBuffered {
		d.buf = d.buf[len(d.buf)-maxBuffered:]
	}
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops everything buffered.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next returns the next complete packet. It returns ErrIncomplete when more
// bytes are needed and a checksum error when a corrupt packet was dropped;
// in both cases the caller can keep feeding and calling Next.
func (d *Decoder) Next() (Packet, error) {
	start := d.start()
	off := bytes.Index(d.buf, start)
	if off < 0 {
		// keep a possible partial marker at the tail
		keep := min(len(d.buf), len(start)-1)
		d.buf = append(d.buf[:0], d.buf[len(d.buf)-keep:]...)
		return Packet{}, ErrIncomplete
	}
	d.buf = d.buf[off:]

	total, err := d.frameLen()
	if err != nil {
		return Packet{}, err
	}
	if len(d.buf) < total {
		return Packet{}, ErrIncomplete
	}

	raw := d.buf[:total]
	p, err := d.decode(raw)
	if err != nil {
		d.buf = d.buf[len(start):]
		return Packet{}, err
	}
	d.buf = d.buf[total:]
	return p, nil
}

func (d *Decoder) start() []byte {
	switch d.version {
	case protocols.PacketV1:
		return startV1
	case protocols.PacketV2:
		return startV2
	default:
		return startV3
	}
}

// frameLen returns the full length of the packet at the head of the buffer.
func (d *Decoder) frameLen() (int, error) {
	var lenOff, header, maxData int
	switch d.version {
	case protocols.PacketV1:
		lenOff, header, maxData = 4, len(startV1)+headerV1+crcLen, MaxLegacyData
	case protocols.PacketV2:
		lenOff, header, maxData = 10, len(startV2)+headerV2+crcLen, MaxLegacyData
	default:
		lenOff, header, maxData = 11, len(startV3)+headerV3, MaxSequenced
	}
	if len(d.buf) <= lenOff {
		return 0, ErrIncomplete
	}
	n := int(d.buf[lenOff])
	if n > maxData {
		d.buf = d.buf[len(d.start()):]
		return 0, protocols.NewFrameCorruptedError("decode", "")
	}
	return header + n, nil
}

func (d *Decoder) decode(raw []byte) (Packet, error) {
	p := Packet{Version: d.version}
	switch d.version {
	case protocols.PacketV1:
		body := raw[1 : len(raw)-crcLen]
		if CRC16(body) != binary.BigEndian.Uint16(raw[len(raw)-crcLen:]) {
			return Packet{}, protocols.NewChecksumMismatchError("decode", "")
		}
		p.Command = uint32(body[0])
		p.Current = uint16(body[1])
		p.Total = uint16(body[2])
		p.Data = bytes.Clone(body[4:])
	case protocols.PacketV2:
		body := raw[2 : len(raw)-crcLen]
		if CRC16(body) != binary.BigEndian.Uint16(raw[len(raw)-crcLen:]) {
			return Packet{}, protocols.NewChecksumMismatchError("decode", "")
		}
		p.Command = binary.BigEndian.Uint32(body[0:4])
		p.Current = binary.BigEndian.Uint16(body[4:6])
		p.Total = binary.BigEndian.Uint16(body[6:8])
		p.Data = bytes.Clone(body[9:])
	default:
		body := raw[4:]
		if CRC16(body) != binary.BigEndian.Uint16(raw[2:4]) {
			return Packet{}, protocols.NewChecksumMismatchError("decode", "")
		}
		p.Current = binary.BigEndian.Uint16(body[0:2])
		p.Total = binary.BigEndian.Uint16(body[2:4])
		p.Sequence = binary.BigEndian.Uint16(body[4:6])
		p.Type = Type(body[6])
		p.Data = bytes.Clone(body[8:])
	}
	if p.Current == 0 || p.Current > p.Total {
		return Packet{}, fmt.Errorf("%w: packet %d of %d", protocols.ErrFrameCorrupted, p.Current, p.Total)
	}
	return p, nil
}

// Assembler joins the chunks of one multi-packet message.
type Assembler struct {
	data []byte
	next uint16
}

// Add appends p. It returns the full message once the last chunk arrives.
// A chunk out of order discards the partial message; a first chunk always
// starts a new one.
func (a *Assembler) Add(p Packet) (message []byte, done bool, err error) {
	if p.Current == 1 {
		a.data = a.data[:0]
		a.next = 1
	}
	if p.Current != a.next {
		want := a.next
		a.data, a.next = a.data[:0], 0
		return nil, false, fmt.Errorf("%w: got packet %d, want %d", protocols.ErrFrameCorrupted, p.Current, want)
	}
	a.data = append(a.data, p.Data...)
	a.next++
	if p.Current < p.Total {
		return nil, false, nil
	}
	message = bytes.Clone(a.data)
	a.data, a.next = a.data[:0], 0
	return message, true, nil
}
