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

// Package testing provides a wire-level simulator of the device for
// transport tests.
//
// VirtualDevice implements io.ReadWriter and speaks one packet version the
// way the firmware does: packet acknowledgements and reassembly under the
// legacy versions, status polling and output requests under the sequenced
// version, and the firmware transfer protocol in bootloader mode. Bytes
// framed in another version are ignored, so packet version negotiation can
// be exercised against it.
package testing

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

// Script is what the device does when it receives one command.
type Script struct {
	// Replies are sent in order. Under the sequenced version only the first
	// is used, as the command output.
	Replies []protocols.CommandFrame
	// FlowStatuses are reported by successive status polls while the
	// command executes (sequenced version only).
	FlowStatuses []uint16
	// Fail makes the sequenced command end in the failed state.
	Fail bool
}

type running struct {
	script Script
	hang   bool
}

// VirtualDevice simulates the device end of the serial link.
type VirtualDevice struct {
	decoder      *packet.Decoder
	scripts      map[uint32][]Script
	received     []protocols.CommandFrame
	assembler    packet.Assembler
	tx           bytes.Buffer
	firmware     bytes.Buffer
	active       *running
	mu           syncutil.Mutex
	status       protocols.DeviceStatus
	version      protocols.PacketVersion
	aborts       int
	bootFailures int
	dropAcks     int
	corruptNext  bool
	bootloader   bool
	silent       bool
}

// NewVirtualDevice creates a device speaking version.
func NewVirtualDevice(version protocols.PacketVersion) *VirtualDevice {
	return &VirtualDevice{
		version: version,
		decoder: packet.NewDecoder(version),
		scripts: make(map[uint32][]Script),
		status:  protocols.DeviceStatus{IdleState: protocols.IdleStateIdle},
	}
}

// NewVirtualBootloader creates a device in bootloader mode.
func NewVirtualBootloader() *VirtualDevice {
	d := NewVirtualDevice(protocols.PacketV2)
	d.bootloader = true
	return d
}

// On scripts the device's behaviour for the next reception of command.
func (d *VirtualDevice) On(command uint32, s Script) *VirtualDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[command] = append(d.scripts[command], s)
	return d
}

// Reply is shorthand for On with a single reply frame.
func (d *VirtualDevice) Reply(command, replyType uint32, payload string) *VirtualDevice {
	return d.On(command, Script{Replies: []protocols.CommandFrame{{CommandType: replyType, Payload: payload}}})
}

// Push queues an unsolicited legacy frame, as the device sends when the user
// acts on screen.
func (d *VirtualDevice) Push(frame protocols.CommandFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendLegacy(frame)
}

// DropAcks makes the device ignore the next n packets without acknowledging.
func (d *VirtualDevice) DropAcks(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropAcks = n
}

// CorruptNext flips a bit in the next packet the device sends.
func (d *VirtualDevice) CorruptNext() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corruptNext = true
}

// SetSilent makes the device swallow everything without answering.
func (d *VirtualDevice) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// FailBootBlocks makes the bootloader reject the next n data blocks.
func (d *VirtualDevice) FailBootBlocks(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bootFailures = n
}

// Received returns every complete command the device got, in order.
func (d *VirtualDevice) Received() []protocols.CommandFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocols.CommandFrame(nil), d.received...)
}

// Aborts returns how many sequenced abort packets arrived.
func (d *VirtualDevice) Aborts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborts
}

// Firmware returns the image written through the bootloader.
func (d *VirtualDevice) Firmware() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.firmware.Bytes())
}

// Write implements io.Writer: bytes from the host.
func (d *VirtualDevice) Write(data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.silent {
		return len(data), nil
	}
	d.decoder.Feed(data)
	for {
		p, err := d.decoder.Next()
		if errors.Is(err, packet.ErrIncomplete) {
			return len(data), nil
		}
		if err != nil {
			continue
		}
		d.handle(p)
	}
}

// Read implements io.Reader: bytes to the host. It returns 0 when nothing is
// pending, the way a serial read timeout does.
func (d *VirtualDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx.Len() == 0 {
		return 0, nil
	}
	n, _ := d.tx.Read(buf)
	return n, nil
}

func (d *VirtualDevice) handle(p packet.Packet) {
	if d.dropAcks > 0 {
		d.dropAcks--
		return
	}
	if d.version == protocols.PacketV3 {
		d.handleSequenced(p)
		return
	}
	d.handleLegacy(p)
}

func (d *VirtualDevice) handleLegacy(p packet.Packet) {
	switch p.Command {
	case packet.LegacyAck:
		return
	case packet.LegacyPing:
		d.ackLegacy(p.Current)
		return
	}
	d.ackLegacy(p.Current)
	msg, done, err := d.assembler.Add(p)
	if err != nil || !done {
		return
	}
	frame := protocols.CommandFrame{CommandType: p.Command, Payload: hex.EncodeToString(msg)}
	d.received = append(d.received, frame)

	if d.bootloader {
		d.handleBoot(frame.CommandType, msg)
		return
	}
	if s, ok := d.nextScript(frame.CommandType); ok {
		for _, r := range s.Replies {
			d.sendLegacy(r)
		}
	}
}

func (d *VirtualDevice) handleBoot(command uint32, msg []byte) {
	switch command {
	case packet.BootStart:
		d.firmware.Reset()
		d.sendLegacy(protocols.CommandFrame{CommandType: packet.BootOK})
	case packet.BootData:
		if d.bootFailures > 0 {
			d.bootFailures--
			d.sendLegacy(protocols.CommandFrame{CommandType: packet.BootError, Payload: "01"})
			return
		}
		d.firmware.Write(msg)
		d.sendLegacy(protocols.CommandFrame{CommandType: packet.BootOK})
	case packet.BootEnd:
		d.sendLegacy(protocols.CommandFrame{CommandType: packet.BootOK})
	}
}

func (d *VirtualDevice) nextScript(command uint32) (Script, bool) {
	queue := d.scripts[command]
	if len(queue) == 0 {
		return Script{}, false
	}
	d.scripts[command] = queue[1:]
	return queue[0], true
}

func (d *VirtualDevice) ackLegacy(current uint16) {
	d.emit(packet.Packet{
		Version: d.version, Command: packet.LegacyAck, Current: 1, Total: 1,
		Data: binary.BigEndian.AppendUint16(nil, current),
	})
}

func (d *VirtualDevice) sendLegacy(frame protocols.CommandFrame) {
	data, err := hex.DecodeString(frame.Payload)
	if err != nil {
		return
	}
	for _, p := range packet.LegacyChunks(d.version, frame.CommandType, data) {
		d.emit(p)
	}
}

func (d *VirtualDevice) handleSequenced(p packet.Packet) {
	switch p.Type {
	case packet.TypeStatusReq:
		d.emit(d.statusPacket(p.Sequence))
	case packet.TypeCmd:
		d.emit(packet.Packet{
			Version: protocols.PacketV3, Type: packet.TypeCmdAck, Sequence: p.Sequence,
			Current: p.Current, Total: p.Total,
		})
		msg, done, err := d.assembler.Add(p)
		if err != nil || !done {
			return
		}
		d.startCommand(p.Sequence, msg)
	case packet.TypeCmdOutputReq:
		d.sendOutput(p.Sequence)
	case packet.TypeAbort:
		d.aborts++
		d.active = nil
		d.status.CmdState = protocols.CmdStateNone
		d.status.FlowStatus = 0
		d.status.IdleState = protocols.IdleStateIdle
	}
}

func (d *VirtualDevice) startCommand(seq uint16, msg []byte) {
	command, data, err := packet.SplitCommand(msg)
	if err != nil {
		d.emit(packet.Packet{Version: protocols.PacketV3, Type: packet.TypeError, Sequence: seq, Current: 1, Total: 1})
		return
	}
	d.received = append(d.received, protocols.CommandFrame{
		CommandType: command, Payload: hex.EncodeToString(data), Sequence: seq,
	})

	s, ok := d.nextScript(command)
	d.active = &running{script: s, hang: !ok}
	d.status = protocols.DeviceStatus{
		IdleState: protocols.IdleStateDevice, CurrentCmdSeq: seq, CmdState: protocols.CmdStateExecuting,
	}
}

// statusPacket reports the running command's progress: one scripted flow
// status per poll, then done (or failed). A command with no script keeps
// executing until aborted.
func (d *VirtualDevice) statusPacket(seq uint16) packet.Packet {
	if r := d.active; r != nil && !r.hang && d.status.CmdState == protocols.CmdStateExecuting {
		switch {
		case len(r.script.FlowStatuses) > 0:
			d.status.FlowStatus = r.script.FlowStatuses[0]
			r.script.FlowStatuses = r.script.FlowStatuses[1:]
		case r.script.Fail:
			d.status.CmdState = protocols.CmdStateFailed
		default:
			d.status.CmdState = protocols.CmdStateDone
		}
	}
	if seq == 0 {
		seq = d.status.CurrentCmdSeq
	}
	return packet.Packet{
		Version: protocols.PacketV3, Type: packet.TypeStatus, Sequence: seq, Current: 1, Total: 1,
		Data: packet.EncodeStatus(d.status),
	}
}

func (d *VirtualDevice) sendOutput(seq uint16) {
	r := d.active
	if r == nil || len(r.script.Replies) == 0 || d.status.CurrentCmdSeq != seq ||
		d.status.CmdState != protocols.CmdStateDone {
		d.emit(packet.Packet{Version: protocols.PacketV3, Type: packet.TypeError, Sequence: seq, Current: 1, Total: 1})
		return
	}
	out := r.script.Replies[0]
	data, err := hex.DecodeString(out.Payload)
	if err != nil {
		return
	}
	for _, p := range packet.SequencedChunks(seq, packet.TypeOutput, packet.CommandPayload(out.CommandType, data)) {
		d.emit(p)
	}
	d.active = nil
	d.status.IdleState = protocols.IdleStateIdle
}

func (d *VirtualDevice) emit(p packet.Packet) {
	raw, err := packet.Encode(p)
	if err != nil {
		return
	}
	if d.corruptNext {
		d.corruptNext = false
		raw[len(raw)-1] ^= 0x01
	}
	d.tx.Write(raw)
}
