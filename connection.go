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

package protocols

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CommandFrame is a single command exchanged with the device. Payload is a
// hex-encoded byte string. Sequence is only meaningful under the sequenced
// protocol generation, where it correlates outputs and status to the command
// that produced them.
type CommandFrame struct {
	Payload     string
	CommandType uint32
	Sequence    uint16
}

// String formats a frame for logs
func (f CommandFrame) String() string {
	payload := f.Payload
	if len(payload) > 64 {
		payload = payload[:64] + fmt.Sprintf("...(%d chars)", len(f.Payload))
	}
	if f.Sequence != 0 {
		return fmt.Sprintf("%s[seq=%d] %s", CommandName(f.CommandType), f.Sequence, payload)
	}
	return fmt.Sprintf("%s %s", CommandName(f.CommandType), payload)
}

// HasPrefix reports whether the payload starts with the given hex prefix.
func (f CommandFrame) HasPrefix(prefix string) bool {
	return strings.HasPrefix(strings.ToLower(f.Payload), strings.ToLower(prefix))
}

// PacketVersion identifies the wire packet format negotiated with the device.
type PacketVersion int

const (
	// PacketNone means no packet version was negotiated.
	PacketNone PacketVersion = iota
	// PacketV1 is the original legacy packet format (device default).
	PacketV1
	// PacketV2 is the second legacy packet format.
	PacketV2
	// PacketV3 is the sequenced packet format.
	PacketV3
)

// String returns the version name
func (v PacketVersion) String() string {
	switch v {
	case PacketV1:
		return "v1"
	case PacketV2:
		return "v2"
	case PacketV3:
		return "v3"
	default:
		return "none"
	}
}

// Generation returns the protocol generation a packet version belongs to.
func (v PacketVersion) Generation() Generation {
	if v == PacketV3 {
		return GenerationSequenced
	}
	return GenerationLegacy
}

// Generation is the protocol generation flows branch on.
type Generation int

const (
	// GenerationLegacy is the synchronous command-matching generation (v1 and v2 packets).
	GenerationLegacy Generation = iota
	// GenerationSequenced is the sequenced asynchronous generation with status polling.
	GenerationSequenced
)

// String returns the generation name
func (g Generation) String() string {
	if g == GenerationSequenced {
		return "sequenced"
	}
	return "legacy"
}

// CmdState is the device's execution state for the current sequenced command.
type CmdState uint8

const (
	CmdStateNone CmdState = iota
	CmdStateReceiving
	CmdStateReceived
	CmdStateExecuting
	CmdStateDone
	CmdStateFailed
	CmdStateInvalid
)

// IdleState is the device's idle sub state reported in a status packet.
type IdleState uint8

const (
	IdleStateDevice IdleState = iota + 1
	IdleStateIdle
	IdleStateUSB
)

// DeviceStatus is a status snapshot reported by the device under the
// sequenced generation.
type DeviceStatus struct {
	CurrentCmdSeq uint16
	FlowStatus    uint16
	DeviceState   uint8
	IdleState     IdleState
	CmdState      CmdState
	AbortDisabled bool
}

// StatusFunc receives status snapshots while a sequenced command runs. It may be
// invoked zero or more times with non-decreasing FlowStatus values.
type StatusFunc func(status DeviceStatus)

// Connection is an opened, stateful channel to the device. A connection is
// driven by exactly one flow at a time; callers must not run two flows on
// the same connection concurrently.
type Connection interface {
	// Open opens the underlying port if it is not already open
	Open(ctx context.Context) error

	// Close closes the underlying port
	Close() error

	// IsOpen returns true if the connection is open
	IsOpen() bool

	// PacketVersion returns the negotiated packet version
	PacketVersion() PacketVersion

	// InBootloader reports whether the device enumerated in bootloader mode
	InBootloader() bool

	// Send transmits a legacy command
	Send(ctx context.Context, commandType uint32, payload string) error

	// Receive blocks until a legacy frame with one of the expected command
	// types arrives or the timeout elapses. Timeout is a hard failure.
	Receive(ctx context.Context, expected []uint32, timeout time.Duration) (CommandFrame, error)

	// NextSequence allocates a fresh sequence number for a sequenced command
	NextSequence() uint16

	// SendCommand transmits a sequenced command carrying frame.Sequence
	SendCommand(ctx context.Context, frame CommandFrame) error

	// WaitForOutput waits for the output correlated to seq among the expected
	// command types, reporting status snapshots to onStatus meanwhile.
	WaitForOutput(
		ctx context.Context, seq uint16, expected []uint32, timeout time.Duration, onStatus StatusFunc,
	) (CommandFrame, error)

	// Status requests a single status snapshot (sequenced generation)
	Status(ctx context.Context) (DeviceStatus, error)

	// Abort asks the device to abandon the running command
	Abort(ctx context.Context) error
}

// ConnectionFactory opens fresh connections, used by flows that need a new
// connection (firmware transfer, cancel without a connection).
type ConnectionFactory func(ctx context.Context) (Connection, error)
