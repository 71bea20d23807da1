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

package flow

import (
	"context"
	"fmt"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// session is the per-run state threaded through every step: the run context,
// the connection and whether the run was interrupted.
type session struct {
	ctx         context.Context
	conn        protocols.Connection
	base        *Base
	interrupted bool
}

func newSession(ctx context.Context, b *Base, conn protocols.Connection) *session {
	return &session{ctx: ctx, base: b, conn: conn}
}

func (s *session) sequenced() bool {
	return s.conn.PacketVersion().Generation() == protocols.GenerationSequenced
}

func (s *session) emit(t EventType, data EventData) {
	s.base.publish(s.ctx, t, data)
}

func (s *session) protocolError(commandType uint32, format string, args ...any) error {
	return protocols.NewProtocolError(s.base.name, commandType, fmt.Sprintf(format, args...))
}

func (s *session) unexpected(f protocols.CommandFrame) error {
	return protocols.NewUnexpectedCommandError(s.base.name, f.CommandType)
}

// send transmits a legacy command.
func (s *session) send(commandType uint32, payload string) error {
	if err := s.conn.Send(s.ctx, commandType, payload); err != nil {
		return fmt.Errorf("send %s: %w", protocols.CommandName(commandType), err)
	}
	return nil
}

// receive waits for the next legacy frame among expected.
func (s *session) receive(expected []uint32, timeout time.Duration) (protocols.CommandFrame, error) {
	frame, err := s.conn.Receive(s.ctx, expected, timeout)
	if err != nil {
		return protocols.CommandFrame{}, fmt.Errorf("receive %s: %w", commandNames(expected), err)
	}
	protocols.Debugf("%s: received %s", s.base.name, frame)
	return frame, nil
}

// operation runs one sequenced command: fresh sequence number, send, then
// wait for its output while status snapshots go to onStatus.
func (s *session) operation(
	commandType uint32, payload string, expected []uint32, timeout time.Duration, onStatus protocols.StatusFunc,
) (protocols.CommandFrame, error) {
	seq := s.conn.NextSequence()
	frame := protocols.CommandFrame{CommandType: commandType, Payload: payload, Sequence: seq}
	if err := s.conn.SendCommand(s.ctx, frame); err != nil {
		return protocols.CommandFrame{}, fmt.Errorf("send %s: %w", frame, err)
	}
	out, err := s.conn.WaitForOutput(s.ctx, seq, expected, timeout, onStatus)
	if err != nil {
		return protocols.CommandFrame{}, fmt.Errorf("wait for %s (seq %d): %w", commandNames(expected), seq, err)
	}
	protocols.Debugf("%s: output %s", s.base.name, out)
	return out, nil
}

// exchange is one request/response step under either generation.
func (s *session) exchange(
	commandType uint32, payload string, expected []uint32, timeout time.Duration,
) (protocols.CommandFrame, error) {
	if s.sequenced() {
		return s.operation(commandType, payload, expected, timeout, nil)
	}
	if err := s.send(commandType, payload); err != nil {
		return protocols.CommandFrame{}, err
	}
	return s.receive(expected, timeout)
}

// notify sends a command the device does not answer.
func (s *session) notify(commandType uint32, payload string) error {
	if s.sequenced() {
		frame := protocols.CommandFrame{CommandType: commandType, Payload: payload, Sequence: s.conn.NextSequence()}
		if err := s.conn.SendCommand(s.ctx, frame); err != nil {
			return fmt.Errorf("send %s: %w", frame, err)
		}
		return nil
	}
	return s.send(commandType, payload)
}

func commandNames(types []uint32) string {
	if len(types) == 1 {
		return protocols.CommandName(types[0])
	}
	out := "["
	for i, t := range types {
		if i > 0 {
			out += " "
		}
		out += protocols.CommandName(t)
	}
	return out + "]"
}
