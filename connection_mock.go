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
	"errors"
	"slices"
	"time"

	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

// MockReply is one scripted answer from a MockConnection.
type MockReply struct {
	Err      error
	Statuses []DeviceStatus
	Frame    CommandFrame
	Delay    time.Duration
	// Block makes the wait hang until the context ends or the connection closes
	Block bool
}

// MockConnection provides a scripted Connection for testing. Replies are
// consumed in order by Receive and WaitForOutput; a reply whose command type
// is not expected is consumed and reported as a timeout, the way a real
// device frame of the wrong type would be ignored until the wait expires.
type MockConnection struct {
	closed      chan struct{}
	openErr     error
	abortErr    error
	closeErr    error
	sendErrs    map[uint32]error
	probeErrs   map[PacketVersion]error
	replies     []MockReply
	statuses    []DeviceStatus
	sent        []CommandFrame
	probed      []PacketVersion
	version     PacketVersion
	openCount   int
	closeCount  int
	abortCount  int
	mu          syncutil.Mutex
	seq         uint16
	open        bool
	bootloader  bool
	lastStatus  DeviceStatus
	statusCount int
}

// NewMockConnection creates a closed mock connection speaking version.
func NewMockConnection(version PacketVersion) *MockConnection {
	return &MockConnection{
		version:    version,
		closed:     make(chan struct{}),
		sendErrs:   make(map[uint32]error),
		probeErrs:  make(map[PacketVersion]error),
		lastStatus: DeviceStatus{IdleState: IdleStateIdle},
	}
}

// NewOpenMockConnection creates a mock connection that is already open.
func NewOpenMockConnection(version PacketVersion) *MockConnection {
	m := NewMockConnection(version)
	m.open = true
	return m
}

// Open implements Connection
func (m *MockConnection) Open(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCount++
	if m.openErr != nil {
		return m.openErr
	}
	if !m.open {
		m.open = true
		m.closed = make(chan struct{})
	}
	return nil
}

// Close implements Connection
func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	if m.open {
		m.open = false
		close(m.closed)
	}
	return m.closeErr
}

// IsOpen implements Connection
func (m *MockConnection) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// PacketVersion implements Connection
func (m *MockConnection) PacketVersion() PacketVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// InBootloader implements Connection
func (m *MockConnection) InBootloader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bootloader
}

// Send implements Connection
func (m *MockConnection) Send(_ context.Context, commandType uint32, payload string) error {
	return m.record(CommandFrame{CommandType: commandType, Payload: payload})
}

// SendCommand implements Connection
func (m *MockConnection) SendCommand(_ context.Context, frame CommandFrame) error {
	return m.record(frame)
}

func (m *MockConnection) record(frame CommandFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return NewTransportClosedError("send", "mock")
	}
	m.sent = append(m.sent, frame)
	if err, ok := m.sendErrs[frame.CommandType]; ok {
		return err
	}
	return nil
}

// NextSequence implements Connection
func (m *MockConnection) NextSequence() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// Receive implements Connection
func (m *MockConnection) Receive(ctx context.Context, expected []uint32, _ time.Duration) (CommandFrame, error) {
	reply, err := m.next(ctx)
	if err != nil {
		return CommandFrame{}, err
	}
	if !slices.Contains(expected, reply.Frame.CommandType) {
		return CommandFrame{}, NewTimeoutError("receive", "mock")
	}
	return reply.Frame, nil
}

// WaitForOutput implements Connection
func (m *MockConnection) WaitForOutput(
	ctx context.Context, seq uint16, expected []uint32, _ time.Duration, onStatus StatusFunc,
) (CommandFrame, error) {
	reply, err := m.next(ctx)
	if err != nil {
		return CommandFrame{}, err
	}
	for _, status := range reply.Statuses {
		status.CurrentCmdSeq = seq
		if onStatus != nil {
			onStatus(status)
		}
	}
	if !slices.Contains(expected, reply.Frame.CommandType) {
		return CommandFrame{}, NewTimeoutError("wait for output", "mock")
	}
	frame := reply.Frame
	frame.Sequence = seq
	return frame, nil
}

func (m *MockConnection) next(ctx context.Context) (MockReply, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return MockReply{}, NewTransportClosedError("receive", "mock")
	}
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return MockReply{}, NewTimeoutError("receive", "mock")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	closed := m.closed
	m.mu.Unlock()

	if reply.Block {
		select {
		case <-ctx.Done():
			return MockReply{}, ctx.Err()
		case <-closed:
			return MockReply{}, NewTransportClosedError("receive", "mock")
		}
	}
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			return MockReply{}, ctx.Err()
		}
	}
	if reply.Err != nil {
		return MockReply{}, reply.Err
	}
	return reply, nil
}

// Status implements Connection
func (m *MockConnection) Status(context.Context) (DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return DeviceStatus{}, NewTransportClosedError("status", "mock")
	}
	m.statusCount++
	if len(m.statuses) > 0 {
		m.lastStatus = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	return m.lastStatus, nil
}

// Abort implements Connection
func (m *MockConnection) Abort(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCount++
	if !m.open {
		return NewTransportClosedError("abort", "mock")
	}
	return m.abortErr
}

// Probe implements VersionProber
func (m *MockConnection) Probe(_ context.Context, version PacketVersion, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probed = append(m.probed, version)
	if err, ok := m.probeErrs[version]; ok {
		return err
	}
	m.version = version
	return nil
}

// Test helper methods

// QueueResponse scripts a frame the device will answer with.
func (m *MockConnection) QueueResponse(commandType uint32, payload string) *MockConnection {
	return m.QueueReply(MockReply{Frame: CommandFrame{CommandType: commandType, Payload: payload}})
}

// QueueOutput scripts a sequenced output preceded by status snapshots.
func (m *MockConnection) QueueOutput(commandType uint32, payload string, statuses ...DeviceStatus) *MockConnection {
	return m.QueueReply(MockReply{
		Frame:    CommandFrame{CommandType: commandType, Payload: payload},
		Statuses: statuses,
	})
}

// QueueError scripts a failed wait.
func (m *MockConnection) QueueError(err error) *MockConnection {
	return m.QueueReply(MockReply{Err: err})
}

// QueueBlock scripts a wait that only ends when the connection closes.
func (m *MockConnection) QueueBlock() *MockConnection {
	return m.QueueReply(MockReply{Block: true})
}

// QueueReply appends an arbitrary scripted reply.
func (m *MockConnection) QueueReply(reply MockReply) *MockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, reply)
	return m
}

// QueueStatus scripts the snapshots returned by successive Status calls.
// The last one repeats once the queue drains.
func (m *MockConnection) QueueStatus(statuses ...DeviceStatus) *MockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statuses...)
	return m
}

// SetSendError makes every send of commandType fail with err.
func (m *MockConnection) SetSendError(commandType uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs[commandType] = err
}

// SetOpenError makes Open fail with err.
func (m *MockConnection) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetAbortError makes Abort fail with err.
func (m *MockConnection) SetAbortError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortErr = err
}

// SetProbeError makes probing version fail with err.
func (m *MockConnection) SetProbeError(version PacketVersion, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeErrs[version] = err
}

// SetBootloader marks the device as enumerated in bootloader mode.
func (m *MockConnection) SetBootloader(inBootloader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootloader = inBootloader
}

// Sent returns every frame sent so far.
func (m *MockConnection) Sent() []CommandFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// SentTypes returns the command types sent so far, in order.
func (m *MockConnection) SentTypes() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]uint32, len(m.sent))
	for i, f := range m.sent {
		types[i] = f.CommandType
	}
	return types
}

// SentPayloads returns the payloads sent for commandType, in order.
func (m *MockConnection) SentPayloads(commandType uint32) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var payloads []string
	for _, f := range m.sent {
		if f.CommandType == commandType {
			payloads = append(payloads, f.Payload)
		}
	}
	return payloads
}

// Probed returns the packet versions probed so far, in order.
func (m *MockConnection) Probed() []PacketVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.probed)
}

// Pending returns the number of scripted replies not yet consumed.
func (m *MockConnection) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replies)
}

// OpenCount returns how many times Open was called.
func (m *MockConnection) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount
}

// CloseCount returns how many times Close was called.
func (m *MockConnection) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// AbortCount returns how many times Abort was called.
func (m *MockConnection) AbortCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortCount
}

// StatusCount returns how many times Status was called.
func (m *MockConnection) StatusCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCount
}

// ErrMockScript is a convenience error for scripted failures.
var ErrMockScript = errors.New("scripted mock failure")

var (
	_ Connection    = (*MockConnection)(nil)
	_ VersionProber = (*MockConnection)(nil)
)
