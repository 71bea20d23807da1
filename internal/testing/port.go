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
	"errors"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

// ErrPortClosed is returned by I/O on a closed MockPort.
var ErrPortClosed = errors.New("port is closed")

// MockPort implements serial.Port on top of a simulated link, usually a
// VirtualDevice optionally wrapped in a JitteryLink. An empty read sleeps
// briefly, like a read timeout on a real port.
type MockPort struct {
	link   io.ReadWriter
	mu     syncutil.Mutex
	closed bool
}

// NewMockPort creates a port over link.
func NewMockPort(link io.ReadWriter) *MockPort {
	return &MockPort{link: link}
}

// Opener returns a port opener that connects every open to link.
func Opener(link io.ReadWriter) func(string, *serial.Mode) (serial.Port, error) {
	return func(string, *serial.Mode) (serial.Port, error) {
		return NewMockPort(link), nil
	}
}

// Closed reports whether Close was called.
func (m *MockPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (*MockPort) SetMode(*serial.Mode) error { return nil }

func (m *MockPort) Read(p []byte) (int, error) {
	if m.Closed() {
		return 0, ErrPortClosed
	}
	n, err := m.link.Read(p)
	if n == 0 && err == nil {
		time.Sleep(time.Millisecond)
	}
	return n, err //nolint:wrapcheck // test double
}

func (m *MockPort) Write(p []byte) (int, error) {
	if m.Closed() {
		return 0, ErrPortClosed
	}
	return m.link.Write(p) //nolint:wrapcheck // test double
}

func (*MockPort) Drain() error { return nil }

func (*MockPort) ResetInputBuffer() error { return nil }

func (*MockPort) ResetOutputBuffer() error { return nil }

func (*MockPort) SetDTR(bool) error { return nil }

func (*MockPort) SetRTS(bool) error { return nil }

func (*MockPort) SetReadTimeout(time.Duration) error { return nil }

func (*MockPort) Break(time.Duration) error { return nil }

func (*MockPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ serial.Port = (*MockPort)(nil)
