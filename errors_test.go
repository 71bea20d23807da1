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
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport timeout", err: ErrTransportTimeout, want: true},
		{name: "transport read", err: ErrTransportRead, want: true},
		{name: "transport write", err: ErrTransportWrite, want: true},
		{name: "no ACK", err: ErrNoACK, want: true},
		{name: "checksum mismatch", err: ErrChecksumMismatch, want: true},
		{name: "frame corrupted wrapped", err: fmt.Errorf("read: %w", ErrFrameCorrupted), want: true},
		{name: "device not found", err: ErrDeviceNotFound, want: false},
		{name: "data too large", err: ErrDataTooLarge, want: false},
		{name: "protocol error", err: NewProtocolError("send", CmdSendUTXO, "short payload"), want: false},
		{name: "unexpected command", err: NewUnexpectedCommandError("receive", CmdCardError), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "permanent transport error", err: NewTransportClosedError("read", "/dev/ttyACM0"), want: false},
		{name: "transient transport error", err: NewTransportWriteError("write", "/dev/ttyACM0"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport closed", err: ErrTransportClosed, want: true},
		{name: "device not found", err: ErrDeviceNotFound, want: true},
		{name: "EOF", err: io.EOF, want: true},
		{name: "wrapped EIO", err: fmt.Errorf("read: %w", syscall.EIO), want: true},
		{name: "ENODEV", err: syscall.ENODEV, want: true},
		{name: "EAGAIN", err: syscall.EAGAIN, want: false},
		{name: "timeout", err: NewTimeoutError("read", "port"), want: false},
		{name: "permanent transport error", err: NewTransportClosedError("read", "port"), want: true},
		{name: "protocol error", err: NewProtocolError("auth", 0, "bad length"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTimeout(NewTimeoutError("receive", "port")))
	assert.True(t, IsTimeout(fmt.Errorf("step: %w", ErrTransportTimeout)))
	assert.True(t, IsTimeout(NewNoACKError("send", "port")))
	assert.False(t, IsTimeout(NewChecksumMismatchError("read", "port")))
	assert.False(t, IsTimeout(nil))
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	err := NewTransportError("receive", "/dev/ttyACM0", ErrTransportRead, ErrorTypeTransient)
	assert.Equal(t, "receive /dev/ttyACM0: transport read failed", err.Error())
	assert.True(t, err.Retryable)
	require.ErrorIs(t, err, ErrTransportRead)

	noPort := NewTransportError("open", "", ErrDeviceNotFound, ErrorTypePermanent)
	assert.Equal(t, "open: device not found", noPort.Error())
	assert.False(t, noPort.Retryable)
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	err := NewProtocolError("deviceAuth", CmdDeviceSerial, "unexpected payload length 10")
	assert.Equal(t, "deviceAuth: unexpected payload length 10 (command DeviceSerial)", err.Error())
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.True(t, IsProtocolError(fmt.Errorf("wrapped: %w", err)))

	unexpected := NewUnexpectedCommandError("send", 99)
	assert.Contains(t, unexpected.Error(), "Command(99)")
	require.ErrorIs(t, unexpected, ErrUnexpectedCommand)

	assert.False(t, IsProtocolError(ErrTransportTimeout))
}
