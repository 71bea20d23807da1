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
	"runtime"
	"syscall"
)

// Serial link failures. A resend or a fresh read may succeed.
var (
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrNoACK            = errors.New("no packet acknowledgement")
	ErrFrameCorrupted   = errors.New("packet corrupted")
	ErrChecksumMismatch = errors.New("packet crc mismatch")
)

// The link or the wallet is gone.
var (
	ErrTransportClosed = errors.New("connection is closed")
	ErrDeviceNotFound  = errors.New("device not found")
)

// Device-level outcomes.
var (
	ErrDeviceNotReady    = errors.New("device not ready")
	ErrNoPacketVersion   = errors.New("no compatible packet version")
	ErrUnexpectedCommand = errors.New("unexpected command type")
	ErrInvalidResponse   = errors.New("invalid device response")
	ErrCommandFailed     = errors.New("device rejected the command")
)

// Caller input problems. Never retried.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDataTooLarge     = errors.New("data too large")
	ErrInvalidFormat    = errors.New("invalid hex payload")
)

// ErrorType classifies a TransportError for retry and abort decisions.
type ErrorType int

const (
	// ErrorTypeTransient failures are worth retrying
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent failures mean the connection is unusable
	ErrorTypePermanent
	// ErrorTypeTimeout is a wait that ran out; retryable, and never a device rejection
	ErrorTypeTimeout
)

// TransportError is a failed operation on one serial port.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a protocol violation: an unexpected command type, a
// malformed or short payload, or a missing field. It is always a real error,
// never an expected early exit.
type ProtocolError struct {
	Err         error
	Flow        string
	Reason      string
	CommandType uint32
}

func (e *ProtocolError) Error() string {
	base := fmt.Sprintf("%s: %s", e.Flow, e.Reason)
	if e.CommandType != 0 {
		base += fmt.Sprintf(" (command %s)", CommandName(e.CommandType))
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

func (e *ProtocolError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidResponse
}

// NewProtocolError creates a protocol violation error for a flow
func NewProtocolError(flow string, commandType uint32, reason string) *ProtocolError {
	return &ProtocolError{
		Flow:        flow,
		CommandType: commandType,
		Reason:      reason,
	}
}

// NewUnexpectedCommandError creates the protocol error raised when the device
// answers with a command type the flow has no branch for.
func NewUnexpectedCommandError(flow string, commandType uint32) *ProtocolError {
	return &ProtocolError{
		Flow:        flow,
		CommandType: commandType,
		Reason:      "unexpected response",
		Err:         ErrUnexpectedCommand,
	}
}

// IsProtocolError checks if an error is a protocol violation
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsRetryable reports whether repeating the operation may succeed. Protocol
// errors never are: the device answered, just not with what the flow needs.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	if IsProtocolError(err) {
		return false
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrNoACK),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// IsTimeout returns true if the error is a receive or ACK timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypeTimeout {
		return true
	}
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrNoACK)
}

// IsFatal reports whether the connection is unusable, so no abort should be
// attempted on it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows errnos seen when the wallet is unplugged mid-transfer.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError matches the errnos a USB CDC port returns after unplug.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError builds a TransportError; transient and timeout errors are retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError reports a wait that ran out.
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewFrameCorruptedError reports an undecodable packet.
func NewFrameCorruptedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewTransportWriteError reports a short or failed write.
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportClosedError reports I/O on a closed connection.
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// NewNoACKError reports a packet the device never acknowledged.
func NewNoACKError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrNoACK, ErrorTypeTimeout)
}

// NewChecksumMismatchError reports a packet whose CRC did not match.
func NewChecksumMismatchError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrChecksumMismatch, ErrorTypeTransient)
}
