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

// Package serial implements protocols.Connection over the device's USB-CDC
// serial port, for both protocol generations and the bootloader.
package serial

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	goserial "go.bug.st/serial"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/packet"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

// BaudRate is the link speed. The device is USB-CDC so the value only
// matters to the host driver.
const BaudRate = 115200

// traceDepth is the number of wire entries kept for error reports.
const traceDepth = 32

// Opener opens a serial port. It is swapped out in tests.
type Opener func(name string, mode *goserial.Mode) (goserial.Port, error)

// Option configures a Connection.
type Option func(*Connection)

// WithOpener replaces the function used to open the port.
func WithOpener(open Opener) Option {
	return func(c *Connection) {
		c.opener = open
	}
}

// WithPacketVersion fixes the packet version and skips negotiation on Open.
func WithPacketVersion(v protocols.PacketVersion) Option {
	return func(c *Connection) {
		c.version = v
		c.negotiate = false
	}
}

// WithBootloader marks the port as a device enumerated in bootloader mode.
func WithBootloader() Option {
	return func(c *Connection) {
		c.bootloader = true
		c.version = protocols.PacketV2
		c.negotiate = false
	}
}

// WithRetryConfig overrides the port open retry policy.
func WithRetryConfig(cfg *protocols.RetryConfig) Option {
	return func(c *Connection) {
		c.retry = cfg
	}
}

// Connection is a protocols.Connection over one serial port. Reads and the
// request/acknowledge exchanges are serialised by ioMu; raw writes take only
// writeMu so Abort and Close can interrupt a pending wait from another
// goroutine.
type Connection struct {
	port       goserial.Port
	opener     Opener
	retry      *protocols.RetryConfig
	decoder    *packet.Decoder
	trace      *protocols.TraceBuffer
	portName   string
	pending    []protocols.CommandFrame
	assembler  packet.Assembler
	mu         syncutil.Mutex
	ioMu       syncutil.Mutex
	writeMu    syncutil.Mutex
	version    protocols.PacketVersion
	seq        uint16
	negotiate  bool
	bootloader bool
}

// New creates a closed connection to portName. The port is opened by Open,
// which also negotiates the packet version unless one is fixed.
func New(portName string, opts ...Option) *Connection {
	c := &Connection{
		portName:  portName,
		opener:    goserial.Open,
		version:   protocols.PacketNone,
		negotiate: true,
		trace:     protocols.NewTraceBuffer(portName, traceDepth),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.decoder = packet.NewDecoder(c.version)
	return c
}

// Factory returns a ConnectionFactory creating connections to portName.
func Factory(portName string, opts ...Option) protocols.ConnectionFactory {
	return func(context.Context) (protocols.Connection, error) {
		return New(portName, opts...), nil
	}
}

// PortName returns the serial port path.
func (c *Connection) PortName() string {
	return c.portName
}

// Open implements protocols.Connection.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.port != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var port goserial.Port
	err := protocols.RetryWithConfig(ctx, c.retry, func() error {
		p, err := c.opener(c.portName, &goserial.Mode{
			BaudRate: BaudRate,
			DataBits: 8,
			Parity:   goserial.NoParity,
			StopBits: goserial.OneStopBit,
		})
		if err != nil {
			return protocols.NewTransportError("open", c.portName, err, openErrorType(err))
		}
		port = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open port %s: %w", c.portName, err)
	}

	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		protocols.Debugf("serial %s: reset input buffer: %v", c.portName, err)
	}

	c.mu.Lock()
	c.port = port
	c.mu.Unlock()
	protocols.Debugf("serial %s: opened (bootloader=%t)", c.portName, c.bootloader)

	if !c.negotiate {
		return nil
	}
	version, err := protocols.NegotiatePacketVersion(ctx, c, nil, 0)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("serial %s: %w", c.portName, err)
	}
	protocols.Debugf("serial %s: speaking %s packets", c.portName, version)
	return nil
}

// openErrorType classifies port open failures: a port that does not exist
// is permanent, a busy one may free up.
func openErrorType(err error) protocols.ErrorType {
	var perr *goserial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case goserial.PortNotFound, goserial.InvalidSerialPort, goserial.PermissionDenied:
			return protocols.ErrorTypePermanent
		default:
			return protocols.ErrorTypeTransient
		}
	}
	return protocols.ErrorTypeTransient
}

// Close implements protocols.Connection. It is safe to call repeatedly and
// from another goroutine; a pending read fails once the port closes.
func (c *Connection) Close() error {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port == nil {
		return nil
	}
	protocols.Debugf("serial %s: closing", c.portName)
	if err := port.Close(); err != nil {
		return fmt.Errorf("serial close failed: %w", err)
	}
	return nil
}

// IsOpen implements protocols.Connection.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// PacketVersion implements protocols.Connection.
func (c *Connection) PacketVersion() protocols.PacketVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// InBootloader implements protocols.Connection.
func (c *Connection) InBootloader() bool {
	return c.bootloader
}

func (c *Connection) currentPort() (goserial.Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil, protocols.NewTransportClosedError("io", c.portName)
	}
	return c.port, nil
}

func (c *Connection) setVersion(v protocols.PacketVersion) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
	c.decoder = packet.NewDecoder(v)
	c.pending = nil
}

// writePacket frames and writes one packet.
func (c *Connection) writePacket(p packet.Packet) error {
	raw, err := packet.Encode(p)
	if err != nil {
		return err
	}
	port, err := c.currentPort()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := port.Write(raw)
	if err != nil {
		return c.ioError("write", err)
	}
	if n != len(raw) {
		return protocols.NewTransportWriteError("write", c.portName)
	}
	c.trace.RecordTX(raw, p.Type.String())
	postWriteDelay()
	return c.drainWithRetry(port)
}

// readPacket returns the next valid packet, skipping corrupt ones, or a
// timeout error once deadline passes.
func (c *Connection) readPacket(ctx context.Context, deadline time.Time) (packet.Packet, error) {
	buf := make([]byte, 256)
	for {
		p, err := c.decoder.Next()
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, packet.ErrIncomplete) {
			protocols.Debugf("serial %s: dropped packet: %v", c.portName, err)
			continue
		}

		if err := ctx.Err(); err != nil {
			return packet.Packet{}, err
		}
		if time.Now().After(deadline) {
			c.trace.RecordTimeout("read")
			return packet.Packet{}, c.trace.WrapError(protocols.NewTimeoutError("read", c.portName))
		}

		port, err := c.currentPort()
		if err != nil {
			return packet.Packet{}, err
		}
		n, err := port.Read(buf)
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			if !c.IsOpen() {
				return packet.Packet{}, protocols.NewTransportClosedError("read", c.portName)
			}
			return packet.Packet{}, c.ioError("read", err)
		}
		if n > 0 {
			c.trace.RecordRX(buf[:n], "")
			c.decoder.Feed(buf[:n])
		}
	}
}

func (c *Connection) ioError(op string, err error) error {
	if protocols.IsFatal(err) {
		return protocols.NewTransportError(op, c.portName, err, protocols.ErrorTypePermanent)
	}
	return protocols.NewTransportError(op, c.portName, err, protocols.ErrorTypeTransient)
}

// drainWithRetry waits for written bytes to leave, retrying interrupted
// system calls.
func (c *Connection) drainWithRetry(port goserial.Port) error {
	const maxRetries = 3
	delay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) || attempt == maxRetries-1 {
			return fmt.Errorf("serial %s drain failed: %w", c.portName, err)
		}
		time.Sleep(delay << attempt)
	}
	return nil
}

func isInterruptedSystemCall(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "interrupted system call") || strings.Contains(msg, "eintr")
}

// readTimeout is the port read timeout. Windows CDC drivers need longer.
func readTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

func postWriteDelay() {
	if runtime.GOOS == "windows" {
		time.Sleep(5 * time.Millisecond)
	}
}

func decodePayload(payload string) ([]byte, error) {
	data, err := hex.DecodeString(protocols.PadEven(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not hex: %w", protocols.ErrInvalidParameter, err)
	}
	return data, nil
}

var (
	_ protocols.Connection    = (*Connection)(nil)
	_ protocols.VersionProber = (*Connection)(nil)
)
