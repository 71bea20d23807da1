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
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// connFactory hands out fresh mock connections and remembers them.
type connFactory struct {
	conns []*protocols.MockConnection
	mu    sync.Mutex
}

func (c *connFactory) open(context.Context) (protocols.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := protocols.NewMockConnection(protocols.PacketV1)
	conn.SetBootloader(true)
	c.conns = append(c.conns, conn)
	return conn, nil
}

func (c *connFactory) all() []*protocols.MockConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns
}

func writeFirmware(t *testing.T) (string, []byte) {
	t.Helper()
	raw := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	path := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path, raw
}

func fastRetry() *protocols.RetryConfig {
	return &protocols.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 1,
		RetryIf:           func(error) bool { return true },
	}
}

func TestUpdate_ConfirmedAndTransferred(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	path, raw := writeFirmware(t)
	factory := &connFactory{}
	upgrader := &fakeUpgrader{}
	conn := legacyReady(protocols.PacketV1)
	conn.QueueResponse(protocols.CmdUpdateConfirm, "01")

	res := NewUpdateFlow(factory.open, upgrader, WithHandler(rec)).
		Run(context.Background(), conn, UpdateRequest{FirmwarePath: path, Version: 0x00060102})

	require.NoError(t, res.Err)
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, []string{"00060102"}, conn.SentPayloads(protocols.CmdUpdateRequest))
	assert.Equal(t, hex.EncodeToString(raw), upgrader.firmware)
	require.Len(t, factory.all(), 1)
	assert.Equal(t, 1, factory.all()[0].CloseCount(), "transfer connection closed")
	assert.False(t, conn.IsOpen())
	assert.Equal(t, []EventType{
		EventConnectionOpen, EventUpdateConfirmed, EventUpdateProgress, EventUpdateProgress, EventCompleted,
	}, rec.types())
}

func TestUpdate_Rejected(t *testing.T) {
	t.Parallel()

	path, _ := writeFirmware(t)
	upgrader := &fakeUpgrader{}
	conn := legacyReady(protocols.PacketV1)
	conn.QueueResponse(protocols.CmdUpdateConfirm, "00")

	res := NewUpdateFlow((&connFactory{}).open, upgrader).Run(context.Background(), conn, UpdateRequest{FirmwarePath: path})

	assert.Equal(t, ExitRejected, res.Reason)
	assert.Zero(t, upgrader.attempts)
}

func TestUpdate_BootloaderSkipsConfirmation(t *testing.T) {
	t.Parallel()

	path, _ := writeFirmware(t)
	upgrader := &fakeUpgrader{}
	conn := protocols.NewMockConnection(protocols.PacketV1)
	conn.SetBootloader(true)

	res := NewUpdateFlow((&connFactory{}).open, upgrader).Run(context.Background(), conn, UpdateRequest{FirmwarePath: path})

	require.NoError(t, res.Err)
	assert.Empty(t, conn.SentTypes(), "no handshake or confirmation in bootloader mode")
	assert.Equal(t, 1, upgrader.attempts)
}

func TestUpdate_RetriesWithFixedPause(t *testing.T) {
	if testing.Short() {
		t.Skip("waits through two firmware retry pauses")
	}
	t.Parallel()

	path, _ := writeFirmware(t)
	factory := &connFactory{}
	upgrader := &fakeUpgrader{failures: 2}
	conn := protocols.NewMockConnection(protocols.PacketV1)
	conn.SetBootloader(true)

	started := time.Now()
	res := NewUpdateFlow(factory.open, upgrader).Run(context.Background(), conn, UpdateRequest{FirmwarePath: path})
	elapsed := time.Since(started)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, upgrader.attempts)
	assert.GreaterOrEqual(t, elapsed, 2*protocols.FirmwareRetryPause-100*time.Millisecond)
	require.Len(t, factory.all(), 3, "every attempt uses a fresh connection")
	for _, c := range factory.all() {
		assert.Equal(t, 1, c.CloseCount())
	}
}

func TestUpdate_SurfacesLastError(t *testing.T) {
	t.Parallel()

	path, _ := writeFirmware(t)
	upgrader := &fakeUpgrader{failures: 5}
	conn := protocols.NewMockConnection(protocols.PacketV1)
	conn.SetBootloader(true)

	var retries []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	res := NewUpdateFlow((&connFactory{}).open, upgrader, WithRetryConfig(cfg)).
		Run(context.Background(), conn, UpdateRequest{FirmwarePath: path})

	assert.Equal(t, Failed, res.Status)
	require.ErrorIs(t, res.Err, errFake)
	assert.ErrorContains(t, res.Err, "attempt 3")
	assert.Equal(t, 3, upgrader.attempts)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestUpdate_MissingFirmware(t *testing.T) {
	t.Parallel()

	conn := protocols.NewMockConnection(protocols.PacketV1)
	conn.SetBootloader(true)

	res := NewUpdateFlow((&connFactory{}).open, &fakeUpgrader{}).
		Run(context.Background(), conn, UpdateRequest{FirmwarePath: filepath.Join(t.TempDir(), "missing.bin")})

	assert.Equal(t, Failed, res.Status)
	require.ErrorIs(t, res.Err, os.ErrNotExist)
}
