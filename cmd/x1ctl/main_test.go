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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
	"github.com/Cypherock/cysync-module-protocols-sub000/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSDK    = "0001000000000000"
	testWallet = "aa11bb22cc33dd44ee55ff6600771188aa11bb22cc33dd44ee55ff6600771188"
)

func testSerial() string {
	return strings.Repeat("3f", 32)
}

// newTestApp builds an app whose device connections come from conns, one
// per factory call.
func newTestApp(t *testing.T, cfg *config, conns ...*protocols.MockConnection) (*app, *bytes.Buffer) {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "x1.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	settings := protocols.DefaultConfig()
	settings.LogDir = t.TempDir()

	out := &bytes.Buffer{}
	next := 0
	factory := func(context.Context) (protocols.Connection, error) {
		if next >= len(conns) {
			return nil, errors.New("no more test connections")
		}
		conn := conns[next]
		next++
		return conn, nil
	}

	if cfg == nil {
		cfg = &config{}
	}
	return &app{
		cfg:      cfg,
		settings: settings,
		out:      out,
		factory:  factory,
		boot:     factory,
		store:    db,
		handlers: []flow.EventHandler{printer(out)},
	}, out
}

func deviceInfoConn() *protocols.MockConnection {
	m := protocols.NewMockConnection(protocols.PacketV1)
	m.QueueResponse(protocols.CmdAck, protocols.PayloadReady)
	m.QueueResponse(protocols.CmdSDKVersion, testSDK)
	m.QueueResponse(protocols.CmdDeviceSerial, testSerial()+"00060103"+"01"+"00")
	return m
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    string
		args    []string
		wantErr bool
	}{
		{name: "known", args: []string{"info"}, want: "info"},
		{name: "case insensitive", args: []string{"Add-Wallet"}, want: "add-wallet"},
		{name: "unknown", args: []string{"format"}, wantErr: true},
		{name: "missing", args: nil, wantErr: true},
		{name: "too many", args: []string{"info", "logs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseCommand(tt.args)
			if tt.wantErr {
				require.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandNames_Sorted(t *testing.T) {
	t.Parallel()

	names := commandNames()
	assert.Len(t, names, len(commands))
	assert.IsIncreasing(t, names)
}

func TestRunInfo(t *testing.T) {
	t.Parallel()

	conn := deviceInfoConn()
	a, out := newTestApp(t, &config{command: "info"}, conn)

	require.NoError(t, runInfo(context.Background(), a))
	assert.Contains(t, out.String(), "[deviceInfo] connectionOpen")
	assert.Contains(t, out.String(), "[deviceInfo] deviceInfo")
	assert.Contains(t, out.String(), "SDKVersion:1.0.0")
	assert.Equal(t, 0, conn.Pending())
	assert.False(t, conn.IsOpen())
}

func TestRunInfo_NotReady(t *testing.T) {
	t.Parallel()

	conn := protocols.NewMockConnection(protocols.PacketV1)
	a, out := newTestApp(t, &config{command: "info"}, conn)

	err := runInfo(context.Background(), a)
	require.ErrorIs(t, err, protocols.ErrDeviceNotReady)
	assert.Contains(t, out.String(), "[deviceInfo] notReady")
}

func TestRunAddWallet_ThenList(t *testing.T) {
	t.Parallel()

	name := protocols.ASCIIToHex("savings")
	details := name + strings.Repeat("0", 32-len(name)) + "01" + testWallet

	conn := protocols.NewMockConnection(protocols.PacketV2)
	conn.QueueResponse(protocols.CmdAck, protocols.PayloadReady)
	conn.QueueResponse(protocols.CmdWalletDetails, details)

	a, out := newTestApp(t, &config{command: "add-wallet"}, conn)
	ctx := context.Background()

	require.NoError(t, runAddWallet(ctx, a))
	assert.Contains(t, out.String(), "[addWallet] walletDetails")

	out.Reset()
	require.NoError(t, runWallets(ctx, a))
	assert.Equal(t, testWallet+"  savings  pin=true passphrase=false\n", out.String())
}

func TestRunWallets_Empty(t *testing.T) {
	t.Parallel()

	a, out := newTestApp(t, nil)

	require.NoError(t, runWallets(context.Background(), a))
	assert.Equal(t, "No wallets stored.\n", out.String())
}

func TestRunCardAuth_CardOutOfRange(t *testing.T) {
	t.Parallel()

	conn := protocols.NewMockConnection(protocols.PacketV1)
	a, _ := newTestApp(t, &config{command: "auth-card", card: 5}, conn)

	err := runCardAuth(context.Background(), a)
	require.ErrorIs(t, err, errUsage)
	assert.Equal(t, 0, conn.OpenCount())
}

func TestRunUpdate_NeedsFirmware(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, &config{command: "update"})

	require.ErrorIs(t, runUpdate(context.Background(), a), errUsage)
}

func TestRunCancel(t *testing.T) {
	t.Parallel()

	conn := protocols.NewMockConnection(protocols.PacketV1)
	a, out := newTestApp(t, &config{command: "cancel"}, conn)

	require.NoError(t, runCancel(context.Background(), a))
	assert.Equal(t, 1, conn.AbortCount())
	assert.Contains(t, out.String(), "[cancel] aborted")
	assert.False(t, conn.IsOpen())
}

func TestRunCancel_NoDevice(t *testing.T) {
	t.Parallel()

	conn := protocols.NewMockConnection(protocols.PacketV1)
	conn.SetOpenError(protocols.ErrDeviceNotFound)
	a, out := newTestApp(t, &config{command: "cancel"}, conn)

	require.NoError(t, runCancel(context.Background(), a))
	assert.Equal(t, "No device to cancel on.\n", out.String())
	assert.Equal(t, 1, conn.CloseCount())
}

func TestResultError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantIs  error
		name    string
		res     flow.Result
		wantErr bool
	}{
		{name: "completed", res: flow.Result{Status: flow.Completed}},
		{
			name:    "failed",
			res:     flow.Result{Status: flow.Failed, Err: protocols.ErrDeviceNotReady},
			wantErr: true,
			wantIs:  protocols.ErrDeviceNotReady,
		},
		{
			name:    "cancelled",
			res:     flow.Result{Status: flow.ExitedEarly, Reason: flow.ExitCancelled},
			wantErr: true,
			wantIs:  context.Canceled,
		},
		{name: "rejected", res: flow.Result{Status: flow.ExitedEarly, Reason: flow.ExitRejected}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := resultError(tt.res)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestPrinter(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	h := printer(out)
	h.HandleEvent(context.Background(), flow.Event{Flow: "update", Type: flow.EventCompleted})
	h.HandleEvent(context.Background(), flow.Event{
		Flow: "update", Type: flow.EventUpdateProgress, Data: flow.ProgressData{Percent: 50},
	})

	assert.Equal(t, "[update] completed\n[update] updateProgress {Percent:50}\n", out.String())
}

func TestRunSoak(t *testing.T) {
	t.Parallel()

	a, out := newTestApp(t, &config{command: "soak", iterations: 2}, deviceInfoConn(), deviceInfoConn())

	require.NoError(t, runSoak(context.Background(), a))
	assert.Contains(t, out.String(), "Passed: 2  Failed: 0")
}

func TestRunSoak_WritesCrashReport(t *testing.T) {
	t.Parallel()

	broken := protocols.NewMockConnection(protocols.PacketV1)
	broken.QueueResponse(protocols.CmdAck, protocols.PayloadReady)

	a, out := newTestApp(t, &config{command: "soak", iterations: 2}, deviceInfoConn(), broken)

	err := runSoak(context.Background(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 iterations failed")
	assert.Contains(t, out.String(), "[FAIL] iteration 2")

	files, globErr := filepath.Glob(filepath.Join(a.settings.LogDir, "soak_crash_002_*.json"))
	require.NoError(t, globErr)
	require.Len(t, files, 1)

	data, readErr := os.ReadFile(files[0])
	require.NoError(t, readErr)
	assert.Contains(t, string(data), `"iteration": 2`)
	assert.Contains(t, string(data), `"packet_version"`)
}

func TestRunSoak_NeedsIterations(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, &config{command: "soak"})

	require.ErrorIs(t, runSoak(context.Background(), a), errUsage)
}
