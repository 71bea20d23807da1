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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// walletDetails encodes a 44 payload for name, info flags and id.
func walletDetails(name string, info string, id string) string {
	h := protocols.ASCIIToHex(name)
	return h + strings.Repeat("0", walletNameHexLen-len(h)) + info + id
}

func TestParseWalletDetails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    Wallet
		wantErr bool
	}{
		{
			name:    "pin and passphrase",
			payload: walletDetails("savings", "03", strings.ToUpper(testWalletID)),
			want:    Wallet{ID: testWalletID, Name: "savings", HasPin: true, HasPassphrase: true},
		},
		{
			name:    "no protection",
			payload: walletDetails("daily", "00", testWalletID),
			want:    Wallet{ID: testWalletID, Name: "daily"},
		},
		{name: "truncated", payload: walletDetails("daily", "00", testWalletID)[:40], wantErr: true},
		{name: "id not hex", payload: walletDetails("daily", "00", strings.Repeat("zz", 32)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseWalletDetails(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddWallet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		store      *memoryStore
		name       string
		preload    bool
		wantEvent  EventType
		wantReason ExitReason
	}{
		{name: "new wallet saved", store: newMemoryStore(), wantEvent: EventWalletDetails},
		{name: "duplicate", store: newMemoryStore(), preload: true, wantEvent: EventDuplicateWallet, wantReason: ExitDuplicate},
		{name: "no store", wantEvent: EventWalletDetails},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &recorder{}
			opts := []Option{WithHandler(rec)}
			if tt.store != nil {
				opts = append(opts, WithWalletStore(tt.store))
				if tt.preload {
					tt.store.wallets[testWalletID] = testWallet(false, false)
				}
			}
			conn := legacyReady(protocols.PacketV2)
			conn.QueueResponse(protocols.CmdWalletDetails, walletDetails("savings", "01", testWalletID))

			res := NewAddWalletFlow(opts...).Run(context.Background(), conn)

			require.NoError(t, res.Err)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, []string{"00"}, conn.SentPayloads(protocols.CmdAddWalletRequest))
			e, ok := rec.last(tt.wantEvent)
			require.True(t, ok)
			data, ok := e.Data.(WalletData)
			require.True(t, ok)
			assert.Equal(t, "savings", data.Wallet.Name)
			if tt.store != nil && !tt.preload {
				assert.Equal(t, testWallet(true, false), tt.store.wallets[testWalletID])
			}
		})
	}
}

func TestAddWallet_LookupFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		frame      protocols.CommandFrame
		wantReason ExitReason
	}{
		{name: "locked", frame: protocols.CommandFrame{CommandType: protocols.CmdWalletLocked}, wantReason: ExitLocked},
		{
			name:       "no wallet",
			frame:      protocols.CommandFrame{CommandType: protocols.CmdWalletLookupFailed, Payload: "00"},
			wantReason: ExitNoWallet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryStore()
			conn := sequencedConn()
			conn.QueueOutput(tt.frame.CommandType, tt.frame.Payload)

			res := NewAddWalletFlow(WithWalletStore(store)).Run(context.Background(), conn)

			require.NoError(t, res.Err)
			assert.Equal(t, ExitedEarly, res.Status)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Empty(t, store.wallets)
		})
	}
}

func TestAddCoinPayload(t *testing.T) {
	t.Parallel()

	got, err := addCoinPayload(AddCoinRequest{
		Wallet: testWallet(false, false),
		Coins:  []coin.Coin{mustCoin("btc"), mustCoin("ltc")},
		Resync: true,
	})
	require.NoError(t, err)
	assert.Equal(t, testWalletID+"01"+"02"+"80000000"+"80000002", got)

	_, err = addCoinPayload(AddCoinRequest{Wallet: testWallet(false, false)})
	require.ErrorIs(t, err, protocols.ErrInvalidParameter)
}

func xpubPayload(xpubs ...string) string {
	var b strings.Builder
	for _, x := range xpubs {
		b.WriteString(protocols.EncodeField(protocols.ASCIIToHex(x)))
	}
	return b.String()
}

func TestAddCoin_Legacy(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	store := newMemoryStore()
	conn := legacyReady(protocols.PacketV1)
	conn.QueueResponse(protocols.CmdAddCoinResponse, "01").
		QueueResponse(protocols.CmdPinEntered, "").
		QueueResponse(protocols.CmdCardTapped, "").
		QueueResponse(protocols.CmdXpub, xpubPayload("zpub6rbtc", "zpub6rltc"))

	req := AddCoinRequest{Wallet: testWallet(true, false), Coins: []coin.Coin{mustCoin("btc"), mustCoin("ltc")}}
	res := NewAddCoinFlow(WithHandler(rec), WithCoinStore(store)).Run(context.Background(), conn, req)

	require.NoError(t, res.Err)
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, []string{
		"receive/coinsConfirmed", "receive/pinEntered", "receive/cardsTapped",
	}, rec.milestones())

	want := []Xpub{{CoinID: "btc", Xpub: "zpub6rbtc"}, {CoinID: "ltc", Xpub: "zpub6rltc"}}
	assert.Equal(t, want, store.xpubs[testWalletID])
	e, ok := rec.last(EventXpubs)
	require.True(t, ok)
	assert.Equal(t, XpubData{Xpubs: want}, e.Data)
}

func TestAddCoin_Sequenced(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	conn := sequencedConn()
	conn.QueueOutput(protocols.CmdAddCoinResponse, "01").
		QueueOutput(protocols.CmdXpub, xpubPayload("xpubeth"), statuses(2, 3, 4)...)

	req := AddCoinRequest{Wallet: testWallet(true, true), Coins: []coin.Coin{mustCoin("eth")}}
	res := NewAddCoinFlow(WithHandler(rec)).Run(context.Background(), conn, req)

	require.NoError(t, res.Err)
	assert.Equal(t, []string{
		"receive/coinsConfirmed", "receive/passphraseEntered", "receive/pinEntered", "receive/cardsTapped",
	}, rec.milestones())
	assert.Equal(t, []uint32{protocols.CmdAddCoinRequest, protocols.CmdXpub}, conn.SentTypes())
}

func TestAddCoin_Exits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		script     func(m *protocols.MockConnection)
		name       string
		wantReason ExitReason
		wantErr    bool
	}{
		{
			name:       "declined",
			script:     func(m *protocols.MockConnection) { m.QueueResponse(protocols.CmdAddCoinResponse, "00") },
			wantReason: ExitRejected,
		},
		{
			name: "pin rejected",
			script: func(m *protocols.MockConnection) {
				m.QueueResponse(protocols.CmdAddCoinResponse, "01").QueueResponse(protocols.CmdPinRejected, "")
			},
			wantReason: ExitPinRejected,
		},
		{
			name: "locked before xpubs",
			script: func(m *protocols.MockConnection) {
				m.QueueResponse(protocols.CmdAddCoinResponse, "01").
					QueueResponse(protocols.CmdPinEntered, "").
					QueueResponse(protocols.CmdCardTapped, "").
					QueueResponse(protocols.CmdWalletLocked, "")
			},
			wantReason: ExitLocked,
		},
		{
			name: "short xpub list",
			script: func(m *protocols.MockConnection) {
				m.QueueResponse(protocols.CmdAddCoinResponse, "01").
					QueueResponse(protocols.CmdPinEntered, "").
					QueueResponse(protocols.CmdCardTapped, "").
					QueueResponse(protocols.CmdXpub, xpubPayload("only-one"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryStore()
			conn := legacyReady(protocols.PacketV1)
			tt.script(conn)

			req := AddCoinRequest{Wallet: testWallet(true, false), Coins: []coin.Coin{mustCoin("btc"), mustCoin("ltc")}}
			res := NewAddCoinFlow(WithCoinStore(store)).Run(context.Background(), conn, req)

			if tt.wantErr {
				require.Error(t, res.Err)
				assert.True(t, protocols.IsProtocolError(res.Err))
			} else {
				require.NoError(t, res.Err)
				assert.Equal(t, tt.wantReason, res.Reason)
			}
			assert.Empty(t, store.xpubs)
		})
	}
}
