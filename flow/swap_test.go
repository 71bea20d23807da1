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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

func swapRequest() SwapRequest {
	return SwapRequest{
		Send:          SendRequest{Wallet: testWallet(false, false), Coin: mustCoin("eth"), Fee: "21000"},
		ReceiveWallet: testWallet(true, false),
		ReceiveCoin:   mustCoin("btc"),
		SendAmount:    "1.5",
		ReceiveAmount: "0.05",
		ExchangeFee:   "0.001",
	}
}

func TestSwapPayload(t *testing.T) {
	t.Parallel()

	req := swapRequest()
	path := coin.ReceivePath(req.ReceiveCoin, 0, 0)
	payload := swapPayload(req, "cafe", path, "addr")

	field, rest, err := protocols.DecodeField(payload)
	require.NoError(t, err)
	assert.Equal(t, testWalletID+"cafe", field)

	field, rest, err = protocols.DecodeField(rest)
	require.NoError(t, err)
	assert.Equal(t, receivePayload(testWalletID, path, "addr"), field)

	for _, want := range []string{"1.5", "0.05", "0.001"} {
		field, rest, err = protocols.DecodeField(rest)
		require.NoError(t, err)
		text, err := protocols.HexToASCII(field)
		require.NoError(t, err)
		assert.Equal(t, want, text)
	}
	assert.Empty(t, rest)
}

func TestSwap_Legacy(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	exchange := &fakeExchange{payin: "0xpayin"}
	wallet := &fakeTxWallet{metadata: "cafe", unsigned: UnsignedTx{Hex: "aabb"}, signed: "signed-swap"}
	conn := legacyReady(protocols.PacketV1)
	conn.QueueResponse(protocols.CmdSwapMetadata, "010100").
		QueueResponse(protocols.CmdPinEntered, "").
		QueueResponse(protocols.CmdCardTapped, "").
		QueueResponse(protocols.CmdSwapAddrVerified, "01").
		QueueResponse(protocols.CmdRecipientVerify, "01").
		QueueResponse(protocols.CmdCardTapped, "").
		QueueResponse(protocols.CmdSignature, "abab")

	res := NewSwapFlow(wallet, fakeDeriver{address: testAddress}, exchange, WithHandler(rec)).
		Run(context.Background(), conn, swapRequest())

	require.NoError(t, res.Err)
	assert.Equal(t, Completed, res.Status)
	assert.Equal(t, testAddress, exchange.got.ReceiveAddress)
	assert.Equal(t, "1.5", exchange.got.SendAmount)

	last := wallet.gotReqs[len(wallet.gotReqs)-1]
	assert.Equal(t, []Output{{Address: "0xpayin", Amount: "1.5"}}, last.Outputs,
		"send leg pays into the exchange order")
	assert.Equal(t, []string{
		"receive/coinsConfirmed", "receive/pinEntered", "receive/cardsTapped", "receive/verified",
		"send/coinsConfirmed", "send/verified", "send/cardsTapped",
	}, rec.milestones())

	e, ok := rec.last(EventExchangeOrder)
	require.True(t, ok)
	assert.Equal(t, AddressData{Address: "0xpayin"}, e.Data)
	assert.Equal(t, 1, rec.count(EventSignedTxn))
}

func TestSwap_Sequenced(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	exchange := &fakeExchange{payin: "0xpayin"}
	wallet := &fakeTxWallet{metadata: "cafe", unsigned: UnsignedTx{Hex: "aabb"}, signed: "signed-swap"}
	conn := sequencedConn()
	conn.QueueOutput(protocols.CmdSwapMetadata, "010100").
		QueueOutput(protocols.CmdSwapAddrVerified, "01", statuses(3, 4, 6)...).
		QueueOutput(protocols.CmdSignature, "abab", statuses(1, 4, 7)...)

	res := NewSwapFlow(wallet, fakeDeriver{address: testAddress}, exchange, WithHandler(rec)).
		Run(context.Background(), conn, swapRequest())

	require.NoError(t, res.Err)
	assert.Equal(t, []uint32{
		protocols.CmdSwapMetadata, protocols.CmdSwapAddrVerified, protocols.CmdRecipientVerify,
	}, conn.SentTypes())
	assert.Equal(t, []string{
		"receive/coinsConfirmed", "receive/pinEntered", "receive/cardsTapped", "receive/verified",
		"send/coinsConfirmed", "send/verified", "send/cardsTapped",
	}, rec.milestones())
}

func TestSwap_TooLargeAfterOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	wallet := &fakeTxWallet{metadata: "cafe", unsigned: UnsignedTx{Hex: "aabbccdd"}}
	conn := legacyReady(protocols.PacketV1)
	conn.QueueResponse(protocols.CmdSwapMetadata, "010001").
		QueueResponse(protocols.CmdPinEntered, "").
		QueueResponse(protocols.CmdCardTapped, "").
		QueueResponse(protocols.CmdSwapAddrVerified, "01")

	res := NewSwapFlow(wallet, fakeDeriver{address: testAddress}, &fakeExchange{payin: "p"}, WithHandler(rec)).
		Run(context.Background(), conn, swapRequest())

	assert.Equal(t, ExitTxnTooLarge, res.Reason)
	assert.True(t, res.Interrupted)
	assert.Empty(t, conn.SentPayloads(protocols.CmdRecipientVerify))
}

func TestSwap_Rejected(t *testing.T) {
	t.Parallel()

	exchange := &fakeExchange{payin: "p"}
	conn := legacyReady(protocols.PacketV1)
	conn.QueueResponse(protocols.CmdReceiveRejected, "")

	res := NewSwapFlow(&fakeTxWallet{}, fakeDeriver{address: testAddress}, exchange).
		Run(context.Background(), conn, swapRequest())

	assert.Equal(t, ExitRejected, res.Reason)
	assert.Empty(t, exchange.got.ReceiveAddress, "no order without a verified address")
}

func TestSwap_MissingCollaborators(t *testing.T) {
	t.Parallel()

	res := NewSwapFlow(&fakeTxWallet{}, fakeDeriver{}, nil).Run(context.Background(), legacyReady(protocols.PacketV1), swapRequest())
	require.ErrorIs(t, res.Err, ErrMissingDependency)
}
