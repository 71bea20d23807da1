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
	"errors"
	"fmt"
	"strings"
	"sync"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/coin"
)

// recorder collects published events.
type recorder struct {
	events []Event
	mu     sync.Mutex
}

func (r *recorder) HandleEvent(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// milestones returns the milestone events in publish order.
func (r *recorder) milestones() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if m, ok := e.Data.(MilestoneData); ok {
			out = append(out, fmt.Sprintf("%s/%s", m.Leg, m.Stage))
		}
	}
	return out
}

// legacyReady scripts a successful handshake.
func legacyReady(version protocols.PacketVersion) *protocols.MockConnection {
	m := protocols.NewMockConnection(version)
	m.QueueResponse(protocols.CmdAck, protocols.PayloadReady)
	return m
}

func sequencedConn() *protocols.MockConnection {
	return protocols.NewMockConnection(protocols.PacketV3)
}

func status(flowStatus uint16) protocols.DeviceStatus {
	return protocols.DeviceStatus{FlowStatus: flowStatus, IdleState: protocols.IdleStateIdle}
}

func statuses(values ...uint16) []protocols.DeviceStatus {
	out := make([]protocols.DeviceStatus, len(values))
	for i, v := range values {
		out[i] = status(v)
	}
	return out
}

var errFake = errors.New("fake collaborator failure")

const testWalletID = "0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

func testWallet(pin, passphrase bool) Wallet {
	return Wallet{ID: testWalletID, Name: "savings", HasPin: pin, HasPassphrase: passphrase}
}

func mustCoin(id string) coin.Coin {
	c, err := coin.Lookup(id)
	if err != nil {
		panic(err)
	}
	return c
}

// fakeTxWallet builds canned transactions and records what it was given.
type fakeTxWallet struct {
	metadataErr error
	metadata    string
	signed      string
	unsigned    UnsignedTx
	gotSigs     []string
	gotReqs     []SendRequest
	gotContext  SignContext
	mu          sync.Mutex
	invalid     bool
}

func (w *fakeTxWallet) Metadata(_ context.Context, req SendRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gotReqs = append(w.gotReqs, req)
	return w.metadata, w.metadataErr
}

func (w *fakeTxWallet) UnsignedTransaction(_ context.Context, req SendRequest) (UnsignedTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gotReqs = append(w.gotReqs, req)
	return w.unsigned, nil
}

func (w *fakeTxWallet) SignedTransaction(_ context.Context, _ UnsignedTx, sigs []string, sc SignContext) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gotSigs = sigs
	w.gotContext = sc
	return w.signed, nil
}

func (w *fakeTxWallet) VerifySignedTransaction(context.Context, string) (bool, error) {
	return !w.invalid, nil
}

type fakeDeriver struct {
	address string
	path    coin.Path
}

func (d fakeDeriver) ReceiveAddress(_ context.Context, _ Wallet, c coin.Coin, account uint32) (string, coin.Path, error) {
	if d.address == "" {
		return "", coin.Path{}, errFake
	}
	if d.path == (coin.Path{}) {
		return d.address, coin.ReceivePath(c, account, 0), nil
	}
	return d.address, d.path, nil
}

type fakeBlockhash string

func (b fakeBlockhash) LatestBlockhash(context.Context) (string, error) {
	return string(b), nil
}

type fakeExchange struct {
	payin string
	got   SwapOrder
}

func (e *fakeExchange) CreateOrder(_ context.Context, order SwapOrder) (string, error) {
	e.got = order
	return e.payin, nil
}

// fakeAttestor answers with a fixed challenge and verdict.
type fakeAttestor struct {
	challenge  string
	gotSerial  SerialRequest
	gotChal    ChallengeRequest
	verified   bool
	serialSeen bool
}

func (a *fakeAttestor) VerifySerial(_ context.Context, req SerialRequest) (string, error) {
	a.gotSerial = req
	a.serialSeen = true
	return a.challenge, nil
}

func (a *fakeAttestor) VerifyChallenge(_ context.Context, req ChallengeRequest) (bool, error) {
	a.gotChal = req
	return a.verified, nil
}

// memoryStore implements every store interface in memory.
type memoryStore struct {
	wallets   map[string]Wallet
	xpubs     map[string][]Xpub
	devices   map[string]bool
	addresses []string
	mu        sync.Mutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		wallets: make(map[string]Wallet),
		xpubs:   make(map[string][]Xpub),
		devices: make(map[string]bool),
	}
}

func (m *memoryStore) WalletExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.wallets[id]
	return ok, nil
}

func (m *memoryStore) SaveWallet(_ context.Context, w Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = w
	return nil
}

func (m *memoryStore) SaveXpub(_ context.Context, walletID string, x Xpub) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xpubs[walletID] = append(m.xpubs[walletID], x)
	return nil
}

func (m *memoryStore) SaveDeviceAuth(_ context.Context, serial string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[serial] = verified
	return nil
}

func (m *memoryStore) SaveReceiveAddress(_ context.Context, walletID, coinID, address, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses = append(m.addresses, strings.Join([]string{walletID, coinID, address, path}, "|"))
	return nil
}

// fakeUpgrader fails the first failures attempts.
type fakeUpgrader struct {
	firmware string
	failures int
	attempts int
	mu       sync.Mutex
}

func (u *fakeUpgrader) Upgrade(_ context.Context, conn protocols.Connection, firmwareHex string, progress func(int)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts++
	if !conn.IsOpen() {
		return fmt.Errorf("attempt %d: connection not open", u.attempts)
	}
	if u.attempts <= u.failures {
		return fmt.Errorf("attempt %d: %w", u.attempts, errFake)
	}
	u.firmware = firmwareHex
	progress(50)
	progress(100)
	return nil
}
