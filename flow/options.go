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
	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

type settings struct {
	config      *protocols.Config
	retry       *protocols.RetryConfig
	walletStore WalletStore
	coinStore   CoinStore
	deviceStore DeviceStore
	addrStore   AddressStore
	blockhash   BlockhashSource
	handlers    []EventHandler
}

// Option configures a flow.
type Option func(*settings)

// WithConfig sets the shared configuration.
func WithConfig(cfg *protocols.Config) Option {
	return func(s *settings) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

// WithHandler subscribes h before the first run.
func WithHandler(h EventHandler) Option {
	return func(s *settings) {
		s.handlers = append(s.handlers, h)
	}
}

// WithRetryConfig overrides the firmware transfer retry policy.
func WithRetryConfig(cfg *protocols.RetryConfig) Option {
	return func(s *settings) {
		s.retry = cfg
	}
}

// WithWalletStore supplies wallet persistence.
func WithWalletStore(store WalletStore) Option {
	return func(s *settings) {
		s.walletStore = store
	}
}

// WithCoinStore supplies xpub persistence.
func WithCoinStore(store CoinStore) Option {
	return func(s *settings) {
		s.coinStore = store
	}
}

// WithDeviceStore supplies device authentication persistence.
func WithDeviceStore(store DeviceStore) Option {
	return func(s *settings) {
		s.deviceStore = store
	}
}

// WithAddressStore supplies receive address persistence.
func WithAddressStore(store AddressStore) Option {
	return func(s *settings) {
		s.addrStore = store
	}
}

// WithBlockhashSource supplies recent blockhashes for Solana sends.
func WithBlockhashSource(src BlockhashSource) Option {
	return func(s *settings) {
		s.blockhash = src
	}
}
