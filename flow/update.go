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
	"fmt"
	"os"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// UpdateRequest names the firmware image to install.
type UpdateRequest struct {
	FirmwarePath string
	Version      uint32
}

// UpdateFlow installs firmware. The transfer itself goes over a fresh
// bootloader connection and is retried as a whole.
type UpdateFlow struct {
	factory  protocols.ConnectionFactory
	upgrader Upgrader
	Base
}

// NewUpdateFlow creates a firmware update flow.
func NewUpdateFlow(factory protocols.ConnectionFactory, upgrader Upgrader, opts ...Option) *UpdateFlow {
	f := &UpdateFlow{factory: factory, upgrader: upgrader}
	f.init("update", opts)
	return f
}

// Run confirms the update on the device unless it is already in bootloader
// mode, then transfers the firmware.
func (f *UpdateFlow) Run(ctx context.Context, conn protocols.Connection, req UpdateRequest) Result {
	ro := runOptions{skipReady: conn != nil && conn.InBootloader()}
	return f.run(ctx, conn, ro, func(s *session) (ExitReason, error) {
		if f.factory == nil || f.upgrader == nil {
			return ExitNone, fmt.Errorf("%w: connection factory and upgrader", ErrMissingDependency)
		}
		if !s.conn.InBootloader() {
			if reason, err := f.confirm(s, req.Version); err != nil || reason != ExitNone {
				return reason, err
			}
		}

		raw, err := os.ReadFile(req.FirmwarePath)
		if err != nil {
			return ExitNone, fmt.Errorf("read firmware: %w", err)
		}
		if len(raw) == 0 {
			return ExitNone, fmt.Errorf("%w: firmware file %s is empty", protocols.ErrInvalidParameter, req.FirmwarePath)
		}
		firmware := hex.EncodeToString(raw)

		// The device re-enumerates in bootloader mode.
		if err := s.conn.Close(); err != nil {
			protocols.Debugf("%s: close before transfer: %v", s.base.name, err)
		}

		if err := f.transfer(s, firmware); err != nil {
			return ExitNone, err
		}
		s.emit(EventCompleted, nil)
		return ExitNone, nil
	})
}

func (f *UpdateFlow) confirm(s *session, version uint32) (ExitReason, error) {
	frame, err := s.exchange(protocols.CmdUpdateRequest, protocols.Uint32Hex(version),
		one(protocols.CmdUpdateConfirm), protocols.ConfirmTimeout)
	if err != nil {
		return ExitNone, err
	}
	ok, err := s.acceptance(frame)
	if err != nil {
		return ExitNone, err
	}
	s.emit(EventUpdateConfirmed, Confirmation{OK: ok})
	if !ok {
		return ExitRejected, nil
	}
	return ExitNone, nil
}

func (f *UpdateFlow) retryConfig(s *session) *protocols.RetryConfig {
	cfg := protocols.FirmwareRetryConfig()
	if f.settings.retry != nil {
		copied := *f.settings.retry
		cfg = &copied
	}
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error) {
		protocols.Debugf("%s: firmware transfer attempt %d failed: %v", s.base.name, attempt, err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return cfg
}

// transfer runs each attempt on its own connection. Only the last
// attempt's error is returned.
func (f *UpdateFlow) transfer(s *session, firmware string) error {
	progress := func(percent int) {
		s.emit(EventUpdateProgress, ProgressData{Percent: percent})
	}
	err := protocols.RetryWithConfig(s.ctx, f.retryConfig(s), func() error {
		conn, err := f.factory(s.ctx)
		if err != nil {
			return fmt.Errorf("open bootloader connection: %w", err)
		}
		defer func() {
			if cerr := conn.Close(); cerr != nil {
				protocols.Debugf("%s: close bootloader connection: %v", s.base.name, cerr)
			}
		}()
		if !conn.IsOpen() {
			if err := conn.Open(s.ctx); err != nil {
				return fmt.Errorf("open bootloader connection: %w", err)
			}
		}
		return f.upgrader.Upgrade(s.ctx, conn, firmware, progress)
	})
	if err != nil {
		return fmt.Errorf("firmware transfer: %w", err)
	}
	return nil
}
