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
	"fmt"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// CancelFlow aborts whatever the device is doing, with or without a
// connection from a previous flow.
type CancelFlow struct {
	factory protocols.ConnectionFactory
	Base
}

// NewCancelFlow creates a cancel flow. factory is used when Run is given no
// connection.
func NewCancelFlow(factory protocols.ConnectionFactory, opts ...Option) *CancelFlow {
	f := &CancelFlow{factory: factory}
	f.init("cancel", opts)
	return f
}

// Run sends an abort. A nil conn opens a fresh connection, negotiates its
// packet version and aborts on it. The connection is always closed, and an
// abort the device does not answer is not an error. When the device cannot
// be reached at all the run exits early with ExitDeviceGone and publishes
// nothing.
func (f *CancelFlow) Run(ctx context.Context, conn protocols.Connection) Result {
	fresh := conn == nil
	if fresh {
		if f.factory == nil {
			return Result{Status: Failed, Err: fmt.Errorf("%w: connection factory", ErrMissingDependency)}
		}
		c, err := f.factory(ctx)
		if err != nil {
			protocols.Debugf("%s: no connection to cancel on: %v", f.name, err)
			return Result{Status: ExitedEarly, Reason: ExitDeviceGone}
		}
		conn = c
	}
	if !conn.IsOpen() {
		if err := conn.Open(ctx); err != nil {
			protocols.Debugf("%s: device gone, nothing to cancel: %v", f.name, err)
			if cerr := conn.Close(); cerr != nil {
				protocols.Debugf("%s: close after failed open: %v", f.name, cerr)
			}
			return Result{Status: ExitedEarly, Reason: ExitDeviceGone}
		}
	}

	return f.run(ctx, conn, runOptions{skipReady: true}, func(s *session) (ExitReason, error) {
		if prober, ok := s.conn.(protocols.VersionProber); ok && fresh {
			version, err := protocols.NegotiatePacketVersion(s.ctx, prober, nil, 0)
			if err != nil {
				protocols.Warnf("%s: packet version negotiation failed: %v", s.base.name, err)
			} else {
				protocols.Debugf("%s: cancelling over %s packets", s.base.name, version)
			}
		}
		if err := s.conn.Abort(s.ctx); err != nil {
			protocols.Warnf("%s: abort failed: %v", s.base.name, err)
			return ExitNone, nil
		}
		s.emit(EventAborted, nil)
		return ExitNone, nil
	})
}
