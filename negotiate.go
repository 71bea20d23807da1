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
	"context"
	"errors"
	"fmt"
	"time"
)

// NegotiationOrder lists candidate packet versions newest first.
var NegotiationOrder = []PacketVersion{PacketV3, PacketV2, PacketV1}

// VersionProber sends a handshake framed in a given packet version and
// reports whether the device acknowledged it within timeout.
type VersionProber interface {
	Probe(ctx context.Context, version PacketVersion, timeout time.Duration) error
}

// NegotiatePacketVersion tries each candidate in order and returns the first
// that the device acknowledges. When none answers it returns PacketNone and
// ErrNoPacketVersion. A fatal probe error ends negotiation without trying
// the remaining candidates. A nil candidates list uses NegotiationOrder.
func NegotiatePacketVersion(
	ctx context.Context, prober VersionProber, candidates []PacketVersion, timeout time.Duration,
) (PacketVersion, error) {
	if candidates == nil {
		candidates = NegotiationOrder
	}
	if timeout <= 0 {
		timeout = ProbeTimeout
	}

	var errs []error
	for _, version := range candidates {
		if err := ctx.Err(); err != nil {
			return PacketNone, fmt.Errorf("negotiation cancelled: %w", err)
		}

		err := prober.Probe(ctx, version, timeout)
		if err == nil {
			Debugf("negotiated packet version %s", version)
			return version, nil
		}
		Debugf("packet version %s probe failed: %v", version, err)
		// A fatal error means the port is gone; older candidates cannot answer either.
		if IsFatal(err) {
			return PacketNone, fmt.Errorf("probing %s: %w", version, err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", version, err))
	}

	return PacketNone, fmt.Errorf("%w: %w", ErrNoPacketVersion, errors.Join(errs...))
}
