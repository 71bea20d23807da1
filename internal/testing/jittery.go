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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig shapes how a JitteryLink delivers device bytes.
type JitterConfig struct {
	// MaxLatency is the upper bound of the random delay before each read
	MaxLatency time.Duration
	// MaxChunk caps the bytes returned per read; 0 means no cap
	MaxChunk int
	// USBBoundary splits reads at 64 byte USB packet boundaries
	USBBoundary bool
	// Seed makes the fragmentation reproducible; 0 picks a random seed
	Seed uint64
}

// DefaultJitterConfig returns a configuration resembling a USB-CDC link
// under load.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{MaxLatency: 2 * time.Millisecond, MaxChunk: 7, USBBoundary: true}
}

// JitteryLink wraps the device side of a link and returns its bytes in
// random fragments with random latency, the way a USB serial bridge does.
// Writes pass through unchanged.
type JitteryLink struct {
	backend io.ReadWriter
	rng     *rand.Rand
	pending []byte
	config  JitterConfig
	offset  int
}

// NewJitteryLink wraps backend.
func NewJitteryLink(backend io.ReadWriter, config JitterConfig) *JitteryLink {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test fragmentation, not crypto
	}
	return &JitteryLink{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5A5A5A5A)), //nolint:gosec // test fragmentation, not crypto
	}
}

// Write implements io.Writer.
func (j *JitteryLink) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read implements io.Reader.
func (j *JitteryLink) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		tmp := make([]byte, 512)
		n, err := j.backend.Read(tmp)
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, tmp[:n]...)
	}

	n := min(len(buf), len(j.pending))
	if j.config.USBBoundary {
		if left := 64 - j.offset%64; left < n {
			n = left
		}
	}
	if j.config.MaxChunk > 0 && n > 1 {
		n = 1 + j.rng.IntN(min(n, j.config.MaxChunk))
	}

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.offset += n
	return n, nil
}
