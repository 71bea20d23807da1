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

package detection

import (
	"slices"
	"time"

	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

type cacheEntry struct {
	timestamp time.Time
	devices   []DeviceInfo
}

// resultCache holds the last scan per mode. Probed and passive scans do
// not share entries since they report different confidence.
type resultCache struct {
	entries map[Mode]cacheEntry
	mu      syncutil.RWMutex
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[Mode]cacheEntry)}
}

func (c *resultCache) get(mode Mode, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[mode]
	if !ok || time.Since(entry.timestamp) > ttl {
		return nil, false
	}
	return slices.Clone(entry.devices), true
}

func (c *resultCache) set(mode Mode, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[mode] = cacheEntry{devices: slices.Clone(devices), timestamp: time.Now()}
}

func (c *resultCache) clear(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, mode)
}

func (c *resultCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Mode]cacheEntry)
}
