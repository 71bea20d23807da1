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
	"path/filepath"
	"strings"
)

// USB IDs of the wallet.
const (
	VendorID      = "3503"
	ProductID     = "0103"
	BootloaderPID = "0102"
)

// DefaultBlocklist returns the VID:PID pairs never probed by default.
func DefaultBlocklist() []string {
	return nil
}

// NormalizeVIDPID formats a vendor and product ID as upper-case VVVV:PPPP.
// Missing leading zeros are restored.
func NormalizeVIDPID(vid, pid string) string {
	if vid == "" || pid == "" {
		return ""
	}
	return pad4(vid) + ":" + pad4(pid)
}

func pad4(id string) string {
	id = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
	for len(id) < 4 {
		id = "0" + id
	}
	return id
}

// IsBlocked reports whether vidpid appears in blocklist. Comparison is
// case-insensitive.
func IsBlocked(vidpid string, blocklist []string) bool {
	if vidpid == "" {
		return false
	}
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, blocked := range blocklist {
		if strings.ToUpper(strings.TrimSpace(blocked)) == vidpid {
			return true
		}
	}
	return false
}

// IsPathIgnored reports whether devicePath matches an entry of ignorePaths
// after cleaning. Comparison is case-insensitive, as on Windows.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	for _, ignored := range ignorePaths {
		if ignored != "" && normalizedPath(ignored) == device {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
