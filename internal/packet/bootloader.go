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

package packet

// Bootloader commands. The bootloader speaks v2 legacy framing: the host
// sends BootStart with the image size (4 bytes), one BootData message per
// block, then BootEnd. The device answers each with BootOK or BootError.
const (
	BootStart uint32 = 0x10
	BootData  uint32 = 0x11
	BootOK    uint32 = 0x12
	BootError uint32 = 0x13
	BootEnd   uint32 = 0x14

	// BootBlockSize is the firmware bytes carried per BootData message.
	BootBlockSize = 1024
)
