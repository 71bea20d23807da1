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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// PadEven left-pads a hex string with a zero so it encodes whole bytes.
func PadEven(h string) string {
	if len(h)%2 != 0 {
		return "0" + h
	}
	return h
}

// LengthPrefix encodes n as the 2-byte length header used in front of
// variable-length payload fields. The low byte comes first in the hex string.
func LengthPrefix(n int) string {
	natural := fmt.Sprintf("%04x", n&0xFFFF)
	return natural[2:4] + natural[0:2]
}

// EncodeField pads a hex field to whole bytes and prefixes its byte length.
func EncodeField(field string) string {
	padded := PadEven(field)
	return LengthPrefix(len(padded)/2) + padded
}

// DecodeField reads one length-prefixed field from the front of payload and
// returns it together with the remaining payload.
func DecodeField(payload string) (field, rest string, err error) {
	if len(payload) < 4 {
		return "", "", fmt.Errorf("%w: length header needs 4 hex chars, have %d", ErrInvalidFormat, len(payload))
	}
	swapped := payload[2:4] + payload[0:2]
	n, err := strconv.ParseUint(swapped, 16, 16)
	if err != nil {
		return "", "", fmt.Errorf("%w: length header %q: %w", ErrInvalidFormat, payload[:4], err)
	}
	end := 4 + int(n)*2
	if len(payload) < end {
		return "", "", fmt.Errorf("%w: field of %d bytes truncated", ErrInvalidFormat, n)
	}
	return payload[4:end], payload[end:], nil
}

// Uint16Hex encodes v as 2 big-endian bytes in hex.
func Uint16Hex(v uint16) string {
	return fmt.Sprintf("%04x", v)
}

// Uint32Hex encodes v as 4 big-endian bytes in hex.
func Uint32Hex(v uint32) string {
	return fmt.Sprintf("%08x", v)
}

// ParseHexUint parses a fixed-width big-endian hex field.
func ParseHexUint(field string) (uint64, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: empty numeric field", ErrInvalidFormat)
	}
	v, err := strconv.ParseUint(field, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: numeric field %q: %w", ErrInvalidFormat, field, err)
	}
	return v, nil
}

// HexToASCII decodes a hex payload into text.
func HexToASCII(h string) (string, error) {
	raw, err := hex.DecodeString(PadEven(h))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return string(raw), nil
}

// ASCIIToHex encodes text as a hex payload.
func ASCIIToHex(s string) string {
	return hex.EncodeToString([]byte(s))
}

// IsHex reports whether s is a non-empty, even-length hex string.
func IsHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune("0123456789abcdefABCDEF", r)
	}) < 0
}

// Slice returns the fixed-width hex field at [start, start+width) or an error
// when the payload is too short.
func Slice(payload string, start, width int) (string, error) {
	if start < 0 || width < 0 || len(payload) < start+width {
		return "", fmt.Errorf("%w: need %d hex chars at offset %d, have %d",
			ErrInvalidFormat, width, start, len(payload))
	}
	return payload[start : start+width], nil
}
