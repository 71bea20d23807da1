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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
		n        int
	}{
		{name: "zero", n: 0, expected: "0000"},
		{name: "single byte length", n: 0x10, expected: "1000"},
		{name: "two byte length swapped", n: 0x0102, expected: "0201"},
		{name: "max", n: 0xFFFF, expected: "ffff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, LengthPrefix(tt.n))
		})
	}
}

func TestEncodeField_PadsOddLength(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0200"+"0abc", EncodeField("abc"))
	assert.Equal(t, "0100"+"ff", EncodeField("ff"))
	assert.Equal(t, "0000", EncodeField(""))
}

func TestDecodeField(t *testing.T) {
	t.Parallel()

	payload := EncodeField("deadbeef") + EncodeField("01") + "77"

	first, rest, err := DecodeField(payload)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", first)

	second, rest, err := DecodeField(rest)
	require.NoError(t, err)
	assert.Equal(t, "01", second)
	assert.Equal(t, "77", rest)
}

func TestDecodeField_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "short header", payload: "01"},
		{name: "non hex header", payload: "zz00ff"},
		{name: "truncated field", payload: "0400aabb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := DecodeField(tt.payload)
			require.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestHexASCIIRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "656e64", ASCIIToHex("end"))
	text, err := HexToASCII("68656c6c6f")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = HexToASCII("xyz0")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestFixedWidthHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0102", Uint16Hex(0x0102))
	assert.Equal(t, "00010203", Uint32Hex(0x00010203))

	v, err := ParseHexUint("0100")
	require.NoError(t, err)
	assert.Equal(t, uint64(256), v)
	_, err = ParseHexUint("")
	require.Error(t, err)

	field, err := Slice("aabbccdd", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "bbcc", field)
	_, err = Slice("aabb", 2, 4)
	require.ErrorIs(t, err, ErrInvalidFormat)

	assert.True(t, IsHex("00fF"))
	assert.False(t, IsHex("0"))
	assert.False(t, IsHex("0g"))
	assert.False(t, IsHex(""))
}
