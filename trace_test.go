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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("/dev/ttyACM0", 2)
	tb.RecordTX([]byte{0xAA, 0x01}, "cmd 41")
	tb.RecordRX([]byte{0xAA, 0x02}, "")
	tb.RecordTimeout("ack")

	err := tb.WrapError(ErrNoACK)
	te := GetTrace(err)
	require.NotNil(t, te)
	require.Len(t, te.Trace, 2)
	assert.Equal(t, TraceRX, te.Trace[0].Direction)
	assert.Equal(t, "TIMEOUT: ack", te.Trace[1].Note)
	require.ErrorIs(t, err, ErrNoACK)

	trace := te.FormatTrace()
	assert.Contains(t, trace, "Wire trace (2 entries)")
	assert.Contains(t, trace, "< AA 02")

	assert.NoError(t, tb.WrapError(nil))
	tb.Clear()
	assert.Contains(t, GetTrace(tb.WrapError(ErrNoACK)).FormatTrace(), "no trace data")
	assert.Nil(t, GetTrace(errors.New("plain")))
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "0A FF", formatHexBytes([]byte{0x0a, 0xff}))
	long := make([]byte, 40)
	assert.Contains(t, formatHexBytes(long), "(40 bytes total)")
}

func TestTraceBuffer_WrapsAround(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("COM3", 3)
	for i := range 5 {
		tb.RecordTX([]byte{byte(i)}, "")
	}

	te := GetTrace(tb.WrapError(ErrTransportTimeout))
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	for i, entry := range te.Trace {
		assert.Equal(t, []byte{byte(i + 2)}, entry.Data)
	}
}
