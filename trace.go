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
	"fmt"
	"strings"
	"time"

	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

// traceHexLimit caps the bytes printed per trace line.
const traceHexLimit = 32

// TraceDirection is TX for host-to-device bytes, RX for device-to-host.
type TraceDirection string

const (
	TraceTX TraceDirection = "TX"
	TraceRX TraceDirection = "RX"
)

// TraceEntry is one packet on the wire, or a timeout marker with no data.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// TraceableError carries the last packets exchanged on a port before err.
//
//	if te := protocols.GetTrace(err); te != nil {
//	    fmt.Fprint(os.Stderr, te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Port  string
	Trace []TraceEntry
}

func (e *TraceableError) Error() string { return e.Err.Error() }

func (e *TraceableError) Unwrap() error { return e.Err }

// FormatTrace renders the trace one packet per line, ">" for TX and "<" for RX.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Port)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		fmt.Fprintf(&sb, "  %s %s", arrow, formatHexBytes(entry.Data))
		if entry.Note != "" {
			fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	shown := min(len(data), traceHexLimit)
	var sb strings.Builder
	for i, b := range data[:shown] {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	if len(data) > shown {
		fmt.Fprintf(&sb, " ... (%d bytes total)", len(data))
	}
	return sb.String()
}

// TraceBuffer is a ring of the most recent packets on one port. Transports
// record every packet and wrap their errors with WrapError.
type TraceBuffer struct {
	port  string
	ring  []TraceEntry
	next  int
	count int
	mu    syncutil.Mutex
}

// NewTraceBuffer keeps the last size entries for port. Zero or less means 16.
func NewTraceBuffer(port string, size int) *TraceBuffer {
	if size <= 0 {
		size = 16
	}
	return &TraceBuffer{port: port, ring: make([]TraceEntry, size)}
}

// RecordTX records bytes written to the device.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes read from the device.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout marks a read that ran out.
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.ring[tb.next] = entry
	tb.next = (tb.next + 1) % len(tb.ring)
	if tb.count < len(tb.ring) {
		tb.count++
	}
}

// snapshot returns the entries oldest first. Callers hold mu.
func (tb *TraceBuffer) snapshot() []TraceEntry {
	out := make([]TraceEntry, 0, tb.count)
	start := (tb.next - tb.count + len(tb.ring)) % len(tb.ring)
	for i := range tb.count {
		out = append(out, tb.ring[(start+i)%len(tb.ring)])
	}
	return out
}

// WrapError attaches the current trace to err. A nil err stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return &TraceableError{Err: err, Port: tb.port, Trace: tb.snapshot()}
}

// Clear drops every recorded entry.
func (tb *TraceBuffer) Clear() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	clear(tb.ring)
	tb.next, tb.count = 0, 0
}

// GetTrace returns the TraceableError in err's chain, or nil.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
