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
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
)

// logsTerminator is the chunk that ends a log transfer ("end").
const logsTerminator = "656e64"

// LogsFlow downloads the device's internal log.
type LogsFlow struct {
	Base
}

// NewLogsFlow creates a log fetch flow.
func NewLogsFlow(opts ...Option) *LogsFlow {
	f := &LogsFlow{}
	f.init("logs", opts)
	return f
}

// Run streams the device log into sink. A nil sink writes a timestamped file
// in the configured log directory.
func (f *LogsFlow) Run(ctx context.Context, conn protocols.Connection, sink io.Writer) Result {
	return f.run(ctx, conn, runOptions{}, func(s *session) (ExitReason, error) {
		frame, err := s.exchange(protocols.CmdLogChunk, protocols.PayloadReject,
			one(protocols.CmdLogChunk, protocols.CmdLogDisabled), protocols.LogChunkTimeout)
		if err != nil {
			return ExitNone, err
		}
		if frame.CommandType == protocols.CmdLogDisabled {
			s.emit(EventLoggingDisabled, nil)
			return ExitLoggingDisabled, nil
		}

		path := ""
		if sink == nil {
			file, err := f.createLogFile()
			if err != nil {
				return ExitNone, err
			}
			defer func() {
				if cerr := file.Close(); cerr != nil {
					protocols.Warnf("%s: close log file: %v", s.base.name, cerr)
				}
			}()
			sink, path = file, file.Name()
		}

		total, err := f.stream(s, frame, sink)
		if err != nil {
			return ExitNone, err
		}
		s.emit(EventLogsFetched, LogData{Path: path, Bytes: total})
		return ExitNone, nil
	})
}

// stream appends chunks starting with first until the terminator arrives.
func (f *LogsFlow) stream(s *session, first protocols.CommandFrame, sink io.Writer) (int, error) {
	total := 0
	frame := first
	for !strings.EqualFold(frame.Payload, logsTerminator) {
		text, err := protocols.HexToASCII(frame.Payload)
		if err != nil {
			return total, s.protocolError(frame.CommandType, "log chunk: %v", err)
		}
		if _, err := io.WriteString(sink, text); err != nil {
			return total, fmt.Errorf("write log chunk: %w", err)
		}
		total += len(text)
		s.emit(EventLogChunk, LogData{Bytes: len(text)})

		frame, err = s.exchange(protocols.CmdLogDisabled, protocols.PayloadAccept,
			one(protocols.CmdLogChunk), protocols.LogChunkTimeout)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *LogsFlow) createLogFile() (*os.File, error) {
	dir := f.settings.config.LogDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("device_%s.log", time.Now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(dir, name)) //nolint:gosec // path built from configured log dir
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	return file, nil
}
