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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

// The session log records every debug line of a run, whatever the console
// level, so a failed flow can be diagnosed after the fact.
var (
	sessionMu   syncutil.Mutex
	sessionFile *os.File
	sessionPath string
	sessionLog  *zap.Logger
)

// newSessionLogger writes "15:04:05.000 LEVEL message" lines to w.
func newSessionLogger(w io.Writer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = zapcore.OmitKey
	enc.NameKey = zapcore.OmitKey
	enc.StacktraceKey = zapcore.OmitKey
	enc.ConsoleSeparator = " "
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel))
}

// InitSessionLog starts a session log named x1_YYYYMMDD_HHMMSS.log in dir,
// or in the working directory when dir is empty, and returns its path.
func InitSessionLog(dir string) (string, error) {
	name := fmt.Sprintf("x1_%s.log", time.Now().Format("20060102_150405"))
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create log directory: %w", err)
		}
		name = filepath.Join(dir, name)
	}

	f, err := os.Create(name) //nolint:gosec // name is built from a timestamp
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(f)

	sessionMu.Lock()
	defer sessionMu.Unlock()
	if sessionFile != nil {
		_ = sessionFile.Close()
	}
	sessionFile = f
	sessionPath = name
	sessionLog = newSessionLogger(f)
	return name, nil
}

// CloseSessionLog ends the current session log. It is a no-op without one.
func CloseSessionLog() error {
	sessionMu.Lock()
	defer sessionMu.Unlock()

	if sessionFile == nil {
		return nil
	}
	sessionLog.Info("=== Session ended ===")
	_ = sessionLog.Sync()

	err := sessionFile.Close()
	sessionFile = nil
	sessionPath = ""
	sessionLog = nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log path, or "".
func GetSessionLogPath() string {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	return sessionPath
}

func writeSessionLine(level zapcore.Level, message string) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if sessionLog == nil {
		return
	}
	if ce := sessionLog.Check(level, message); ce != nil {
		ce.Write()
	}
}

func writeSessionHeader(w io.Writer) {
	var sb strings.Builder
	sb.WriteString("=== X1 Flow Session Log ===\n")
	fmt.Fprintf(&sb, "Started: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&sb, "PID: %d\n", os.Getpid())
	fmt.Fprintf(&sb, "Platform: %s/%s, %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	fmt.Fprintf(&sb, "Command Line: %s\n", strings.Join(os.Args, " "))
	sb.WriteString("============================\n\n")
	_, _ = io.WriteString(w, sb.String())
}
