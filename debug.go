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
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// debugEnabled controls whether debug lines reach the console logger
var debugEnabled = false

var log *zap.SugaredLogger

func init() {
	if os.Getenv("X1_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	initLogger()
}

func initLogger() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.Level = zap.NewAtomicLevelAt(parseLogLevel(os.Getenv("X1_LOG_LEVEL")))

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	log = logger.Sugar()
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.DebugLevel
	}
}

// SetLogger replaces the console logger. Passing nil restores the default.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		initLogger()
		return
	}
	log = logger.Sugar()
}

// Logger returns the logger used by the package
func Logger() *zap.SugaredLogger {
	return log
}

// Debugf logs to the session log, and to the console when debug is enabled.
func Debugf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSessionLine(zapcore.DebugLevel, message)

	if debugEnabled {
		log.Debug(message)
	}
}

// Debugln is Debugf with Sprintln formatting.
func Debugln(args ...any) {
	message := strings.TrimSuffix(fmt.Sprintln(args...), "\n")
	writeSessionLine(zapcore.DebugLevel, message)

	if debugEnabled {
		log.Debug(message)
	}
}

// Warnf reports a best-effort failure that was swallowed. It always reaches
// the console logger.
func Warnf(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	writeSessionLine(zapcore.WarnLevel, message)
	log.Warn(message)
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
