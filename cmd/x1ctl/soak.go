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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
)

// SoakResult summarises a soak run.
type SoakResult struct {
	CrashFiles []string
	Passed     int
	Failed     int
	Duration   time.Duration
}

// CrashReport contains everything needed to debug one failed iteration.
type CrashReport struct {
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error"`
	Port          string    `json:"port,omitempty"`
	PacketVersion string    `json:"packet_version"`
	Trace         []string  `json:"trace,omitempty"`
	Iteration     int       `json:"iteration"`
}

// runSoak repeats the device info exchange to shake out transport faults.
// Each failure leaves a crash report with the wire trace behind.
func runSoak(ctx context.Context, a *app) error {
	if a.cfg.iterations < 1 {
		return fmt.Errorf("%w: soak needs -n >= 1", errUsage)
	}

	_, _ = fmt.Fprintf(a.out, "Soak: %d device info exchanges. Press Ctrl+C to stop...\n", a.cfg.iterations)

	result := &SoakResult{}
	started := time.Now()
	for i := 1; i <= a.cfg.iterations; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		version, err := a.soakOnce(ctx)
		if err == nil {
			result.Passed++
			continue
		}
		if errors.Is(err, context.Canceled) {
			break
		}
		result.Failed++
		_, _ = fmt.Fprintf(a.out, "  [FAIL] iteration %d: %v\n", i, err)

		report := createCrashReport(i, version, err)
		path, werr := writeCrashReport(a.settings.LogDir, report)
		if werr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to write crash report: %v\n", werr)
			continue
		}
		result.CrashFiles = append(result.CrashFiles, path)
	}
	result.Duration = time.Since(started)

	printSoakSummary(a, result)
	if result.Failed > 0 {
		return fmt.Errorf("soak: %d of %d iterations failed", result.Failed, result.Passed+result.Failed)
	}
	return ctx.Err()
}

func (a *app) soakOnce(ctx context.Context) (protocols.PacketVersion, error) {
	conn, err := a.connect(ctx)
	if err != nil {
		return protocols.PacketNone, err
	}
	version := conn.PacketVersion()

	var info *flow.DeviceInfoData
	capture := flow.EventHandlerFunc(func(_ context.Context, e flow.Event) {
		if data, ok := e.Data.(flow.DeviceInfoData); ok {
			info = &data
		}
	})
	res := flow.NewDeviceInfoFlow(flow.WithConfig(a.settings), flow.WithHandler(capture)).Run(ctx, conn)
	if err := resultError(res); err != nil {
		return version, err
	}
	if info == nil {
		return version, errors.New("device info flow completed without device info")
	}
	return version, nil
}

func createCrashReport(iteration int, version protocols.PacketVersion, err error) *CrashReport {
	report := &CrashReport{
		Timestamp:     time.Now(),
		Iteration:     iteration,
		PacketVersion: version.String(),
		Error:         err.Error(),
	}
	if trace := protocols.GetTrace(err); trace != nil {
		report.Port = trace.Port
		for _, entry := range trace.Trace {
			report.Trace = append(report.Trace, formatTraceEntry(entry))
		}
	}
	return report
}

func formatTraceEntry(entry protocols.TraceEntry) string {
	parts := make([]string, len(entry.Data))
	for i, b := range entry.Data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	line := fmt.Sprintf("%s %s %s", entry.Timestamp.Format("15:04:05.000"), entry.Direction, strings.Join(parts, " "))
	if entry.Note != "" {
		line += " (" + entry.Note + ")"
	}
	return line
}

func writeCrashReport(dir string, report *CrashReport) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := fmt.Sprintf("soak_crash_%03d_%s.json", report.Iteration, timestamp)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create crash report directory: %w", err)
		}
		filename = filepath.Join(dir, filename)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}

	return filename, nil
}

func printSoakSummary(a *app, result *SoakResult) {
	_, _ = fmt.Fprintln(a.out, "================================================================================")
	_, _ = fmt.Fprintln(a.out, "                                 SOAK SUMMARY")
	_, _ = fmt.Fprintln(a.out, "================================================================================")
	_, _ = fmt.Fprintf(a.out, "Passed: %d  Failed: %d  Duration: %s\n",
		result.Passed, result.Failed, result.Duration.Round(100*time.Millisecond))
	for _, path := range result.CrashFiles {
		_, _ = fmt.Fprintf(a.out, "Crash report: %s\n", path)
	}
}
