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
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/attestation"
	"github.com/Cypherock/cysync-module-protocols-sub000/detection"
	"github.com/Cypherock/cysync-module-protocols-sub000/eventstream"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
	"github.com/Cypherock/cysync-module-protocols-sub000/store/sqlite"
	"github.com/Cypherock/cysync-module-protocols-sub000/transport/serial"
)

type config struct {
	command      string
	devicePath   string
	dbPath       string
	wsAddr       string
	firmwarePath string
	fwVersion    string
	card         int
	iterations   int
	updateTo     uint
	debug        bool
	fullScan     bool
}

// Package-level flag variables
var (
	flagDevicePath string
	flagDBPath     string
	flagWSAddr     string
	flagFirmware   string
	flagFWVersion  string
	flagCard       int
	flagIterations int
	flagUpdateTo   uint
	flagDebug      bool
	flagFullScan   bool
)

func init() {
	flag.StringVar(&flagDevicePath, "device", "", "Serial port of the wallet (auto-detect if empty)")
	flag.StringVar(&flagDBPath, "db", "x1.db", "SQLite database for wallets and auth results")
	flag.StringVar(&flagWSAddr, "ws", "", "Serve flow events over WebSocket on this address (e.g. :8080)")
	flag.StringVar(&flagFirmware, "firmware", "", "Firmware image for the update command")
	flag.StringVar(&flagFWVersion, "fw-version", "", "Firmware version sent with authentication requests")
	flag.IntVar(&flagCard, "card", 1, "Card number (1-4) for auth-card")
	flag.IntVar(&flagIterations, "n", 20, "Iterations for the soak command")
	flag.UintVar(&flagUpdateTo, "version", 0, "Firmware version number announced by the update command")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagFullScan, "full-scan", false, "Probe every serial port during detection")
}

// commandFunc runs one CLI command.
type commandFunc func(ctx context.Context, a *app) error

// commands maps each command name to its implementation.
var commands = map[string]commandFunc{
	"detect":      runDetect,
	"info":        runInfo,
	"logs":        runLogs,
	"auth-device": runDeviceAuth,
	"auth-card":   runCardAuth,
	"add-wallet":  runAddWallet,
	"wallets":     runWallets,
	"update":      runUpdate,
	"cancel":      runCancel,
	"soak":        runSoak,
}

var errUsage = errors.New("usage")

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseCommand(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected one command, one of %s", errUsage, strings.Join(commandNames(), ", "))
	}
	name := strings.ToLower(args[0])
	if _, ok := commands[name]; !ok {
		return "", fmt.Errorf("%w: unknown command %q, expected one of %s",
			errUsage, args[0], strings.Join(commandNames(), ", "))
	}
	return name, nil
}

func parseConfig(args []string) (*config, error) {
	command, err := parseCommand(args)
	if err != nil {
		return nil, err
	}
	cfg := &config{
		command:      command,
		devicePath:   flagDevicePath,
		dbPath:       flagDBPath,
		wsAddr:       flagWSAddr,
		firmwarePath: flagFirmware,
		fwVersion:    flagFWVersion,
		card:         flagCard,
		iterations:   flagIterations,
		updateTo:     flagUpdateTo,
		debug:        flagDebug,
		fullScan:     flagFullScan,
	}

	// Enable debug output if --debug flag is set
	if cfg.debug {
		protocols.SetDebugEnabled(true)
	}

	return cfg, nil
}

// app is what every command runs against.
type app struct {
	cfg      *config
	settings *protocols.Config
	out      io.Writer
	detector *detection.Detector
	// factory opens the wallet in firmware mode, boot in bootloader mode
	factory  protocols.ConnectionFactory
	boot     protocols.ConnectionFactory
	store    *sqlite.DB
	attestor flow.Attestor
	upgrader flow.Upgrader
	handlers []flow.EventHandler
}

func (a *app) flowOptions(extra ...flow.Option) []flow.Option {
	opts := []flow.Option{flow.WithConfig(a.settings)}
	for _, h := range a.handlers {
		opts = append(opts, flow.WithHandler(h))
	}
	return append(opts, extra...)
}

func (a *app) detectOptions() *detection.Options {
	opts := detection.DefaultOptions()
	if a.cfg.fullScan {
		opts.Mode = detection.Full
	}
	return &opts
}

// connectionFactories resolves the firmware and bootloader factories. With
// an explicit port both point at it; otherwise each call re-detects, since
// the wallet re-enumerates when it switches into the bootloader.
func (a *app) connectionFactories() {
	if a.cfg.devicePath != "" {
		if a.cfg.debug {
			_, _ = fmt.Fprintf(a.out, "Using device: %s\n", a.cfg.devicePath)
		}
		a.factory = serial.Factory(a.cfg.devicePath)
		a.boot = serial.Factory(a.cfg.devicePath, serial.WithBootloader())
		return
	}

	a.factory = func(ctx context.Context) (protocols.Connection, error) {
		device, err := a.detector.First(ctx, a.detectOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to detect wallet: %w", err)
		}
		if a.cfg.debug {
			_, _ = fmt.Fprintf(a.out, "Detected %s\n", device)
		}
		return device.Factory()(ctx)
	}
	a.boot = func(ctx context.Context) (protocols.Connection, error) {
		a.detector.ClearCache()
		opts := a.detectOptions()
		opts.Mode = detection.Passive
		devices, err := a.detector.Detect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to detect bootloader: %w", err)
		}
		for _, device := range devices {
			if device.Bootloader {
				return device.Factory()(ctx)
			}
		}
		return nil, fmt.Errorf("bootloader: %w", detection.ErrNoDevicesFound)
	}
}

// connect opens a firmware-mode connection for a device command.
func (a *app) connect(ctx context.Context) (protocols.Connection, error) {
	conn, err := a.factory(ctx)
	if err != nil {
		return nil, err
	}
	if !conn.IsOpen() {
		if err := conn.Open(ctx); err != nil {
			return nil, fmt.Errorf("failed to open wallet: %w", err)
		}
	}
	if a.cfg.debug {
		_, _ = fmt.Fprintf(a.out, "Packet version: %s\n", conn.PacketVersion())
	}
	return conn, nil
}

// printer writes each event as one line.
func printer(w io.Writer) flow.EventHandler {
	return flow.EventHandlerFunc(func(_ context.Context, event flow.Event) {
		if event.Data == nil {
			_, _ = fmt.Fprintf(w, "[%s] %s\n", event.Flow, event.Type)
			return
		}
		_, _ = fmt.Fprintf(w, "[%s] %s %+v\n", event.Flow, event.Type, event.Data)
	})
}

func resultError(res flow.Result) error {
	switch res.Status {
	case flow.Failed:
		return res.Err
	case flow.ExitedEarly:
		if res.Reason == flow.ExitCancelled {
			return context.Canceled
		}
		return fmt.Errorf("flow %s", res)
	default:
		return nil
	}
}

func runDetect(ctx context.Context, a *app) error {
	devices, err := a.detector.Detect(ctx, a.detectOptions())
	if err != nil {
		return fmt.Errorf("failed to detect wallets: %w", err)
	}
	for _, device := range devices {
		_, _ = fmt.Fprintln(a.out, device)
	}
	return nil
}

func runInfo(ctx context.Context, a *app) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	return resultError(flow.NewDeviceInfoFlow(a.flowOptions()...).Run(ctx, conn))
}

func runLogs(ctx context.Context, a *app) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	return resultError(flow.NewLogsFlow(a.flowOptions()...).Run(ctx, conn, nil))
}

func runDeviceAuth(ctx context.Context, a *app) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	f := flow.NewDeviceAuthFlow(a.attestor, a.flowOptions(flow.WithDeviceStore(a.store))...)
	return resultError(f.Run(ctx, conn, flow.DeviceAuthRequest{FirmwareVersion: a.cfg.fwVersion}))
}

func runCardAuth(ctx context.Context, a *app) error {
	if a.cfg.card < 1 || a.cfg.card > flow.MaxCards {
		return fmt.Errorf("%w: card number %d out of range 1-%d", errUsage, a.cfg.card, flow.MaxCards)
	}
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	f := flow.NewCardAuthFlow(a.attestor, a.flowOptions()...)
	return resultError(f.Run(ctx, conn, flow.CardAuthRequest{
		FirmwareVersion: a.cfg.fwVersion,
		CardNumber:      a.cfg.card,
	}))
}

func runAddWallet(ctx context.Context, a *app) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	f := flow.NewAddWalletFlow(a.flowOptions(flow.WithWalletStore(a.store))...)
	return resultError(f.Run(ctx, conn))
}

func runWallets(ctx context.Context, a *app) error {
	wallets, err := a.store.Wallets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list wallets: %w", err)
	}
	if len(wallets) == 0 {
		_, _ = fmt.Fprintln(a.out, "No wallets stored.")
		return nil
	}
	for _, w := range wallets {
		_, _ = fmt.Fprintf(a.out, "%s  %s  pin=%t passphrase=%t\n", w.ID, w.Name, w.HasPin, w.HasPassphrase)
	}
	return nil
}

func runUpdate(ctx context.Context, a *app) error {
	if a.cfg.firmwarePath == "" {
		return fmt.Errorf("%w: update needs -firmware", errUsage)
	}
	conn, err := a.factory(ctx)
	if err != nil {
		return err
	}
	f := flow.NewUpdateFlow(a.boot, a.upgrader, a.flowOptions()...)
	return resultError(f.Run(ctx, conn, flow.UpdateRequest{
		FirmwarePath: a.cfg.firmwarePath,
		Version:      uint32(a.cfg.updateTo), //nolint:gosec // flag value is a firmware version number
	}))
}

func runCancel(ctx context.Context, a *app) error {
	res := flow.NewCancelFlow(a.factory, a.flowOptions()...).Run(ctx, nil)
	if res.Status == flow.ExitedEarly && res.Reason == flow.ExitDeviceGone {
		_, _ = fmt.Fprintln(a.out, "No device to cancel on.")
		return nil
	}
	return resultError(res)
}

func newApp(cfg *config, out io.Writer) (*app, func(), error) {
	a := &app{
		cfg:      cfg,
		settings: protocols.LoadConfigFromEnv(),
		out:      out,
		detector: detection.New(),
		upgrader: serial.NewUpgrader(),
		handlers: []flow.EventHandler{printer(out)},
	}
	a.attestor = attestation.NewClientFromConfig(a.settings)
	a.connectionFactories()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.command != "detect" {
		db, err := sqlite.Open(cfg.dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.store = db
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Failed to close database: %v\n", err)
			}
		})
	}

	if cfg.wsAddr != "" {
		hub := eventstream.NewHub(eventstream.WithLogger(protocols.Logger().Desugar()))
		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		srv := &http.Server{Addr: cfg.wsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				protocols.Warnf("event stream server stopped: %v", err)
			}
		}()
		_, _ = fmt.Fprintf(out, "Serving events on ws://%s/events\n", cfg.wsAddr)
		a.handlers = append(a.handlers, hub)
		closers = append(closers, func() {
			hub.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}

	return a, cleanup, nil
}

func run(ctx context.Context, a *app) error {
	if a.cfg.debug {
		if path, err := protocols.InitSessionLog(a.settings.LogDir); err == nil {
			_, _ = fmt.Fprintf(a.out, "Session log: %s\n", path)
			defer func() { _ = protocols.CloseSessionLog() }()
		}
	}
	return commands[a.cfg.command](ctx, a)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig(flag.Args())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 2
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	a, cleanup, err := newApp(cfg, os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	if err := run(ctx, a); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if trace := protocols.GetTrace(err); trace != nil && cfg.debug {
			_, _ = fmt.Fprint(os.Stderr, trace.FormatTrace())
		}
		return 1
	}
	return 0
}
