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

// Package flow implements the device flows: the shared lifecycle every flow
// runs through, the dispatch of device responses, and each flow's protocol
// under both packet generations.
package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/internal/syncutil"
)

var (
	// ErrFlowRunning is returned when Run is called while a run is in progress.
	ErrFlowRunning = errors.New("flow is already running")
	// ErrNoConnection is returned when Run is called without a connection.
	ErrNoConnection = errors.New("no connection")
	// ErrMissingDependency is returned when a flow is run without a collaborator it needs.
	ErrMissingDependency = errors.New("missing dependency")
)

type runOptions struct {
	skipReady bool
}

// Base is the lifecycle shared by every flow. A flow instance runs one
// operation at a time; the connection is owned by the caller.
type Base struct {
	conn        protocols.Connection
	cancelRun   context.CancelFunc
	name        string
	handlers    []EventHandler
	channels    []chan Event
	settings    settings
	mu          syncutil.Mutex
	running     atomic.Bool
	cancelled   atomic.Bool
	interrupted atomic.Bool
}

func (b *Base) init(name string, opts []Option) {
	b.name = name
	b.settings.config = protocols.DefaultConfig()
	for _, opt := range opts {
		opt(&b.settings)
	}
	b.handlers = append(b.handlers, b.settings.handlers...)
}

// Name returns the flow name used in events and logs.
func (b *Base) Name() string {
	return b.name
}

// Subscribe registers h for the next run. Subscribers are detached when the
// run ends; events are never replayed.
func (b *Base) Subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Events returns a channel receiving the next run's events. The channel is
// closed when the run ends. Consumers must drain it: publishing waits for
// room until the run's context is done.
func (b *Base) Events(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
	return ch
}

// Cancelled reports whether Cancel was called during the current or last run.
func (b *Base) Cancelled() bool {
	return b.cancelled.Load()
}

// Interrupted reports whether the last run stopped on an error or on an
// oversized transaction.
func (b *Base) Interrupted() bool {
	return b.interrupted.Load()
}

// Cancel marks the flow cancelled and, when conn is open, aborts the device
// command and closes conn so a pending wait fails. A nil conn means the
// connection of the running flow. It returns false when there was no open
// connection to abort. Safe to call from another goroutine and repeatedly.
func (b *Base) Cancel(conn protocols.Connection) bool {
	b.cancelled.Store(true)

	b.mu.Lock()
	cancelRun := b.cancelRun
	if conn == nil {
		conn = b.conn
	}
	b.mu.Unlock()

	if conn == nil || !conn.IsOpen() {
		if cancelRun != nil {
			cancelRun()
		}
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), protocols.AbortTimeout)
	defer cancel()
	if err := conn.Abort(ctx); err != nil {
		protocols.Warnf("%s: abort on cancel failed: %v", b.name, err)
	}
	if err := conn.Close(); err != nil {
		protocols.Warnf("%s: close on cancel failed: %v", b.name, err)
	}
	if cancelRun != nil {
		cancelRun()
	}
	return true
}

// DeviceReady performs the liveness handshake on an open connection.
func (b *Base) DeviceReady(ctx context.Context, conn protocols.Connection) bool {
	return b.deviceReady(newSession(ctx, b, conn))
}

type stepFunc func(s *session) (ExitReason, error)

// run drives the lifecycle around body. onEnd runs exactly once on every
// path, including panics.
func (b *Base) run(ctx context.Context, conn protocols.Connection, ro runOptions, body stepFunc) Result {
	if conn == nil {
		return Result{Status: Failed, Err: ErrNoConnection}
	}
	if !b.running.CompareAndSwap(false, true) {
		return Result{Status: Failed, Err: ErrFlowRunning}
	}
	defer b.running.Store(false)

	b.cancelled.Store(false)
	b.interrupted.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.conn = conn
	b.cancelRun = cancel
	b.mu.Unlock()

	started := time.Now()
	protocols.Debugf("%s: run started (packet %s)", b.name, conn.PacketVersion())

	s := newSession(runCtx, b, conn)
	dontAbort := false
	defer func() {
		b.interrupted.Store(s.interrupted)
		b.onEnd(conn, dontAbort)
	}()

	res := b.execute(s, ro, body)
	res.Interrupted = s.interrupted
	dontAbort = res.Status == Completed || (res.Err != nil && protocols.IsFatal(res.Err))
	protocols.Debugf("%s: run ended after %v: %s", b.name, time.Since(started).Round(time.Millisecond), res)
	return res
}

func (b *Base) execute(s *session, ro runOptions, body stepFunc) Result {
	if err := b.onStart(s); err != nil {
		return b.fail(s, err)
	}

	if !ro.skipReady && !b.deviceReady(s) {
		s.emit(EventNotReady, nil)
		return b.fail(s, protocols.ErrDeviceNotReady)
	}

	reason, err := body(s)
	switch {
	case err != nil && b.cancelled.Load():
		protocols.Debugf("%s: stopped by cancel: %v", b.name, err)
		return Result{Status: ExitedEarly, Reason: ExitCancelled}
	case err != nil:
		return b.fail(s, err)
	case reason != ExitNone:
		protocols.Debugf("%s: exited early: %s", b.name, reason)
		return Result{Status: ExitedEarly, Reason: reason}
	default:
		return Result{Status: Completed}
	}
}

func (b *Base) fail(s *session, err error) Result {
	s.interrupted = true
	protocols.Debugf("%s: failed: %v", b.name, err)
	s.emit(EventError, ErrorData{Err: err})
	return Result{Status: Failed, Err: err}
}

func (b *Base) onStart(s *session) error {
	if !s.conn.IsOpen() {
		if err := s.conn.Open(s.ctx); err != nil {
			return err
		}
	}
	s.emit(EventConnectionOpen, nil)
	return nil
}

func (b *Base) deviceReady(s *session) bool {
	if s.sequenced() {
		status, err := s.conn.Status(s.ctx)
		if err != nil {
			protocols.Debugf("%s: status check failed: %v", b.name, err)
			return false
		}
		return status.IdleState == protocols.IdleStateIdle
	}

	if err := s.conn.Send(s.ctx, protocols.CmdHandshake, protocols.PayloadHandshake); err != nil {
		protocols.Debugf("%s: handshake send failed: %v", b.name, err)
		return false
	}
	frame, err := s.conn.Receive(s.ctx, []uint32{protocols.CmdAck}, protocols.HandshakeTimeout)
	if err != nil {
		protocols.Debugf("%s: handshake failed: %v", b.name, err)
		return false
	}
	return frame.HasPrefix(protocols.PayloadReady)
}

// onEnd sends a best-effort abort unless suppressed, closes the connection
// and detaches every subscriber.
func (b *Base) onEnd(conn protocols.Connection, dontAbort bool) {
	if !dontAbort && conn.IsOpen() {
		ctx, cancel := context.WithTimeout(context.Background(), protocols.AbortTimeout)
		if err := conn.Abort(ctx); err != nil {
			protocols.Warnf("%s: abort on end failed: %v", b.name, err)
		}
		cancel()
	}
	if err := conn.Close(); err != nil {
		protocols.Warnf("%s: close failed: %v", b.name, err)
	}

	b.mu.Lock()
	b.conn = nil
	b.cancelRun = nil
	channels := b.channels
	b.channels = nil
	b.handlers = nil
	b.mu.Unlock()

	for _, ch := range channels {
		close(ch)
	}
}

func (b *Base) publish(ctx context.Context, t EventType, data EventData) {
	event := Event{
		Type:      t,
		Flow:      b.name,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.Lock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	channels := make([]chan Event, len(b.channels))
	copy(channels, b.channels)
	b.mu.Unlock()

	for _, h := range handlers {
		dispatchEvent(ctx, h, event)
	}
	for _, ch := range channels {
		select {
		case ch <- event:
		case <-ctx.Done():
			protocols.Debugf("%s: dropped %s event after context end", b.name, t)
		}
	}
}

func dispatchEvent(ctx context.Context, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			protocols.Warnf("event handler panicked on %s: %v", event.Type, r)
		}
	}()
	h.HandleEvent(ctx, event)
}
