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
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig is a bounded exponential backoff policy.
type RetryConfig struct {
	// RetryIf picks the errors worth another attempt; nil means IsRetryable
	RetryIf func(err error) bool
	// OnRetry runs after a failed attempt, before the pause
	OnRetry func(attempt int, err error)
	// MaxAttempts counts the first call; zero or less calls once
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter stretches each pause by up to this fraction
	Jitter float64
	// RetryTimeout bounds all attempts together; zero means no bound
	RetryTimeout time.Duration
}

// DefaultRetryConfig is the policy for opening a serial port.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       ConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// FirmwareRetryConfig restarts a firmware transfer after any failure, with a
// fixed pause in between.
func FirmwareRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       FirmwareTransferAttempts,
		InitialBackoff:    FirmwareRetryPause,
		MaxBackoff:        FirmwareRetryPause,
		BackoffMultiplier: 1.0,
		RetryIf:           func(error) bool { return true },
	}
}

// RetryableFunc is one attempt.
type RetryableFunc func() error

// RetryWithConfig calls fn until it succeeds, returns an error the policy
// does not retry, or runs out of attempts. Once at least one attempt has
// failed, cancellation surfaces that attempt's error rather than the
// context's. A nil config uses DefaultRetryConfig.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	retryIf := config.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var lastErr error
	pause := config.InitialBackoff
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}

		lastErr = fn()
		if lastErr == nil || !retryIf(lastErr) || attempt == config.MaxAttempts {
			return lastErr
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, lastErr)
		}
		timer := time.NewTimer(calculateJitteredSleep(pause, config.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		pause = calculateNextBackoff(pause, config)
	}
	return lastErr
}

func calculateNextBackoff(pause time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(pause) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// calculateJitteredSleep returns pause stretched by a random share of jitter.
func calculateJitteredSleep(pause time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return pause
	}
	return pause + time.Duration(rand.Float64()*jitter*float64(pause)) //nolint:gosec // backoff jitter
}
