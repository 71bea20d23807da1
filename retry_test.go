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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callTracker struct {
	calls int
}

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    1 * time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      100 * time.Millisecond,
	}
}

func TestRetryConfig_DefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()

	require.NotNil(t, config)
	assert.Equal(t, ConnectionRetries, config.MaxAttempts)
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.Nil(t, config.RetryIf)
}

func TestFirmwareRetryConfig(t *testing.T) {
	t.Parallel()

	config := FirmwareRetryConfig()

	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 2*time.Second, config.InitialBackoff)
	assert.Equal(t, config.InitialBackoff, calculateNextBackoff(config.InitialBackoff, config))
	assert.Zero(t, config.Jitter)
	require.NotNil(t, config.RetryIf)
	assert.True(t, config.RetryIf(NewProtocolError("update", 0, "bad")))
}

func TestCalculateNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config         *RetryConfig
		name           string
		currentBackoff time.Duration
		expected       time.Duration
	}{
		{
			name:           "Normal exponential growth",
			currentBackoff: 100 * time.Millisecond,
			config:         &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Second},
			expected:       200 * time.Millisecond,
		},
		{
			name:           "Hits maximum backoff limit",
			currentBackoff: 3 * time.Second,
			config:         &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Second},
			expected:       5 * time.Second,
		},
		{
			name:           "Fixed pause",
			currentBackoff: 2 * time.Second,
			config:         &RetryConfig{BackoffMultiplier: 1.0, MaxBackoff: 2 * time.Second},
			expected:       2 * time.Second,
		},
		{
			name:           "Unbounded when max is zero",
			currentBackoff: 200 * time.Millisecond,
			config:         &RetryConfig{BackoffMultiplier: 1.5},
			expected:       300 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, calculateNextBackoff(tt.currentBackoff, tt.config))
		})
	}
}

func TestCalculateJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	assert.Equal(t, base, calculateJitteredSleep(base, 0))

	for range 50 {
		got := calculateJitteredSleep(base, 0.5)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+base/2)
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config        *RetryConfig
		fn            func(tracker *callTracker) error
		name          string
		errorContains string
		expectedCalls int
	}{
		{
			name:          "Success on first attempt",
			config:        fastConfig(3),
			fn:            func(*callTracker) error { return nil },
			expectedCalls: 1,
		},
		{
			name:   "Success after retries",
			config: fastConfig(3),
			fn: func(tracker *callTracker) error {
				if tracker.calls < 3 {
					return NewTimeoutError("test", "port")
				}
				return nil
			},
			expectedCalls: 3,
		},
		{
			name:          "Non-retryable error fails immediately",
			config:        fastConfig(3),
			fn:            func(*callTracker) error { return NewUnexpectedCommandError("send", CmdCardError) },
			errorContains: "unexpected response",
			expectedCalls: 1,
		},
		{
			name:          "Retryable error exhausts attempts",
			config:        fastConfig(2),
			fn:            func(*callTracker) error { return NewTimeoutError("test", "port") },
			errorContains: "timeout",
			expectedCalls: 2,
		},
		{
			name: "RetryIf overrides classification",
			config: func() *RetryConfig {
				c := fastConfig(3)
				c.RetryIf = func(error) bool { return true }
				return c
			}(),
			fn:            func(*callTracker) error { return ErrInvalidFormat },
			errorContains: "invalid hex payload",
			expectedCalls: 3,
		},
		{
			name:          "Zero attempts runs once",
			config:        &RetryConfig{},
			fn:            func(*callTracker) error { return NewTimeoutError("test", "port") },
			errorContains: "timeout",
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tracker := &callTracker{}
			err := RetryWithConfig(context.Background(), tt.config, func() error {
				tracker.calls++
				return tt.fn(tracker)
			})

			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectedCalls, tracker.calls)
		})
	}
}

func TestRetryWithConfig_LastErrorSurfaced(t *testing.T) {
	t.Parallel()

	config := fastConfig(3)
	config.RetryIf = func(error) bool { return true }

	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}
	var retried []int
	config.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	calls := 0
	err := RetryWithConfig(context.Background(), config, func() error {
		e := errs[calls]
		calls++
		return e
	})

	require.Error(t, err)
	assert.Equal(t, "third", err.Error())
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryWithConfig_ContextCancellation(t *testing.T) {
	t.Parallel()

	config := &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 1.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithConfig(ctx, config, func() error {
		calls++
		cancel()
		return NewTimeoutError("test", "port")
	})

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 1, calls)
}
