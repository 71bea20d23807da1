//go:build !deadlock

// Package syncutil holds the locks used across the module. Transport and
// flow code share them so a single build tag can swap in lock-order
// checking while chasing a hang on real hardware.
package syncutil

import "sync"

// Mutex is a plain sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes Lock and Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a plain sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes the lock methods directly
type RWMutex struct {
	sync.RWMutex
}

// Checking reports whether lock-order checking is compiled in.
func Checking() bool { return false }
