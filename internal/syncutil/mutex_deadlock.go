//go:build deadlock

package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// A device wait can legitimately hold the I/O lock for a user-paced step,
// so the detector timeout is longer than the library default.
const defaultLockTimeout = 3 * time.Minute

func init() {
	deadlock.Opts.DeadlockTimeout = defaultLockTimeout
	if v := os.Getenv("X1_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			deadlock.Opts.DeadlockTimeout = d
		}
	}
}

// Mutex reports lock-order inversions and locks held past the timeout.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex reports lock-order inversions and locks held past the timeout.
type RWMutex struct {
	deadlock.RWMutex
}

// Checking reports whether lock-order checking is compiled in.
func Checking() bool { return true }
