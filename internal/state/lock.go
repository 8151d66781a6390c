package state

import (
	"fmt"
	"os"
	"time"
)

const (
	// DefaultLockWait bounds how long a caller waits for the advisory lock.
	DefaultLockWait = 5 * time.Second
	// lockPoll is the retry interval while waiting.
	lockPoll = 100 * time.Millisecond
)

// Lock is an advisory file lock next to the state file. It is best-effort
// mutual exclusion between the two pull agents, not a strict guarantee:
// callers fall through to unlocked execution when the wait times out.
type Lock struct {
	path string
	held bool
}

// NewLock creates a lock guarding the given state file path.
func NewLock(statePath string) *Lock {
	return &Lock{path: statePath + ".lock"}
}

// Acquire tries to take the lock, polling until the wait elapses. It
// returns false on timeout; the caller should log a warning and proceed
// unlocked.
func (l *Lock) Acquire(wait time.Duration) bool {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	deadline := time.Now().Add(wait)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			l.held = true
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(lockPoll)
	}
}

// Release removes the lock file if this lock holds it.
func (l *Lock) Release() {
	if !l.held {
		return
	}
	os.Remove(l.path)
	l.held = false
}
