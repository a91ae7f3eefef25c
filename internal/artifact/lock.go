package artifact

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrLockHeld means another run currently owns the shared-state lock. The
// caller should skip its cache-write and sweep phases for this cycle rather
// than block.
var ErrLockHeld = errors.New("run lock held by another process")

// DefaultLockStaleAfter is how old an abandoned lock file may get before a
// new run is allowed to break it. Runs are expected to finish well inside
// this window.
const DefaultLockStaleAfter = 2 * time.Hour

// RunLock is an advisory lock file serializing the cache-write and sweep
// phases of overlapping scheduled runs. Creation with O_EXCL is the atomic
// acquire; the file holds the owner's pid for debugging.
type RunLock struct {
	path       string
	staleAfter time.Duration
	clock      clockwork.Clock
	held       bool
}

// NewRunLock creates a lock handle for path. staleAfter <= 0 uses
// DefaultLockStaleAfter.
func NewRunLock(path string, staleAfter time.Duration, clk clockwork.Clock) *RunLock {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &RunLock{path: path, staleAfter: staleAfter, clock: clk}
}

// TryAcquire attempts to take the lock without blocking. It returns
// ErrLockHeld when a live lock exists; a lock file older than staleAfter is
// treated as abandoned by a crashed run and broken once.
func (l *RunLock) TryAcquire() error {
	if err := l.create(); err == nil {
		l.held = true
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("acquire run lock: %w", err)
	}

	fi, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create and stat; try once more.
			if err := l.create(); err != nil {
				return ErrLockHeld
			}
			l.held = true
			return nil
		}
		return fmt.Errorf("acquire run lock: %w", err)
	}

	if l.clock.Now().Sub(fi.ModTime()) < l.staleAfter {
		return ErrLockHeld
	}

	// Stale lock from a crashed run: move it aside before deleting, so a
	// racing run's freshly created lock is never the file we remove, then
	// retry once.
	stale := l.path + ".stale"
	if err := os.Rename(l.path, stale); err != nil {
		if os.IsNotExist(err) {
			// A racing run broke the stale lock first.
			if err := l.create(); err != nil {
				return ErrLockHeld
			}
			l.held = true
			return nil
		}
		return fmt.Errorf("break stale run lock: %w", err)
	}
	if fi2, err := os.Stat(stale); err == nil && !os.SameFile(fi, fi2) {
		// We moved aside a fresh lock created after our staleness check;
		// put it back and yield.
		_ = os.Rename(stale, l.path)
		return ErrLockHeld
	}
	if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("break stale run lock: %w", err)
	}
	if err := l.create(); err != nil {
		return ErrLockHeld
	}
	l.held = true
	return nil
}

func (l *RunLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// Release removes the lock file. Safe to call when the lock was never
// acquired.
func (l *RunLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
