// Package ownership guarantees a single writer per chain output.
//
// A lock is an exclusive advisory lock on a sibling file named after the
// protected path with a ".lock" suffix. The holder's PID is written into
// the lock file for diagnostics.
package ownership

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("ownership: locked by another process")

// Lock is a held ownership lock.
type Lock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// LockPath returns the lock file used for path.
func LockPath(path string) string {
	return path + ".lock"
}

// Acquire takes the lock for path without blocking.
func Acquire(path string) (*Lock, error) {
	lp := LockPath(path)
	if err := os.MkdirAll(filepath.Dir(lp), 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lp, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", lp, err)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Lock{path: lp, file: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. It is safe to call more
// than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	unlockErr := unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", l.path, closeErr)
	}
	return nil
}
