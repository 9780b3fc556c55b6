package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// LockFileName is the writer lock inside the data directory.
const LockFileName = ".index.lock"

// DirLock is a cross-process exclusive lock on a data directory.
// Only one blackia-rag process may write to an index at a time.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock at <dir>/.index.lock.
func NewDirLock(dir string) *DirLock {
	p := filepath.Join(dir, LockFileName)
	return &DirLock{path: p, flock: flock.New(p)}
}

// Lock blocks until the lock is held.
func (l *DirLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking. It returns a StoreLocked
// error when another process holds it.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return raerrors.New(raerrors.ErrCodeStoreLocked, "index is locked by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other blackia-rag process (serve or watch) and retry")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }

// IsLocked reports whether this handle holds the lock.
func (l *DirLock) IsLocked() bool { return l.locked }
