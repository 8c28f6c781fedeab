// Package lockfile provides the single-instance advisory lock zfszipper
// takes before touching any pool, so two concurrent runs against the same
// configuration never race to import/export the same backup pool.
package lockfile

import (
	"github.com/gofrs/flock"

	"github.com/diekhans/zfs-zipper/internal/zerrors"
)

// Lock wraps an advisory, non-blocking file lock.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock bound to path. The lock file is created by
// TryAcquire if it does not already exist; it is never removed, and
// nothing is written into it.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TryAcquire attempts to take the lock without blocking. It returns a
// StateError if another process already holds it.
func (l *Lock) TryAcquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return zerrors.Wrap(zerrors.StateError, err, "acquiring lock %s", l.fl.Path())
	}
	if !ok {
		return zerrors.New(zerrors.StateError, "another instance already holds lock %s", l.fl.Path())
	}
	return nil
}

// Release drops the lock. Release is idempotent.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	return l.fl.Unlock()
}
