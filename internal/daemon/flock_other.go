//go:build !unix

package daemon

import "errors"

// ErrLockHeld is returned when another process holds the node lock.
var ErrLockHeld = errors.New("node lock held by another process")

// AcquireLock is a no-op on non-unix platforms; the PID file is the only guard.
func AcquireLock(path string) (*FileLock, error) {
	return &FileLock{path: path}, nil
}

// Release is a no-op on non-unix platforms.
func (l *FileLock) Release() error {
	return nil
}
