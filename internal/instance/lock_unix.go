//go:build unix

package instance

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AcquireLock takes an advisory, non-blocking exclusive flock on the lock
// file, held for the process lifetime. A second process racing to start
// against the same repository gets EWOULDBLOCK here instead of a port
// conflict later.
func (m *Manager) AcquireLock() error {
	f, err := os.OpenFile(m.lockFilePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (another instance may be starting): %w", err)
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	m.lockFile = f
	m.acquiredLock = true
	return nil
}

// ReleaseLock releases the flock and removes the lock file. Safe to call
// even if AcquireLock was never called or already failed.
func (m *Manager) ReleaseLock() error {
	if !m.acquiredLock {
		return nil
	}
	unix.Flock(int(m.lockFile.Fd()), unix.LOCK_UN)
	m.lockFile.Close()
	m.lockFile = nil
	m.acquiredLock = false

	if err := os.Remove(m.lockFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
