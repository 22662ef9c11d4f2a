package levelhash

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireWriterLock takes a non-blocking, process-exclusive advisory
// lock on a sidecar file next to the pool, realizing spec §5's "the PM
// pool is opened exclusively by one process" requirement across
// process boundaries. Modeled directly on the teacher's
// writer_lock.go, generalized from syscall to golang.org/x/sys/unix.
func acquireWriterLock(poolPath string) (*os.File, error) {
	lockPath := poolPath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("levelhash: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("levelhash: flock: %w", err)
	}
	return f, nil
}

// releaseWriterLock releases the lock. The lock file itself is left in
// place, matching the teacher's documented contract that lock files
// persist rather than being deleted (deleting one while another
// process is about to flock it would race).
func releaseWriterLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_UN); err != nil {
		lockFile.Close()
		return fmt.Errorf("levelhash: unlock: %w", err)
	}
	return lockFile.Close()
}
