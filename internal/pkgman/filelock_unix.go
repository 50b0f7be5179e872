//go:build !windows

package pkgman

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory inter-process lock backed by flock(2). The
// lock file stays on disk after release; only the flock state matters.
type fileLock struct {
	f *os.File
}

// acquireLock obtains an exclusive lock on path, polling a non-blocking
// flock until the timeout elapses.
func acquireLock(path string, timeout time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, &ConcurrentInstallTimeoutError{Path: path, Wait: timeout}
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func (l *fileLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
