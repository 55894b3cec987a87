package state

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock holds an exclusive advisory lock on a sidecar file so that
// other processes using the same discipline see consistent writes. The
// data file itself is replaced by rename, so the lock lives next to it.
type fileLock struct {
	file *os.File
}

// acquireFileLock blocks until the exclusive lock on path is held.
func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &fileLock{file: f}, nil
}

// release drops the lock and closes the file.
func (l *fileLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// WithFileLock runs fn while holding the exclusive lock on path. The
// workspace registry shares this discipline so both persisted files are
// guarded the same way.
func WithFileLock(path string, fn func() error) error {
	lock, err := acquireFileLock(path)
	if err != nil {
		return err
	}
	defer lock.release() //nolint:errcheck
	return fn()
}
