//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// FileLock is a host-wide Locker backed by flock(2) on a well-known path.
// Acquisition blocks without a timeout.
type FileLock struct {
	path   string
	logger *zap.Logger
}

// NewFileLock creates a FileLock on path. The file is created on first use
// and its content is never read.
func NewFileLock(path string, logger *zap.Logger) *FileLock {
	return &FileLock{path: path, logger: logger}
}

func (l *FileLock) WithLock(fn func() error) error {
	f, err := l.acquire()
	if err != nil {
		return err
	}
	defer l.release(f)

	return fn()
}

func (l *FileLock) acquire() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}
	fd := int(f.Fd())

	err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, unix.EWOULDBLOCK) {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	l.logger.Info("waiting for another invocation to release the lock", zap.String("path", l.path))
	for {
		err = unix.Flock(fd, unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	return f, nil
}

func (l *FileLock) release(f *os.File) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		l.logger.Error("failed to unlock", zap.String("path", l.path), zap.Error(err))
	}
	f.Close()
}
