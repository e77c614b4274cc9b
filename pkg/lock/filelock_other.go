//go:build !unix

package lock

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// FileLock is unavailable on this platform; WithLock always fails.
type FileLock struct {
	path string
}

// NewFileLock creates a FileLock on path.
func NewFileLock(path string, _ *zap.Logger) *FileLock {
	return &FileLock{path: path}
}

func (l *FileLock) WithLock(func() error) error {
	return fmt.Errorf("file locking of %s is not supported on %s", l.path, runtime.GOOS)
}
