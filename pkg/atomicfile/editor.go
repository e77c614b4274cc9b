package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// EditingSuffix names the working copy an edit is applied to.
	EditingSuffix = ".editing"
	// BackupSuffix names the one-generation backup of the last good content.
	BackupSuffix = ".bak"
)

// Editor applies edits to a file through a working copy so readers never see
// a partially written file.
type Editor struct {
	logger *zap.Logger
}

// NewEditor creates an Editor.
func NewEditor(logger *zap.Logger) *Editor {
	return &Editor{logger: logger}
}

// Apply copies path to path.editing, runs edit against the copy, refreshes
// path.bak as a hard link to the current path and renames the copy over path.
// If edit fails, path is untouched and path.editing is left for inspection.
func (e *Editor) Apply(path string, edit func(editingPath string) error) error {
	editingPath := path + EditingSuffix
	backupPath := path + BackupSuffix

	if err := os.Remove(editingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard stale %s: %w", editingPath, err)
	}
	if err := copyFile(path, editingPath); err != nil {
		return fmt.Errorf("failed to copy %s: %w", path, err)
	}

	if err := edit(editingPath); err != nil {
		e.logger.Warn("edit failed, original left untouched",
			zap.String("path", path),
			zap.String("editing", editingPath),
			zap.Error(err),
		)
		return fmt.Errorf("failed to edit %s: %w", editingPath, err)
	}

	// The backup must point at the pre-edit content before the swap.
	if err := os.Remove(backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove old backup %s: %w", backupPath, err)
	}
	if err := os.Link(path, backupPath); err != nil {
		return fmt.Errorf("failed to link backup %s: %w", backupPath, err)
	}

	if err := os.Rename(editingPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to sync directory of %s: %w", path, err)
	}

	e.logger.Debug("file updated", zap.String("path", path))
	return nil
}

// Transform is Apply with a pure content transformation.
func (e *Editor) Transform(path string, fn func(old []byte) ([]byte, error)) error {
	return e.Apply(path, func(editingPath string) error {
		old, err := os.ReadFile(editingPath)
		if err != nil {
			return err
		}
		updated, err := fn(old)
		if err != nil {
			return err
		}
		return writeFileSync(editingPath, updated)
	})
}

// Create writes content to path via a temporary file and rename. It fails if
// path already exists.
func (e *Editor) Create(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmpPath := path + EditingSuffix
	if err := os.WriteFile(tmpPath, content, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", tmpPath, err)
	}

	e.logger.Info("created file", zap.String("path", path))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeFileSync truncates path and writes data, keeping the existing mode.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
