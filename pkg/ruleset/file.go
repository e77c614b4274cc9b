package ruleset

import (
	"errors"
	"fmt"
	"os"

	"github.com/alexey-f/origin-server/pkg/atomicfile"
)

// File is a Table persisted on disk in iptables-restore format.
type File struct {
	Path   string
	Name   string
	editor *atomicfile.Editor
}

// NewFile binds table name to the rule file at path.
func NewFile(name, path string, editor *atomicfile.Editor) *File {
	return &File{Path: path, Name: name, editor: editor}
}

// Load reads the table. A missing file reads as an empty table.
func (f *File) Load() (*Table, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return NewTable(f.Name), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s rules %s: %w", f.Name, f.Path, err)
	}
	return Parse(f.Name, data), nil
}

// Ensure creates the rule file with an empty table if it does not exist yet.
func (f *File) Ensure() error {
	if _, err := os.Stat(f.Path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", f.Path, err)
	}
	return f.editor.Create(f.Path, NewTable(f.Name).Bytes(), 0o600)
}

// Update applies fn to the persisted table through the atomic editor.
func (f *File) Update(fn func(*Table) error) error {
	if err := f.Ensure(); err != nil {
		return err
	}
	return f.editor.Transform(f.Path, func(old []byte) ([]byte, error) {
		table := Parse(f.Name, old)
		if err := fn(table); err != nil {
			return nil, err
		}
		return table.Bytes(), nil
	})
}
