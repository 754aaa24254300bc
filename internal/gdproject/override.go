package gdproject

import (
	"fmt"
	"os"

	"github.com/gdmcp/gdmcp/internal/fsys"
)

// Override temporarily replaces the contents of a file, remembering what
// was there before. The original is captured at construction; Restore
// puts it back verbatim, or deletes the file if it did not previously
// exist. The same abstraction serves both the host and the port
// override file during auto-launch.
type Override struct {
	fs       fsys.FS
	path     string
	existed  bool
	original []byte
	restored bool
}

// NewOverride captures the current state of path. No mutation happens
// until Set is called, so constructing an Override is always safe.
func NewOverride(fs fsys.FS, path string) (*Override, error) {
	o := &Override{fs: fs, path: path}
	data, err := fs.ReadFile(path)
	switch {
	case err == nil:
		o.existed = true
		o.original = data
	case os.IsNotExist(err):
		// Nothing to capture; Restore will delete.
	default:
		return nil, fmt.Errorf("capturing %s: %w", path, err)
	}
	return o, nil
}

// Set writes the override content.
func (o *Override) Set(content string) error {
	if err := o.fs.WriteFile(o.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing override %s: %w", o.path, err)
	}
	return nil
}

// Restore returns the file to its captured state: the original bytes if
// the file existed, removal if it did not. Safe to call more than once;
// only the first call acts. Intended for defer so every exit path —
// success, failure, timeout — undoes the override.
func (o *Override) Restore() error {
	if o.restored {
		return nil
	}
	o.restored = true
	if o.existed {
		if err := o.fs.WriteFile(o.path, o.original, 0o644); err != nil {
			return fmt.Errorf("restoring %s: %w", o.path, err)
		}
		return nil
	}
	if err := o.fs.Remove(o.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing override %s: %w", o.path, err)
	}
	return nil
}
