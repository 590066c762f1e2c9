// Package localdir implements an external storage root on a user-granted OS
// directory. The grant can disappear at any time (directory removed,
// permission revoked), so Verify is re-checked before destructive operations
// and every error keeps its io/fs sentinel for the engine to classify.
package localdir

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/codedesk/vfsd/internal/backend"
)

// Root is an external storage root rooted at an existing OS directory.
type Root struct {
	base string
}

var _ backend.Root = (*Root)(nil)

// New validates that base is an existing, readable directory and returns a
// root over it.
func New(base string) (*Root, error) {
	if base == "" {
		return nil, fmt.Errorf("external root path is required")
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("stat external root %s: %w", base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("external root %s is not a directory: %w", base, fs.ErrInvalid)
	}
	return &Root{base: base}, nil
}

// Kind returns backend.KindExternal.
func (r *Root) Kind() backend.Kind { return backend.KindExternal }

func (r *Root) fullPath(path string) string {
	return filepath.Join(r.base, filepath.FromSlash(path))
}

// EnsureDir creates the directory at path if missing. The parent must exist.
func (r *Root) EnsureDir(_ context.Context, path string) error {
	if path == "" {
		return nil
	}
	err := os.Mkdir(r.fullPath(path), 0755)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("ensure dir %s: %w", path, err)
	}
	return nil
}

// DirExists reports whether path is an existing directory.
func (r *Root) DirExists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(r.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

// FileExists reports whether path is an existing regular file.
func (r *Root) FileExists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(r.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

// ListDir returns the direct children of a directory.
func (r *Root) ListDir(_ context.Context, path string) ([]backend.Entry, error) {
	dirents, err := os.ReadDir(r.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	entries := make([]backend.Entry, 0, len(dirents))
	for _, d := range dirents {
		entries = append(entries, backend.Entry{Name: d.Name(), IsDir: d.IsDir()})
	}
	return entries, nil
}

// FileSize returns the on-disk size without reading content.
func (r *Root) FileSize(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(r.fullPath(path))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("stat %s: %w", path, fs.ErrNotExist)
	}
	return info.Size(), nil
}

// ReadFile returns the full content of a file.
func (r *Root) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(r.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile creates or fully replaces the file via temp-file-and-rename, so
// an interrupted write never leaves a half-written entry behind.
func (r *Root) WriteFile(_ context.Context, path string, data []byte) error {
	full := r.fullPath(path)
	dir := filepath.Dir(full)

	tmp, err := os.CreateTemp(dir, ".vfsd-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}

// RemoveFile deletes a single file entry.
func (r *Root) RemoveFile(_ context.Context, path string) error {
	if err := os.Remove(r.fullPath(path)); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// RemoveDir deletes a single, empty directory entry. A non-empty directory
// fails, which keeps subtree deletion on the engine's child-by-child walk.
func (r *Root) RemoveDir(_ context.Context, path string) error {
	if err := os.Remove(r.fullPath(path)); err != nil {
		return fmt.Errorf("remove dir %s: %w", path, err)
	}
	return nil
}

// Verify re-checks that the granted directory still exists and is listable.
func (r *Root) Verify(_ context.Context) error {
	info, err := os.Stat(r.base)
	if err != nil {
		return fmt.Errorf("verify external root %s: %w", r.base, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("verify external root %s: %w", r.base, fs.ErrNotExist)
	}
	if _, err := os.ReadDir(r.base); err != nil {
		return fmt.Errorf("verify external root %s: %w", r.base, err)
	}
	return nil
}

// Clear is refused: external directories are user-owned and may only shrink
// through explicit per-entry deletion.
func (r *Root) Clear(_ context.Context) error {
	return fmt.Errorf("clear external root %s: %w", r.base, backend.ErrNotClearable)
}

// Close is a no-op; the root holds no handles between operations.
func (r *Root) Close() error { return nil }
