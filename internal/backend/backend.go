// Package backend defines the storage root abstraction beneath the
// filesystem engine and provides construction of the two root kinds.
package backend

import (
	"context"
	"errors"
)

// Kind identifies who owns a storage root.
type Kind string

const (
	// KindSandbox is the engine-exclusive store: always available, always
	// writable, wiped only by an explicit clear.
	KindSandbox Kind = "sandbox"
	// KindExternal is a user-granted directory: access can be revoked at any
	// time and must be re-verified before destructive operations.
	KindExternal Kind = "external"
)

// ErrNotClearable is returned when Clear is attempted on a root the engine
// does not own.
var ErrNotClearable = errors.New("storage root is not clearable")

// Entry is a single directory listing entry.
type Entry struct {
	Name  string
	IsDir bool
}

// Root is a directory tree owned by exactly one backend kind.
//
// All operations are single-entry primitives addressed by slash-delimited
// paths relative to the root ("" is the root itself). There is no rename and
// no recursive remove: subtree moves and deletes are composed by the engine
// from these primitives. Implementations resolve paths per call and must not
// assume anything survives between calls; external roots can change or lose
// permission in the interim.
//
// Missing entries surface as io/fs.ErrNotExist, revoked access as
// io/fs.ErrPermission (both wrapped), so callers can errors.Is across kinds.
type Root interface {
	Kind() Kind

	// EnsureDir creates the directory at path if it does not exist. The
	// parent must already exist.
	EnsureDir(ctx context.Context, path string) error

	// DirExists and FileExists report existence of the exact entry kind.
	DirExists(ctx context.Context, path string) (bool, error)
	FileExists(ctx context.Context, path string) (bool, error)

	// ListDir returns the direct children of a directory, in no particular
	// order. Ordering is the caller's concern.
	ListDir(ctx context.Context, path string) ([]Entry, error)

	// FileSize returns the stored size without reading content.
	FileSize(ctx context.Context, path string) (int64, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates the file or fully replaces its content.
	WriteFile(ctx context.Context, path string, data []byte) error

	RemoveFile(ctx context.Context, path string) error

	// RemoveDir removes a single, empty directory entry.
	RemoveDir(ctx context.Context, path string) error

	// Verify re-checks that the root is still reachable. A sandbox root
	// always verifies; an external root fails once the grant is revoked.
	Verify(ctx context.Context) error

	// Clear wipes the whole tree. Only the sandbox supports it; every other
	// root returns ErrNotClearable.
	Clear(ctx context.Context) error

	Close() error
}
