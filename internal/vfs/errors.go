package vfs

import "errors"

// Operation-level errors. The dispatcher turns these into typed error
// responses; they never escape as panics.
var (
	// ErrNotFound means the path does not resolve to the expected entry kind.
	ErrNotFound = errors.New("not found")

	// ErrFileTooLarge means a read exceeded the caller-supplied size cap.
	// The cap is checked against the stored size before any content is read.
	ErrFileTooLarge = errors.New("file too large")

	// ErrBackendNotClearable means clear was attempted while an external
	// root is active.
	ErrBackendNotClearable = errors.New("backend not clearable")

	// ErrPermissionDenied means the external root's grant has been revoked.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidPath means a path contained an empty, "." or ".." segment.
	ErrInvalidPath = errors.New("invalid path")
)
