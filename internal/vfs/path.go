// Package vfs implements the virtual filesystem engine: path resolution with
// create-on-traverse, sibling-name uniqueness, file/folder CRUD, recursive
// subtree move/delete composed from single-entry primitives, deterministic
// tree snapshots, and the polling change watcher.
package vfs

import (
	"fmt"
	"strings"
)

// Path is an immutable slash-delimited virtual path: an ordered sequence of
// non-empty name segments. The zero value is the root.
type Path struct {
	segments []string
}

// ParsePath validates and splits a raw path. Leading, trailing and repeated
// slashes are tolerated; empty, "." and ".." segments are not.
func ParsePath(raw string) (Path, error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return Path{}, nil
	}
	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return Path{}, fmt.Errorf("path %q: segment %q: %w", raw, seg, ErrInvalidPath)
		}
	}
	return Path{segments: segments}, nil
}

// String returns the canonical slash-delimited form ("" for the root).
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// IsRoot reports whether the path has no segments.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Leaf returns the last segment, or "" for the root.
func (p Path) Leaf() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with the leaf removed. The root's parent is the
// root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return Path{}
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Child returns the path extended by one name segment.
func (p Path) Child(name string) Path {
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	segments = append(segments, name)
	return Path{segments: segments}
}

// Segments returns a copy of the segment sequence.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// DefaultBlacklist holds the names that are never traversed, listed, or
// snapshotted: dependency, build, cache and version-control directories.
var DefaultBlacklist = []string{
	"node_modules",
	".git",
	"dist",
	"build",
	"__pycache__",
	".venv",
	"coverage",
}

// Blacklist is a fixed set of excluded entry names.
type Blacklist map[string]struct{}

// NewBlacklist returns the default blacklist extended with extra names.
func NewBlacklist(extra ...string) Blacklist {
	b := make(Blacklist, len(DefaultBlacklist)+len(extra))
	for _, name := range DefaultBlacklist {
		b[name] = struct{}{}
	}
	for _, name := range extra {
		if name != "" {
			b[name] = struct{}{}
		}
	}
	return b
}

// Contains reports whether name is excluded.
func (b Blacklist) Contains(name string) bool {
	_, ok := b[name]
	return ok
}
