package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/pkg/models"
)

// Options configure an Engine.
type Options struct {
	// OpenSandbox opens the default sandboxed root. It is called at most
	// once, lazily, on the first operation that needs a root. Required.
	OpenSandbox func() (backend.Root, error)
	// Blacklist defaults to NewBlacklist() when nil.
	Blacklist Blacklist
	Logger    *zap.Logger
}

// Engine is the virtual filesystem engine. It owns the single active storage
// root and composes all multi-step tree operations from the root's
// single-entry primitives.
//
// All operations serialize on one mutex: no two filesystem operations run
// concurrently, and a watcher poll never observes a half-applied mutation. A
// long recursive move or delete therefore blocks later commands until it
// completes. Operations, once started, run to completion or failure; there
// is no mid-operation cancellation.
type Engine struct {
	mu          sync.Mutex
	active      backend.Root
	sandbox     backend.Root // opened lazily, owned by the engine
	openSandbox func() (backend.Root, error)
	blacklist   Blacklist
	log         *zap.Logger
}

// NewEngine creates an engine with no explicit root; the sandbox is resolved
// lazily so every operation is valid from process start.
func NewEngine(opts Options) *Engine {
	if opts.Blacklist == nil {
		opts.Blacklist = NewBlacklist()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		openSandbox: opts.OpenSandbox,
		blacklist:   opts.Blacklist,
		log:         opts.Logger,
	}
}

// SandboxRoot returns the engine-owned sandboxed root, opening it on first
// use.
func (e *Engine) SandboxRoot(ctx context.Context) (backend.Root, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sandboxLocked()
}

func (e *Engine) sandboxLocked() (backend.Root, error) {
	if e.sandbox != nil {
		return e.sandbox, nil
	}
	root, err := e.openSandbox()
	if err != nil {
		return nil, fmt.Errorf("open sandbox root: %w", err)
	}
	e.sandbox = root
	return root, nil
}

// rootLocked returns the active root, resolving the default sandbox lazily.
func (e *Engine) rootLocked() (backend.Root, error) {
	if e.active != nil {
		return e.active, nil
	}
	root, err := e.sandboxLocked()
	if err != nil {
		return nil, err
	}
	e.active = root
	return root, nil
}

// SetRoot replaces the active storage root. The swap takes effect for all
// subsequently dispatched operations. A replaced external root is closed;
// the sandbox stays open for the engine's lifetime.
func (e *Engine) SetRoot(ctx context.Context, root backend.Root) {
	e.mu.Lock()
	old := e.active
	e.active = root
	e.mu.Unlock()

	if old != nil && old != root && old.Kind() == backend.KindExternal {
		old.Close()
	}
	e.log.Info("storage root switched", zap.String("kind", string(root.Kind())))
}

// ActiveKind reports the kind of the active root without forcing the lazy
// sandbox open.
func (e *Engine) ActiveKind() backend.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return backend.KindSandbox
	}
	return e.active.Kind()
}

// Close releases the active external root (if any) and the sandbox store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	if e.active != nil && e.active != e.sandbox {
		if err := e.active.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.sandbox != nil {
		if err := e.sandbox.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.active = nil
	e.sandbox = nil
	return firstErr
}

// Clear wipes the sandbox. It is only legal while the sandbox is active:
// external directories are user-owned and may only shrink through explicit
// per-entry deletion.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return err
	}
	if root.Kind() != backend.KindSandbox {
		return fmt.Errorf("clear on %s root: %w", root.Kind(), ErrBackendNotClearable)
	}
	if err := root.Clear(ctx); err != nil {
		return e.wrap("clear", "", err)
	}
	e.log.Info("sandbox root cleared")
	return nil
}

// IsEmpty reports whether the root directory has no (non-blacklisted)
// entries.
func (e *Engine) IsEmpty(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return false, err
	}
	entries, err := root.ListDir(ctx, "")
	if err != nil {
		return false, e.wrap("list", "", err)
	}
	for _, entry := range entries {
		if !e.blacklist.Contains(entry.Name) {
			return false, nil
		}
	}
	return true, nil
}

// ReadFile returns the text content at path. With maxSize > 0, a stored size
// above the cap fails with ErrFileTooLarge before any content is read.
func (e *Engine) ReadFile(ctx context.Context, rawPath string, maxSize int64) (string, error) {
	p, err := ParsePath(rawPath)
	if err != nil {
		return "", err
	}
	if p.IsRoot() {
		return "", fmt.Errorf("read %q: %w", rawPath, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return "", err
	}
	if err := e.resolveFolder(ctx, root, p.Parent()); err != nil {
		return "", err
	}
	exists, err := root.FileExists(ctx, p.String())
	if err != nil {
		return "", e.wrap("read", p.String(), err)
	}
	if !exists {
		return "", fmt.Errorf("file %s: %w", p, ErrNotFound)
	}
	if maxSize > 0 {
		size, err := root.FileSize(ctx, p.String())
		if err != nil {
			return "", e.wrap("stat", p.String(), err)
		}
		if size > maxSize {
			return "", fmt.Errorf("file %s is %d bytes, cap %d: %w", p, size, maxSize, ErrFileTooLarge)
		}
	}
	data, err := root.ReadFile(ctx, p.String())
	if err != nil {
		return "", e.wrap("read", p.String(), err)
	}
	return string(data), nil
}

// CreateFile creates a file, applying the sibling uniqueness rule to the
// requested leaf name. Missing parent directories spring into existence.
// Returns the actual (possibly renamed) leaf name and full path.
func (e *Engine) CreateFile(ctx context.Context, rawPath, content string) (name, actualPath string, err error) {
	p, err := ParsePath(rawPath)
	if err != nil {
		return "", "", err
	}
	if p.IsRoot() {
		return "", "", fmt.Errorf("create file %q: %w", rawPath, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return "", "", err
	}
	actual, err := e.createFileLocked(ctx, root, p, []byte(content))
	if err != nil {
		return "", "", err
	}
	return actual.Leaf(), actual.String(), nil
}

func (e *Engine) createFileLocked(ctx context.Context, root backend.Root, p Path, content []byte) (Path, error) {
	parent := p.Parent()
	if err := e.resolveFolder(ctx, root, parent); err != nil {
		return Path{}, err
	}
	name, err := e.uniqueName(ctx, root, parent, p.Leaf())
	if err != nil {
		return Path{}, err
	}
	actual := parent.Child(name)
	if err := root.WriteFile(ctx, actual.String(), content); err != nil {
		return Path{}, e.wrap("create file", actual.String(), err)
	}
	return actual, nil
}

// WriteFile fully replaces the content of an existing file. A missing file
// is an error, not a silent no-op.
func (e *Engine) WriteFile(ctx context.Context, rawPath, content string) error {
	p, err := ParsePath(rawPath)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("write %q: %w", rawPath, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return err
	}
	if err := e.resolveFolder(ctx, root, p.Parent()); err != nil {
		return err
	}
	exists, err := root.FileExists(ctx, p.String())
	if err != nil {
		return e.wrap("write", p.String(), err)
	}
	if !exists {
		return fmt.Errorf("file %s: %w", p, ErrNotFound)
	}
	if err := root.WriteFile(ctx, p.String(), []byte(content)); err != nil {
		return e.wrap("write", p.String(), err)
	}
	return nil
}

// CreateFolder creates a folder with the same uniqueness treatment as
// CreateFile. Returns the actual folder name.
func (e *Engine) CreateFolder(ctx context.Context, rawPath string) (string, error) {
	p, err := ParsePath(rawPath)
	if err != nil {
		return "", err
	}
	if p.IsRoot() {
		return "", fmt.Errorf("create folder %q: %w", rawPath, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return "", err
	}
	actual, err := e.createFolderLocked(ctx, root, p)
	if err != nil {
		return "", err
	}
	return actual.Leaf(), nil
}

func (e *Engine) createFolderLocked(ctx context.Context, root backend.Root, p Path) (Path, error) {
	parent := p.Parent()
	if err := e.resolveFolder(ctx, root, parent); err != nil {
		return Path{}, err
	}
	name, err := e.uniqueName(ctx, root, parent, p.Leaf())
	if err != nil {
		return Path{}, err
	}
	actual := parent.Child(name)
	if err := root.EnsureDir(ctx, actual.String()); err != nil {
		return Path{}, e.wrap("create folder", actual.String(), err)
	}
	return actual, nil
}

// DeleteFile removes a single file.
func (e *Engine) DeleteFile(ctx context.Context, rawPath string) error {
	p, err := ParsePath(rawPath)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("delete %q: %w", rawPath, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return err
	}
	if err := e.verifyDestructive(ctx, root); err != nil {
		return err
	}
	exists, err := root.FileExists(ctx, p.String())
	if err != nil {
		return e.wrap("delete", p.String(), err)
	}
	if !exists {
		return fmt.Errorf("file %s: %w", p, ErrNotFound)
	}
	if err := root.RemoveFile(ctx, p.String()); err != nil {
		return e.wrap("delete", p.String(), err)
	}
	return nil
}

// DeleteFolder removes a folder and everything under it, child files first,
// then child folders recursively, then the now-empty directory entry. The
// walk is best-effort: a mid-sequence failure leaves the completed prefix
// deleted with no rollback.
func (e *Engine) DeleteFolder(ctx context.Context, rawPath string) error {
	p, err := ParsePath(rawPath)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("delete folder %q: %w", rawPath, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return err
	}
	if err := e.verifyDestructive(ctx, root); err != nil {
		return err
	}
	exists, err := root.DirExists(ctx, p.String())
	if err != nil {
		return e.wrap("delete folder", p.String(), err)
	}
	if !exists {
		return fmt.Errorf("folder %s: %w", p, ErrNotFound)
	}
	return e.deleteFolderLocked(ctx, root, p)
}

// deleteFolderLocked walks the raw (unfiltered) listing: blacklisted entries
// are hidden from every reported enumeration, but a delete must remove them
// or the parent entry could never be emptied.
func (e *Engine) deleteFolderLocked(ctx context.Context, root backend.Root, p Path) error {
	entries, err := root.ListDir(ctx, p.String())
	if err != nil {
		return e.wrap("list", p.String(), err)
	}
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		child := p.Child(entry.Name)
		if err := root.RemoveFile(ctx, child.String()); err != nil {
			return e.wrap("delete", child.String(), err)
		}
	}
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		if err := e.deleteFolderLocked(ctx, root, p.Child(entry.Name)); err != nil {
			return err
		}
	}
	if err := root.RemoveDir(ctx, p.String()); err != nil {
		return e.wrap("delete folder", p.String(), err)
	}
	return nil
}

// MoveFile relocates a file by copy-then-delete: the backends expose no
// cross-directory rename. Non-atomic: an interruption between the create and
// the delete can leave both copies transiently present.
func (e *Engine) MoveFile(ctx context.Context, rawSrc, rawDest string) error {
	src, err := ParsePath(rawSrc)
	if err != nil {
		return err
	}
	dest, err := ParsePath(rawDest)
	if err != nil {
		return err
	}
	if src.IsRoot() || dest.IsRoot() {
		return fmt.Errorf("move %q -> %q: %w", rawSrc, rawDest, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return err
	}
	if err := e.verifyDestructive(ctx, root); err != nil {
		return err
	}
	return e.moveFileLocked(ctx, root, src, dest)
}

func (e *Engine) moveFileLocked(ctx context.Context, root backend.Root, src, dest Path) error {
	exists, err := root.FileExists(ctx, src.String())
	if err != nil {
		return e.wrap("move", src.String(), err)
	}
	if !exists {
		return fmt.Errorf("file %s: %w", src, ErrNotFound)
	}
	content, err := root.ReadFile(ctx, src.String())
	if err != nil {
		return e.wrap("move", src.String(), err)
	}
	if _, err := e.createFileLocked(ctx, root, dest, content); err != nil {
		return err
	}
	if err := root.RemoveFile(ctx, src.String()); err != nil {
		return e.wrap("move", src.String(), err)
	}
	return nil
}

// MoveFolder relocates a whole subtree: create the destination folder, move
// child files, recurse into child folders, and delete the source only after
// all children have been relocated. Best-effort, like DeleteFolder: no
// rollback on mid-sequence failure.
func (e *Engine) MoveFolder(ctx context.Context, rawSrc, rawDest string) error {
	src, err := ParsePath(rawSrc)
	if err != nil {
		return err
	}
	dest, err := ParsePath(rawDest)
	if err != nil {
		return err
	}
	if src.IsRoot() || dest.IsRoot() {
		return fmt.Errorf("move %q -> %q: %w", rawSrc, rawDest, ErrInvalidPath)
	}
	// Moving a folder into its own subtree would recurse forever.
	if strings.HasPrefix(dest.String()+"/", src.String()+"/") {
		return fmt.Errorf("move %s into itself: %w", src, ErrInvalidPath)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return err
	}
	if err := e.verifyDestructive(ctx, root); err != nil {
		return err
	}
	exists, err := root.DirExists(ctx, src.String())
	if err != nil {
		return e.wrap("move folder", src.String(), err)
	}
	if !exists {
		return fmt.Errorf("folder %s: %w", src, ErrNotFound)
	}
	return e.moveFolderLocked(ctx, root, src, dest)
}

func (e *Engine) moveFolderLocked(ctx context.Context, root backend.Root, src, dest Path) error {
	actual, err := e.createFolderLocked(ctx, root, dest)
	if err != nil {
		return err
	}
	entries, err := root.ListDir(ctx, src.String())
	if err != nil {
		return e.wrap("list", src.String(), err)
	}
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if err := e.moveFileLocked(ctx, root, src.Child(entry.Name), actual.Child(entry.Name)); err != nil {
			return err
		}
	}
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		if err := e.moveFolderLocked(ctx, root, src.Child(entry.Name), actual.Child(entry.Name)); err != nil {
			return err
		}
	}
	return e.deleteFolderLocked(ctx, root, src)
}

// FileTree returns the sorted, blacklist-filtered snapshot of the subtree at
// rawPath ("" for the whole root).
func (e *Engine) FileTree(ctx context.Context, rawPath string) ([]*models.TreeNode, error) {
	p, err := ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	// Blacklisted entries are invisible to every enumeration, including as
	// the requested subtree root.
	for _, seg := range p.Segments() {
		if e.blacklist.Contains(seg) {
			return nil, fmt.Errorf("folder %s: %w", p, ErrNotFound)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return nil, err
	}
	if !p.IsRoot() {
		exists, err := root.DirExists(ctx, p.String())
		if err != nil {
			return nil, e.wrap("list", p.String(), err)
		}
		if !exists {
			return nil, fmt.Errorf("folder %s: %w", p, ErrNotFound)
		}
	}
	return e.buildTreeLocked(ctx, root, p)
}

// AllFiles returns every (non-blacklisted) file with its full content, in
// snapshot order.
func (e *Engine) AllFiles(ctx context.Context) ([]models.FileContent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	root, err := e.rootLocked()
	if err != nil {
		return nil, err
	}
	files := []models.FileContent{}
	if err := e.collectFilesLocked(ctx, root, Path{}, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// resolveFolder walks the segments from the root, creating missing
// directories as it goes. Several operations assume parent directories
// spring into existence on first use.
func (e *Engine) resolveFolder(ctx context.Context, root backend.Root, p Path) error {
	walked := Path{}
	for _, seg := range p.Segments() {
		walked = walked.Child(seg)
		if err := root.EnsureDir(ctx, walked.String()); err != nil {
			return e.wrap("resolve", walked.String(), err)
		}
	}
	return nil
}

// verifyDestructive re-checks an external root's grant before any operation
// that removes entries. The sandbox needs no re-verification.
func (e *Engine) verifyDestructive(ctx context.Context, root backend.Root) error {
	if root.Kind() != backend.KindExternal {
		return nil
	}
	if err := root.Verify(ctx); err != nil {
		return fmt.Errorf("external root: %v: %w", err, ErrPermissionDenied)
	}
	return nil
}

// wrap classifies backend errors into the operation-level taxonomy.
func (e *Engine) wrap(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w", op, path, ErrPermissionDenied)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

var nameSuffixRE = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// uniqueName returns a sibling name guaranteed not to collide in parent,
// comparing case-insensitively. On collision the trailing "(n)" increments;
// a name without one gets " (1)" appended. The loop terminates because every
// increment changes the probed name and the sibling set is finite.
func (e *Engine) uniqueName(ctx context.Context, root backend.Root, parent Path, desired string) (string, error) {
	entries, err := root.ListDir(ctx, parent.String())
	if err != nil {
		return "", e.wrap("list", parent.String(), err)
	}
	taken := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		taken[strings.ToLower(entry.Name)] = struct{}{}
	}

	name := desired
	for {
		if _, collides := taken[strings.ToLower(name)]; !collides {
			return name, nil
		}
		name = bumpName(name)
	}
}

func bumpName(name string) string {
	if m := nameSuffixRE.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return m[1] + "(" + strconv.Itoa(n+1) + ")"
		}
	}
	return name + " (1)"
}
