package vfs

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/pkg/models"
)

// buildTreeLocked recursively lists the subtree at p, blacklist-filtered,
// with folders before files and each group sorted by key. The sort makes two
// snapshots of identical content serialize identically regardless of the
// backend's enumeration order.
func (e *Engine) buildTreeLocked(ctx context.Context, root backend.Root, p Path) ([]*models.TreeNode, error) {
	folders, files, err := e.listSortedLocked(ctx, root, p)
	if err != nil {
		return nil, err
	}

	nodes := []*models.TreeNode{}
	for _, name := range folders {
		child := p.Child(name)
		children, err := e.buildTreeLocked(ctx, root, child)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &models.TreeNode{
			Key:      child.String(),
			Title:    name,
			IsFolder: true,
			Children: children,
		})
	}
	for _, name := range files {
		child := p.Child(name)
		nodes = append(nodes, &models.TreeNode{
			Key:   child.String(),
			Title: name,
		})
	}
	return nodes, nil
}

// collectFilesLocked walks the subtree in snapshot order, reading every
// non-blacklisted file in full.
func (e *Engine) collectFilesLocked(ctx context.Context, root backend.Root, p Path, out *[]models.FileContent) error {
	folders, files, err := e.listSortedLocked(ctx, root, p)
	if err != nil {
		return err
	}
	for _, name := range folders {
		if err := e.collectFilesLocked(ctx, root, p.Child(name), out); err != nil {
			return err
		}
	}
	for _, name := range files {
		child := p.Child(name)
		content, err := root.ReadFile(ctx, child.String())
		if err != nil {
			return e.wrap("read", child.String(), err)
		}
		*out = append(*out, models.FileContent{Path: child.String(), Content: string(content)})
	}
	return nil
}

func (e *Engine) listSortedLocked(ctx context.Context, root backend.Root, p Path) (folders, files []string, err error) {
	entries, err := root.ListDir(ctx, p.String())
	if err != nil {
		return nil, nil, e.wrap("list", p.String(), err)
	}
	for _, entry := range entries {
		if e.blacklist.Contains(entry.Name) {
			continue
		}
		if entry.IsDir {
			folders = append(folders, entry.Name)
		} else {
			files = append(files, entry.Name)
		}
	}
	sort.Strings(folders)
	sort.Strings(files)
	return folders, files, nil
}

// SerializeTree renders a snapshot to its canonical byte form. Two snapshots
// are equal exactly when their serializations are byte-equal.
func SerializeTree(nodes []*models.TreeNode) ([]byte, error) {
	return json.Marshal(nodes)
}
