// Package models contains wire types shared by the server and clients.
package models

// TreeNode is one entry in a filesystem snapshot. Key is the full virtual
// path, Title the entry name. Children is nil for files and non-nil (possibly
// empty) for folders. Snapshots are sorted with folders before files, each
// group by key, so two snapshots of identical content serialize identically.
type TreeNode struct {
	Key      string      `json:"key"`
	Title    string      `json:"title"`
	IsFolder bool        `json:"isFolder"`
	Children []*TreeNode `json:"children"`
}

// FileContent pairs a virtual path with its full text content. Returned by
// the getAllFiles operation for consumers that mirror the whole tree.
type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
