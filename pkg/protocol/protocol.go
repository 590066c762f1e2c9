// Package protocol defines the message envelope and operation catalogue for
// the filesystem engine's websocket transport.
//
// Every request carries an id, an operation name, and an operation-specific
// payload. The engine answers with "<op>:result" or "<op>:error" keyed by the
// same id. The change watcher additionally pushes unsolicited
// "fileSystemChanged" messages with no id.
package protocol

import (
	"encoding/json"

	"github.com/codedesk/vfsd/pkg/models"
)

// Operation names accepted by the dispatcher.
const (
	OpSetRootHandle = "setRootHandle"
	OpClear         = "clear"
	OpIsEmpty       = "isEmpty"
	OpReadFile      = "readFile"
	OpCreateFile    = "createFile"
	OpWriteFile     = "writeFile"
	OpDeleteFile    = "deleteFile"
	OpCreateFolder  = "createFolder"
	OpDeleteFolder  = "deleteFolder"
	OpMoveFile      = "moveFile"
	OpMoveFolder    = "moveFolder"
	OpGetFileTree   = "getFileTree"
	OpGetAllFiles   = "getAllFiles"
)

// EventFileSystemChanged is pushed without a request id whenever the change
// watcher detects an externally introduced change. Its data is the new
// snapshot ([]*models.TreeNode).
const EventFileSystemChanged = "fileSystemChanged"

// Response type suffixes.
const (
	ResultSuffix = ":result"
	ErrorSuffix  = ":error"
)

// Request is an inbound command frame.
type Request struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is an outbound frame: an operation result, an operation error, or
// an unsolicited push (no ID).
type Response struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Root handle kinds.
const (
	RootKindSandbox  = "sandbox"
	RootKindExternal = "external"
)

// RootHandle identifies a storage root to activate. Path is only meaningful
// for external roots and must be an absolute directory path.
type RootHandle struct {
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
}

// SetRootHandleRequest is the payload for setRootHandle.
type SetRootHandleRequest struct {
	Handle RootHandle `json:"handle"`
}

// ReadFileRequest is the payload for readFile. MaxSize of 0 means unlimited;
// a stored size above MaxSize fails without reading content.
type ReadFileRequest struct {
	Path    string `json:"path"`
	MaxSize int64  `json:"maxSize,omitempty"`
}

// CreateFileRequest is the payload for createFile.
type CreateFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// CreateFileResult reports the actual leaf name and full path after the
// uniqueness rule has been applied.
type CreateFileResult struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// WriteFileRequest is the payload for writeFile.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PathRequest is the payload for deleteFile, createFolder and deleteFolder.
type PathRequest struct {
	Path string `json:"path"`
}

// CreateFolderResult reports the actual folder name after uniqueness.
type CreateFolderResult struct {
	Name string `json:"name"`
}

// MoveRequest is the payload for moveFile and moveFolder.
type MoveRequest struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// TreeRequest is the payload for getFileTree. An empty path means the root.
type TreeRequest struct {
	Path string `json:"path,omitempty"`
}

// Result re-exports for transport consumers.
type (
	TreeNode    = models.TreeNode
	FileContent = models.FileContent
)
