// Package client is a Go client for the vfsd websocket transport. It matches
// requests to responses by id, so calls from multiple goroutines may be in
// flight at once, and surfaces unsolicited change pushes on Events.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codedesk/vfsd/pkg/models"
	"github.com/codedesk/vfsd/pkg/protocol"
	"github.com/codedesk/vfsd/pkg/retry"
)

const defaultHandshakeTimeout = 10 * time.Second

// Options configure a client connection.
type Options struct {
	// URL of the command channel, e.g. ws://localhost:8731/ws. Required.
	URL string
	// AuthToken is sent as a bearer token when the server requires one.
	AuthToken string
	// Retry governs connection attempts. Zero value uses retry.DefaultConfig.
	Retry retry.Config
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration
}

// Client is a connected transport client.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response

	events    chan []*models.TreeNode
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a vfsd server, retrying with backoff on transient dial
// failures.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("client: URL is required")
	}
	if opts.Retry == (retry.Config{}) {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	header := http.Header{}
	if opts.AuthToken != "" {
		header.Set("Authorization", "Bearer "+opts.AuthToken)
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}

	conn, err := retry.DoWithResult(ctx, opts.Retry, func() (*websocket.Conn, error) {
		c, resp, err := dialer.DialContext(ctx, opts.URL, header)
		if err != nil {
			// Auth rejections will not heal on retry.
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("dial %s: unauthorized", opts.URL)
			}
			return nil, retry.Retryable(fmt.Errorf("dial %s: %w", opts.URL, err))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.Response),
		events:  make(chan []*models.TreeNode, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of unsolicited tree snapshots pushed by the
// server's change watcher. Snapshots are dropped if the consumer falls
// behind.
func (c *Client) Events() <-chan []*models.TreeNode {
	return c.events
}

// Close shuts the connection down. In-flight calls fail with a closed
// connection error.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var resp protocol.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return
		}

		if resp.Type == protocol.EventFileSystemChanged {
			var tree []*models.TreeNode
			if err := json.Unmarshal(resp.Data, &tree); err != nil {
				continue
			}
			select {
			case c.events <- tree:
			default:
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call sends one request and waits for its matching response.
func (c *Client) call(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: encode payload: %w", op, err)
		}
		data = raw
	}

	id := uuid.NewString()
	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(protocol.Request{ID: id, Type: op, Data: data})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	select {
	case resp := <-ch:
		if strings.HasSuffix(resp.Type, protocol.ErrorSuffix) {
			return nil, fmt.Errorf("%s: %s", op, resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("%s: connection closed", op)
	}
}

func (c *Client) callInto(ctx context.Context, op string, payload, out any) error {
	data, err := c.call(ctx, op, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}

// SetRootHandle activates a storage root on the server.
func (c *Client) SetRootHandle(ctx context.Context, handle protocol.RootHandle) error {
	return c.callInto(ctx, protocol.OpSetRootHandle, protocol.SetRootHandleRequest{Handle: handle}, nil)
}

// Clear wipes the sandboxed root.
func (c *Client) Clear(ctx context.Context) error {
	return c.callInto(ctx, protocol.OpClear, nil, nil)
}

// IsEmpty reports whether the active root has no visible entries.
func (c *Client) IsEmpty(ctx context.Context) (bool, error) {
	var empty bool
	err := c.callInto(ctx, protocol.OpIsEmpty, nil, &empty)
	return empty, err
}

// ReadFile returns the content at path. maxSize of 0 means unlimited.
func (c *Client) ReadFile(ctx context.Context, path string, maxSize int64) (string, error) {
	var content string
	err := c.callInto(ctx, protocol.OpReadFile, protocol.ReadFileRequest{Path: path, MaxSize: maxSize}, &content)
	return content, err
}

// CreateFile creates a file and reports the actual name and path after the
// uniqueness rule.
func (c *Client) CreateFile(ctx context.Context, path, content string) (protocol.CreateFileResult, error) {
	var result protocol.CreateFileResult
	err := c.callInto(ctx, protocol.OpCreateFile, protocol.CreateFileRequest{Path: path, Content: content}, &result)
	return result, err
}

// WriteFile replaces the content of an existing file.
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	return c.callInto(ctx, protocol.OpWriteFile, protocol.WriteFileRequest{Path: path, Content: content}, nil)
}

// DeleteFile removes a single file.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.callInto(ctx, protocol.OpDeleteFile, protocol.PathRequest{Path: path}, nil)
}

// CreateFolder creates a folder and reports its actual name.
func (c *Client) CreateFolder(ctx context.Context, path string) (string, error) {
	var result protocol.CreateFolderResult
	err := c.callInto(ctx, protocol.OpCreateFolder, protocol.PathRequest{Path: path}, &result)
	return result.Name, err
}

// DeleteFolder removes a folder and everything under it.
func (c *Client) DeleteFolder(ctx context.Context, path string) error {
	return c.callInto(ctx, protocol.OpDeleteFolder, protocol.PathRequest{Path: path}, nil)
}

// MoveFile relocates a file.
func (c *Client) MoveFile(ctx context.Context, src, dest string) error {
	return c.callInto(ctx, protocol.OpMoveFile, protocol.MoveRequest{Src: src, Dest: dest}, nil)
}

// MoveFolder relocates a whole subtree.
func (c *Client) MoveFolder(ctx context.Context, src, dest string) error {
	return c.callInto(ctx, protocol.OpMoveFolder, protocol.MoveRequest{Src: src, Dest: dest}, nil)
}

// FileTree returns the snapshot of the subtree at path ("" for the root).
func (c *Client) FileTree(ctx context.Context, path string) ([]*models.TreeNode, error) {
	var tree []*models.TreeNode
	err := c.callInto(ctx, protocol.OpGetFileTree, protocol.TreeRequest{Path: path}, &tree)
	return tree, err
}

// AllFiles returns every visible file with its content.
func (c *Client) AllFiles(ctx context.Context) ([]models.FileContent, error) {
	var files []models.FileContent
	err := c.callInto(ctx, protocol.OpGetAllFiles, nil, &files)
	return files, err
}
