package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/internal/backend/sandbox"
	"github.com/codedesk/vfsd/internal/config"
	"github.com/codedesk/vfsd/internal/events"
	"github.com/codedesk/vfsd/internal/server"
	"github.com/codedesk/vfsd/internal/vfs"
	"github.com/codedesk/vfsd/pkg/client"
	"github.com/codedesk/vfsd/pkg/protocol"
	"github.com/codedesk/vfsd/pkg/retry"
)

func startServer(t *testing.T) (string, *events.Broadcaster) {
	t.Helper()

	cfg := &config.Config{MaxMessageSize: 32 << 20}
	dir := t.TempDir()
	engine := vfs.NewEngine(vfs.Options{
		OpenSandbox: func() (backend.Root, error) {
			return sandbox.New(sandbox.Config{Dir: dir})
		},
	})
	t.Cleanup(func() { engine.Close() })

	broadcaster := events.NewBroadcaster()
	watcher := vfs.NewWatcher(engine, broadcaster, time.Second, nil)
	srv := server.New(cfg, engine, watcher, broadcaster, zap.NewNop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", broadcaster
}

func TestClientEndToEnd(t *testing.T) {
	url, _ := startServer(t)
	ctx := context.Background()

	c, err := client.Dial(ctx, client.Options{URL: url})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.SetRootHandle(ctx, protocol.RootHandle{Kind: protocol.RootKindSandbox}); err != nil {
		t.Fatal(err)
	}

	created, err := c.CreateFile(ctx, "src/app.py", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if created.Path != "src/app.py" {
		t.Fatalf("created path = %q", created.Path)
	}

	// Second create with the same name gets the suffix.
	again, err := c.CreateFile(ctx, "src/app.py", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "app.py (1)" {
		t.Fatalf("renamed to %q, want %q", again.Name, "app.py (1)")
	}

	content, err := c.ReadFile(ctx, "src/app.py", 0)
	if err != nil {
		t.Fatal(err)
	}
	if content != "pass" {
		t.Fatalf("content = %q", content)
	}

	if err := c.WriteFile(ctx, "src/app.py", "print(1)"); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveFile(ctx, "src/app.py", "main.py"); err != nil {
		t.Fatal(err)
	}

	tree, err := c.FileTree(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) == 0 {
		t.Fatal("expected non-empty tree")
	}

	folder, err := c.CreateFolder(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if folder != "docs" {
		t.Fatalf("folder = %q", folder)
	}
	if err := c.MoveFolder(ctx, "docs", "archive"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteFolder(ctx, "archive"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteFile(ctx, "main.py"); err != nil {
		t.Fatal(err)
	}

	files, err := c.AllFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Path != "src/app.py (1)" {
		t.Fatalf("AllFiles = %+v", files)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	empty, err := c.IsEmpty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatal("expected empty root after clear")
	}

	// Deep subtree relocation over the transport.
	if _, err := c.CreateFile(ctx, "a/b/c.txt", "deep"); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveFolder(ctx, "a", "x"); err != nil {
		t.Fatal(err)
	}
	moved, err := c.ReadFile(ctx, "x/b/c.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if moved != "deep" {
		t.Fatalf("content = %q, want %q", moved, "deep")
	}
}

func TestClientServerErrors(t *testing.T) {
	url, _ := startServer(t)
	ctx := context.Background()

	c, err := client.Dial(ctx, client.Options{URL: url})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.ReadFile(ctx, "missing.txt", 0); err == nil {
		t.Fatal("expected error for missing file")
	}
	if err := c.SetRootHandle(ctx, protocol.RootHandle{Kind: "floppy"}); err == nil {
		t.Fatal("expected error for unknown root kind")
	}
}

func TestClientReceivesPushes(t *testing.T) {
	url, broadcaster := startServer(t)
	ctx := context.Background()

	c, err := client.Dial(ctx, client.Options{URL: url})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// One round trip guarantees the server session is subscribed.
	if _, err := c.IsEmpty(ctx); err != nil {
		t.Fatal(err)
	}

	broadcaster.Publish([]*protocol.TreeNode{{Key: "external.txt", Title: "external.txt"}})

	select {
	case tree := <-c.Events():
		if len(tree) != 1 || tree[0].Key != "external.txt" {
			t.Fatalf("tree = %+v", tree)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for push")
	}
}

func TestClientDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Dial(ctx, client.Options{
		URL: "ws://127.0.0.1:1/ws",
		Retry: retry.Config{
			MaxAttempts: 2,
			InitialWait: 10 * time.Millisecond,
			MaxWait:     50 * time.Millisecond,
			Multiplier:  2,
		},
	})
	if err == nil {
		t.Fatal("expected dial failure")
	}
}
