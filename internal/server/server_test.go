package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/internal/backend/sandbox"
	"github.com/codedesk/vfsd/internal/config"
	"github.com/codedesk/vfsd/internal/events"
	"github.com/codedesk/vfsd/internal/vfs"
	"github.com/codedesk/vfsd/pkg/models"
	"github.com/codedesk/vfsd/pkg/protocol"
)

func newTestServer(t *testing.T, authToken string) (*httptest.Server, *events.Broadcaster) {
	t.Helper()
	return newTestServerWithConfig(t, &config.Config{
		AuthToken:      authToken,
		MaxMessageSize: 32 << 20,
	})
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) (*httptest.Server, *events.Broadcaster) {
	t.Helper()

	dir := t.TempDir()
	engine := vfs.NewEngine(vfs.Options{
		OpenSandbox: func() (backend.Root, error) {
			return sandbox.New(sandbox.Config{Dir: dir})
		},
	})
	t.Cleanup(func() { engine.Close() })

	broadcaster := events.NewBroadcaster()
	watcher := vfs.NewWatcher(engine, broadcaster, time.Second, nil)
	srv := New(cfg, engine, watcher, broadcaster, zap.NewNop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, broadcaster
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip sends one request and reads frames until the matching response,
// skipping unsolicited pushes.
func roundTrip(t *testing.T, conn *websocket.Conn, id, op string, payload any) protocol.Response {
	t.Helper()

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		data = raw
	}
	if err := conn.WriteJSON(protocol.Request{ID: id, Type: op, Data: data}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var resp protocol.Response
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Type == protocol.EventFileSystemChanged {
			continue
		}
		if resp.ID != id {
			t.Fatalf("response id = %q, want %q", resp.ID, id)
		}
		return resp
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDispatchCreateReadClear(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialWS(t, ts, "")

	resp := roundTrip(t, conn, "1", protocol.OpSetRootHandle, protocol.SetRootHandleRequest{
		Handle: protocol.RootHandle{Kind: protocol.RootKindSandbox},
	})
	if resp.Type != protocol.OpSetRootHandle+protocol.ResultSuffix {
		t.Fatalf("type = %q, error = %q", resp.Type, resp.Error)
	}

	resp = roundTrip(t, conn, "2", protocol.OpCreateFile, protocol.CreateFileRequest{
		Path: "main.py", Content: "print('hi')",
	})
	if resp.Type != protocol.OpCreateFile+protocol.ResultSuffix {
		t.Fatalf("type = %q, error = %q", resp.Type, resp.Error)
	}
	var created protocol.CreateFileResult
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		t.Fatal(err)
	}
	if created.Name != "main.py" || created.Path != "main.py" {
		t.Fatalf("created = %+v", created)
	}

	resp = roundTrip(t, conn, "3", protocol.OpReadFile, protocol.ReadFileRequest{Path: "main.py"})
	var content string
	if err := json.Unmarshal(resp.Data, &content); err != nil {
		t.Fatal(err)
	}
	if content != "print('hi')" {
		t.Fatalf("content = %q", content)
	}

	resp = roundTrip(t, conn, "4", protocol.OpGetFileTree, nil)
	var tree []*models.TreeNode
	if err := json.Unmarshal(resp.Data, &tree); err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || tree[0].Key != "main.py" {
		t.Fatalf("tree = %+v", tree)
	}

	resp = roundTrip(t, conn, "5", protocol.OpClear, nil)
	if resp.Type != protocol.OpClear+protocol.ResultSuffix {
		t.Fatalf("type = %q, error = %q", resp.Type, resp.Error)
	}

	resp = roundTrip(t, conn, "6", protocol.OpIsEmpty, nil)
	var empty bool
	if err := json.Unmarshal(resp.Data, &empty); err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatal("expected empty root after clear")
	}
}

func TestDispatchErrors(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialWS(t, ts, "")

	resp := roundTrip(t, conn, "1", protocol.OpReadFile, protocol.ReadFileRequest{Path: "missing.txt"})
	if resp.Type != protocol.OpReadFile+protocol.ErrorSuffix {
		t.Fatalf("type = %q, want error suffix", resp.Type)
	}
	if resp.Error == "" {
		t.Fatal("expected error message")
	}

	resp = roundTrip(t, conn, "2", "formatDisk", nil)
	if resp.Type != "formatDisk"+protocol.ErrorSuffix {
		t.Fatalf("type = %q, want formatDisk:error", resp.Type)
	}
	if !strings.Contains(resp.Error, "unknown operation") {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestAuthToken(t *testing.T) {
	ts, _ := newTestServer(t, "hunter2")

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(u, nil); err == nil {
		t.Fatal("expected dial failure without token")
	}
	if _, _, err := websocket.DefaultDialer.Dial(u+"?token=wrong", nil); err == nil {
		t.Fatal("expected dial failure with wrong token")
	}

	conn := dialWS(t, ts, "?token=hunter2")
	resp := roundTrip(t, conn, "1", protocol.OpIsEmpty, nil)
	if resp.Type != protocol.OpIsEmpty+protocol.ResultSuffix {
		t.Fatalf("type = %q, error = %q", resp.Type, resp.Error)
	}

	// Bearer header works too.
	header := http.Header{}
	header.Set("Authorization", "Bearer hunter2")
	hconn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatal(err)
	}
	hconn.Close()
}

func TestDefaultReadCap(t *testing.T) {
	ts, _ := newTestServerWithConfig(t, &config.Config{
		MaxMessageSize: 32 << 20,
		MaxReadSize:    4,
	})
	conn := dialWS(t, ts, "")

	roundTrip(t, conn, "1", protocol.OpCreateFile, protocol.CreateFileRequest{
		Path: "big.txt", Content: "more than four bytes",
	})

	// No explicit maxSize: the server default applies.
	resp := roundTrip(t, conn, "2", protocol.OpReadFile, protocol.ReadFileRequest{Path: "big.txt"})
	if resp.Type != protocol.OpReadFile+protocol.ErrorSuffix {
		t.Fatalf("type = %q, want error suffix", resp.Type)
	}

	// An explicit cap overrides the default.
	resp = roundTrip(t, conn, "3", protocol.OpReadFile, protocol.ReadFileRequest{Path: "big.txt", MaxSize: 1 << 20})
	if resp.Type != protocol.OpReadFile+protocol.ResultSuffix {
		t.Fatalf("type = %q, error = %q", resp.Type, resp.Error)
	}
}

func TestPushEvents(t *testing.T) {
	ts, broadcaster := newTestServer(t, "")
	conn := dialWS(t, ts, "")

	// Make sure the session is subscribed before publishing.
	roundTrip(t, conn, "1", protocol.OpIsEmpty, nil)

	broadcaster.Publish([]*models.TreeNode{{Key: "pushed.txt", Title: "pushed.txt"}})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var resp protocol.Response
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Type != protocol.EventFileSystemChanged {
			continue
		}
		if resp.ID != "" {
			t.Errorf("push carries id %q, want none", resp.ID)
		}
		var tree []*models.TreeNode
		if err := json.Unmarshal(resp.Data, &tree); err != nil {
			t.Fatal(err)
		}
		if len(tree) != 1 || tree[0].Key != "pushed.txt" {
			t.Fatalf("tree = %+v", tree)
		}
		return
	}
}
