package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/internal/backend/localdir"
	"github.com/codedesk/vfsd/internal/events"
	"github.com/codedesk/vfsd/internal/metrics"
	"github.com/codedesk/vfsd/internal/vfs"
	"github.com/codedesk/vfsd/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Outbound frame buffer per connection.
	sendBufferSize = 64
)

// session serves one websocket connection. Requests are read and dispatched
// one at a time in arrival order, so a connection's commands never interleave.
// Responses and unsolicited pushes share a single write pump.
type session struct {
	conn        *websocket.Conn
	engine      *vfs.Engine
	watcher     *vfs.Watcher
	broadcaster *events.Broadcaster
	maxReadSize int64
	send        chan []byte
	log         *zap.Logger
}

func newSession(conn *websocket.Conn, engine *vfs.Engine, watcher *vfs.Watcher, broadcaster *events.Broadcaster, maxReadSize int64, log *zap.Logger) *session {
	return &session{
		conn:        conn,
		engine:      engine,
		watcher:     watcher,
		broadcaster: broadcaster,
		maxReadSize: maxReadSize,
		send:        make(chan []byte, sendBufferSize),
		log:         log.With(zap.String("remote_addr", conn.RemoteAddr().String())),
	}
}

// run blocks until the connection closes.
func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	eventsCh := s.broadcaster.Subscribe()
	quit := make(chan struct{})

	go s.writePump(quit)
	go s.forwardEvents(eventsCh)

	s.readLoop(ctx)

	s.broadcaster.Unsubscribe(eventsCh)
	close(quit)
}

// readLoop consumes request frames until the peer disconnects. Each request
// is dispatched inline, so a long recursive operation delays the frames
// behind it.
func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.enqueue(protocol.Response{Type: "error", Error: "malformed request frame"})
			continue
		}
		s.enqueue(s.dispatch(ctx, req))
	}
}

// forwardEvents turns broadcaster events into unsolicited push frames. It
// exits when Unsubscribe closes the channel.
func (s *session) forwardEvents(ch chan events.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev.Tree)
		if err != nil {
			s.log.Error("marshal push event", zap.Error(err))
			continue
		}
		s.enqueue(protocol.Response{Type: protocol.EventFileSystemChanged, Data: data})
	}
}

// enqueue hands a frame to the write pump, dropping it if the connection is
// too far behind.
func (s *session) enqueue(resp protocol.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		return
	}
	select {
	case s.send <- raw:
	default:
		s.log.Warn("send buffer full, dropping frame", zap.String("type", resp.Type))
	}
}

func (s *session) writePump(quit chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-quit:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch routes one request to the engine and produces its response frame.
func (s *session) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	start := time.Now()

	result, err := s.handle(ctx, req)
	if err != nil {
		metrics.RecordOp(req.Type, "error", time.Since(start))
		s.log.Debug("operation failed",
			zap.String("op", req.Type),
			zap.String("id", req.ID),
			zap.Error(err))
		return protocol.Response{
			ID:    req.ID,
			Type:  req.Type + protocol.ErrorSuffix,
			Error: err.Error(),
		}
	}

	metrics.RecordOp(req.Type, "ok", time.Since(start))

	resp := protocol.Response{ID: req.ID, Type: req.Type + protocol.ResultSuffix}
	if result != nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			return protocol.Response{
				ID:    req.ID,
				Type:  req.Type + protocol.ErrorSuffix,
				Error: fmt.Sprintf("encode result: %v", mErr),
			}
		}
		resp.Data = data
	}
	return resp
}

func (s *session) handle(ctx context.Context, req protocol.Request) (any, error) {
	switch req.Type {
	case protocol.OpSetRootHandle:
		var p protocol.SetRootHandleRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return nil, s.setRootHandle(ctx, p.Handle)

	case protocol.OpClear:
		return nil, s.engine.Clear(ctx)

	case protocol.OpIsEmpty:
		return s.engine.IsEmpty(ctx)

	case protocol.OpReadFile:
		var p protocol.ReadFileRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if p.MaxSize == 0 {
			p.MaxSize = s.maxReadSize
		}
		return s.engine.ReadFile(ctx, p.Path, p.MaxSize)

	case protocol.OpCreateFile:
		var p protocol.CreateFileRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		name, path, err := s.engine.CreateFile(ctx, p.Path, p.Content)
		if err != nil {
			return nil, err
		}
		return protocol.CreateFileResult{Name: name, Path: path}, nil

	case protocol.OpWriteFile:
		var p protocol.WriteFileRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return nil, s.engine.WriteFile(ctx, p.Path, p.Content)

	case protocol.OpDeleteFile:
		var p protocol.PathRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if err := s.engine.DeleteFile(ctx, p.Path); err != nil {
			return nil, err
		}
		return true, nil

	case protocol.OpCreateFolder:
		var p protocol.PathRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		name, err := s.engine.CreateFolder(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		return protocol.CreateFolderResult{Name: name}, nil

	case protocol.OpDeleteFolder:
		var p protocol.PathRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if err := s.engine.DeleteFolder(ctx, p.Path); err != nil {
			return nil, err
		}
		return true, nil

	case protocol.OpMoveFile:
		var p protocol.MoveRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return nil, s.engine.MoveFile(ctx, p.Src, p.Dest)

	case protocol.OpMoveFolder:
		var p protocol.MoveRequest
		if err := json.Unmarshal(req.Data, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return nil, s.engine.MoveFolder(ctx, p.Src, p.Dest)

	case protocol.OpGetFileTree:
		var p protocol.TreeRequest
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &p); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		return s.engine.FileTree(ctx, p.Path)

	case protocol.OpGetAllFiles:
		return s.engine.AllFiles(ctx)

	default:
		return nil, fmt.Errorf("unknown operation %q", req.Type)
	}
}

// setRootHandle activates the requested storage root and rearms the change
// watcher for it.
func (s *session) setRootHandle(ctx context.Context, h protocol.RootHandle) error {
	var (
		root backend.Root
		err  error
	)
	switch h.Kind {
	case protocol.RootKindSandbox:
		root, err = s.engine.SandboxRoot(ctx)
	case protocol.RootKindExternal:
		root, err = localdir.New(h.Path)
	default:
		return fmt.Errorf("unknown root kind %q", h.Kind)
	}
	if err != nil {
		return err
	}
	s.engine.SetRoot(ctx, root)
	return s.watcher.RootChanged(ctx, root.Kind())
}
