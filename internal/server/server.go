// Package server exposes the filesystem engine over HTTP: a websocket
// command channel at /ws, a health probe, and (on a separate listener,
// wired in main) Prometheus metrics.
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/config"
	"github.com/codedesk/vfsd/internal/events"
	"github.com/codedesk/vfsd/internal/metrics"
	"github.com/codedesk/vfsd/internal/vfs"
)

// Server hosts the command transport.
type Server struct {
	cfg         *config.Config
	engine      *vfs.Engine
	watcher     *vfs.Watcher
	broadcaster *events.Broadcaster
	log         *zap.Logger
	upgrader    websocket.Upgrader

	connections int64
}

// New creates a transport server around an engine.
func New(cfg *config.Config, engine *vfs.Engine, watcher *vfs.Watcher, broadcaster *events.Broadcaster, log *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		engine:      engine,
		watcher:     watcher,
		broadcaster: broadcaster,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The UI is served from its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler for the command transport.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.log.Warn("websocket connection rejected", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	n := atomic.AddInt64(&s.connections, 1)
	metrics.SetConnectionsActive(n)
	s.log.Info("client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	sess := newSession(conn, s.engine, s.watcher, s.broadcaster, s.cfg.MaxReadSize, s.log)
	sess.run(r.Context())

	n = atomic.AddInt64(&s.connections, -1)
	metrics.SetConnectionsActive(n)
	s.log.Info("client disconnected", zap.String("remote_addr", conn.RemoteAddr().String()))
}

// authorized checks the optional shared transport token, from either the
// Authorization header or a token query parameter (browser websocket clients
// cannot set headers).
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}
