// vfsd serves a virtual filesystem to exam clients over a websocket command
// channel.
//
// Features:
// - Sandboxed (Badger-backed) and external directory storage roots
// - Sibling name uniqueness with "(n)" suffixes
// - Recursive move/delete composed from single-entry primitives
// - Snapshot-diff change watcher with fileSystemChanged pushes
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/internal/backend/sandbox"
	"github.com/codedesk/vfsd/internal/config"
	"github.com/codedesk/vfsd/internal/events"
	"github.com/codedesk/vfsd/internal/logging"
	"github.com/codedesk/vfsd/internal/metrics"
	"github.com/codedesk/vfsd/internal/server"
	"github.com/codedesk/vfsd/internal/vfs"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("vfsd starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("data_dir", cfg.DataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Filesystem engine with a lazily opened sandbox store
	engine := vfs.NewEngine(vfs.Options{
		OpenSandbox: func() (backend.Root, error) {
			return sandbox.New(sandbox.Config{
				Dir:    cfg.DataDir,
				Logger: logging.L(),
			})
		},
		Blacklist: vfs.NewBlacklist(cfg.ExtraBlacklist...),
		Logger:    logging.L(),
	})
	defer engine.Close()

	// Change push fan-out and the polling watcher behind it
	broadcaster := events.NewBroadcaster()
	watcher := vfs.NewWatcher(engine, broadcaster, cfg.WatchInterval(), logging.L())
	go watcher.Run(ctx)
	logging.Info("change watcher started", zap.Duration("interval", cfg.WatchInterval()))

	srv := server.New(cfg, engine, watcher, broadcaster, logging.L())

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
