package vfs

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
	"github.com/codedesk/vfsd/internal/metrics"
	"github.com/codedesk/vfsd/pkg/models"
)

// Publisher receives change notifications from the watcher.
type Publisher interface {
	Publish(tree []*models.TreeNode)
}

// DefaultWatchInterval is used when no interval is configured.
const DefaultWatchInterval = 3 * time.Second

// Watcher detects externally introduced changes by periodically rebuilding
// the tree snapshot and comparing its serialization byte-for-byte against a
// cached baseline. The comparison is deliberately coarse (whole tree, not an
// incremental diff): external roots offer no native change callbacks, and
// the sorted serialization makes equality exact.
//
// Polling only happens while an external root is active; the sandbox can
// only change through the engine itself.
type Watcher struct {
	engine    *Engine
	publisher Publisher
	interval  time.Duration
	log       *zap.Logger

	mu       sync.Mutex
	active   bool
	baseline []byte
}

// NewWatcher creates a watcher. It starts inactive; RootChanged arms it when
// an external root becomes active.
func NewWatcher(engine *Engine, publisher Publisher, interval time.Duration, log *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		engine:    engine,
		publisher: publisher,
		interval:  interval,
		log:       log,
	}
}

// Run polls on the configured interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RootChanged must be called after every root switch. Switching to an
// external root recomputes the baseline first, so the first poll does not
// report a spurious full-tree change; switching to the sandbox stops
// polling.
func (w *Watcher) RootChanged(ctx context.Context, kind backend.Kind) error {
	if kind != backend.KindExternal {
		w.mu.Lock()
		w.active = false
		w.baseline = nil
		w.mu.Unlock()
		w.log.Debug("change watcher disarmed")
		return nil
	}
	if err := w.ResetBaseline(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
	w.log.Info("change watcher armed", zap.Duration("interval", w.interval))
	return nil
}

// ResetBaseline force-recomputes the cached snapshot without publishing.
func (w *Watcher) ResetBaseline(ctx context.Context) error {
	tree, err := w.engine.FileTree(ctx, "")
	if err != nil {
		return err
	}
	serialized, err := SerializeTree(tree)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.baseline = serialized
	w.mu.Unlock()
	return nil
}

func (w *Watcher) poll(ctx context.Context) {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if !active {
		return
	}

	start := time.Now()
	tree, err := w.engine.FileTree(ctx, "")
	if err != nil {
		// Transient failures (revoked grant, mid-switch) are logged, not
		// published; the next poll retries.
		w.log.Warn("change watcher poll failed", zap.Error(err))
		metrics.RecordWatcherPoll(false, time.Since(start))
		return
	}
	serialized, err := SerializeTree(tree)
	if err != nil {
		w.log.Warn("change watcher serialize failed", zap.Error(err))
		metrics.RecordWatcherPoll(false, time.Since(start))
		return
	}

	w.mu.Lock()
	changed := !bytes.Equal(serialized, w.baseline)
	if changed {
		w.baseline = serialized
	}
	w.mu.Unlock()

	metrics.RecordWatcherPoll(changed, time.Since(start))
	if changed {
		w.log.Debug("external change detected", zap.Int("snapshot_bytes", len(serialized)))
		w.publisher.Publish(tree)
	}
}
