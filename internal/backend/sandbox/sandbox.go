// Package sandbox implements the engine-owned storage root on BadgerDB.
//
// The sandbox is the default root: always available, invisible outside the
// daemon, and the only root kind that supports clear. Directories and files
// are stored as flat keys ("d:<path>", "f:<path>", with the exact content
// length under "s:<path>"); direct children of a directory are found by
// prefix iteration.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/codedesk/vfsd/internal/backend"
)

const (
	dirPrefix  = "d:"
	filePrefix = "f:"
	sizePrefix = "s:"
)

// Config holds sandbox settings.
type Config struct {
	// Dir is the on-disk location of the Badger store.
	Dir string
	// Logger receives Badger's internal logging. Optional.
	Logger *zap.Logger
}

// Root is a sandboxed storage root backed by BadgerDB.
type Root struct {
	db  *badger.DB
	log *zap.Logger
}

var _ backend.Root = (*Root)(nil)

// New opens (or creates) the sandbox store under cfg.Dir.
func New(cfg Config) (*Root, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sandbox dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox dir %s: %w", cfg.Dir, err)
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(&badgerLogger{s: cfg.Logger.Named("badger").Sugar()}).
		WithLoggingLevel(badger.WARNING).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open sandbox store %s: %w", cfg.Dir, err)
	}

	return &Root{db: db, log: cfg.Logger}, nil
}

// Kind returns backend.KindSandbox.
func (r *Root) Kind() backend.Kind { return backend.KindSandbox }

func dirKey(path string) []byte  { return []byte(dirPrefix + path) }
func fileKey(path string) []byte { return []byte(filePrefix + path) }
func sizeKey(path string) []byte { return []byte(sizePrefix + path) }

// EnsureDir records a directory marker. The root ("") exists implicitly.
func (r *Root) EnsureDir(_ context.Context, path string) error {
	if path == "" {
		return nil
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dirKey(path), nil)
	})
	if err != nil {
		return fmt.Errorf("ensure dir %s: %w", path, err)
	}
	return nil
}

// DirExists reports whether a directory marker exists at path.
func (r *Root) DirExists(_ context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	return r.keyExists(dirKey(path))
}

// FileExists reports whether a file exists at path.
func (r *Root) FileExists(_ context.Context, path string) (bool, error) {
	return r.keyExists(fileKey(path))
}

func (r *Root) keyExists(key []byte) (bool, error) {
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", key, err)
	}
	return found, nil
}

// ListDir returns the direct children of a directory by prefix iteration
// over both key spaces.
func (r *Root) ListDir(ctx context.Context, path string) ([]backend.Entry, error) {
	ok, err := r.DirExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("list %s: %w", path, fs.ErrNotExist)
	}

	var entries []backend.Entry
	err = r.db.View(func(txn *badger.Txn) error {
		entries = append(entries, directChildren(txn, dirPrefix, path, true)...)
		entries = append(entries, directChildren(txn, filePrefix, path, false)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return entries, nil
}

// directChildren collects names directly under path in one key space. A key
// belongs to a deeper level when its remainder still contains a slash.
func directChildren(txn *badger.Txn, keyspace, path string, isDir bool) []backend.Entry {
	prefix := keyspace
	if path != "" {
		prefix = keyspace + path + "/"
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var entries []backend.Entry
	for it.Rewind(); it.Valid(); it.Next() {
		name := string(it.Item().Key())[len(prefix):]
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		entries = append(entries, backend.Entry{Name: name, IsDir: isDir})
	}
	return entries
}

// FileSize returns the exact stored size without reading the content.
// Item.ValueSize overestimates values that land in Badger's value log, so
// the length recorded by WriteFile is authoritative.
func (r *Root) FileSize(_ context.Context, path string) (int64, error) {
	var size int64
	err := r.db.View(func(txn *badger.Txn) error {
		fileItem, err := txn.Get(fileKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fs.ErrNotExist
		}
		if err != nil {
			return err
		}
		sizeItem, err := txn.Get(sizeKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Entry written before lengths were recorded.
			return fileItem.Value(func(v []byte) error {
				size = int64(len(v))
				return nil
			})
		}
		if err != nil {
			return err
		}
		return sizeItem.Value(func(v []byte) error {
			n, perr := strconv.ParseInt(string(v), 10, 64)
			if perr != nil {
				return fmt.Errorf("size record: %w", perr)
			}
			size = n
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return size, nil
}

// ReadFile returns the full content of a file.
func (r *Root) ReadFile(_ context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fs.ErrNotExist
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile creates the file or fully replaces its content. The exact byte
// length is recorded in the same transaction for FileSize.
func (r *Root) WriteFile(_ context.Context, path string, data []byte) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(fileKey(path), data); err != nil {
			return err
		}
		return txn.Set(sizeKey(path), []byte(strconv.FormatInt(int64(len(data)), 10)))
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RemoveFile deletes a single file entry and its size record.
func (r *Root) RemoveFile(_ context.Context, path string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(fileKey(path)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fs.ErrNotExist
			}
			return err
		}
		if err := txn.Delete(fileKey(path)); err != nil {
			return err
		}
		return txn.Delete(sizeKey(path))
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// RemoveDir deletes a single directory marker. Emptiness is the engine's
// guarantee; the marker carries no children of its own.
func (r *Root) RemoveDir(_ context.Context, path string) error {
	return r.removeKey(dirKey(path), path)
}

func (r *Root) removeKey(key []byte, path string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fs.ErrNotExist
			}
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Verify always succeeds while the store is open.
func (r *Root) Verify(_ context.Context) error {
	if r.db.IsClosed() {
		return fmt.Errorf("sandbox store is closed")
	}
	return nil
}

// Clear wipes the entire sandbox.
func (r *Root) Clear(_ context.Context) error {
	if err := r.db.DropAll(); err != nil {
		return fmt.Errorf("clear sandbox: %w", err)
	}
	r.log.Info("sandbox cleared")
	return nil
}

// Close releases the underlying store.
func (r *Root) Close() error {
	return r.db.Close()
}

// badgerLogger adapts Badger's logger interface onto zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
