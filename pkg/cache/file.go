package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// entryExt is the file extension of cache entries. Child namespaces are plain
// directories, so an entry and a namespace with the same name never collide.
const entryExt = ".json"

// FileStore persists one file per key under a root directory. There is no
// index: existence is determined by filesystem lookup.
//
// Writes go to a temporary file in the same directory followed by a rename,
// so a cancelled or crashed write never leaves a partial entry behind.
type FileStore struct {
	root   string
	logger zerolog.Logger
}

// NewFileStore creates a file store rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string, logger *zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file cache root directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	l := log.With().Str("component", "file-cache").Logger()
	if logger != nil {
		l = *logger
	}

	return &FileStore{root: abs, logger: l}, nil
}

// Root returns the directory backing this store.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, url.PathEscape(key)+entryExt)
}

// Has reports whether an entry file exists for key.
func (s *FileStore) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat cache entry: %w", err)
}

// Get reads and decodes the entry for key. Corrupt or partially written
// entries are deleted and reported as ErrCacheMiss.
func (s *FileStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			CacheMisses.WithLabelValues(backendFile).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheCorruptEntries.WithLabelValues(backendFile).Inc()
		dropCorrupt(ctx, s, s.logger, key, err)
		CacheMisses.WithLabelValues(backendFile).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendFile).Inc()
	return entry, nil
}

// Set writes value atomically (temp file + rename). A nil value is a no-op.
func (s *FileStore) Set(ctx context.Context, key string, value any, debug *Debug) error {
	if isNil(value) {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := encodeEntry(value, debug)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("close temp cache file: %w", err)
	}

	// A cancelled caller must not publish the entry.
	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		cleanup()
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry file for key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry and child namespace under the root.
func (s *FileStore) Clear(_ context.Context) error {
	items, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("list cache dir: %w", err)
	}

	for _, item := range items {
		if err := os.RemoveAll(filepath.Join(s.root, item.Name())); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("clear cache dir: %w", err)
		}
	}
	return nil
}

// Child returns a store rooted at a subdirectory named namespace.
func (s *FileStore) Child(namespace string) Store {
	return &FileStore{
		root:   filepath.Join(s.root, url.PathEscape(namespace)),
		logger: s.logger,
	}
}
