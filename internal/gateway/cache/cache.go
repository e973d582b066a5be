// Package cache is the write-once, content-addressed store for rendered output.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/gateway/keyhash"
)

var (
	ErrNotFound      = errors.New("cache entry not found")
	ErrAlreadyExists = errors.New("cache entry already exists")
	ErrInvalidKey    = errors.New("invalid cache key")
)

const (
	entryExt  = ".bin"
	tempExt   = ".tmp"
	dirPerm   = 0755
	entryPerm = 0644
)

// Entry is one stored render result
type Entry struct {
	Key       string
	Bytes     []byte
	CreatedAt time.Time
}

// Stats summarizes the on-disk cache
type Stats struct {
	Entries   int
	DiskBytes int64
}

// Store persists rendered bytes under <root>/<key[0:2]>/<key>.bin[.snappy|.lz4].
// Entries are published by hard-linking a fully written temp file to the final
// name, so a reader sees either nothing or the complete entry, and a second
// writer for the same key fails with ErrAlreadyExists instead of replacing it.
type Store struct {
	root        string
	compression string
	logger      *zap.Logger
}

// New creates the cache root if needed
func New(root, compression string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	return &Store{
		root:        root,
		compression: compression,
		logger:      logger,
	}, nil
}

// Root returns the cache directory
func (s *Store) Root() string {
	return s.root
}

// Exists reports whether an entry for key is present
func (s *Store) Exists(key string) bool {
	_, err := s.locate(key)
	return err == nil
}

// Read returns the decoded bytes of an entry or ErrNotFound
func (s *Store) Read(key string) ([]byte, error) {
	entry, err := s.Entry(key)
	if err != nil {
		return nil, err
	}
	return entry.Bytes, nil
}

// Entry returns the entry with its creation time taken from the file mtime
func (s *Store) Entry(key string) (*Entry, error) {
	path, err := s.locate(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat cache entry: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("Failed to read cache entry",
			zap.String("cache_key", key),
			zap.String("file_path", path),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	data, err := Decompress(raw, path)
	if err != nil {
		return nil, err
	}

	return &Entry{Key: key, Bytes: data, CreatedAt: info.ModTime()}, nil
}

// Write stores data under key. It fails with ErrAlreadyExists when the key is
// already present; the existing entry is left untouched.
func (s *Store) Write(key string, data []byte) error {
	if !keyhash.Valid(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if s.Exists(key) {
		return ErrAlreadyExists
	}

	encoded, ext, err := Compress(data, s.compression)
	if err != nil {
		return err
	}

	dir := s.shardDir(key)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, key+".*"+tempExt)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeAndSync(tmp, encoded); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalPath := filepath.Join(dir, key+entryExt+ext)
	if err := os.Link(tmpPath, finalPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}

	s.logger.Debug("Cache entry written",
		zap.String("cache_key", key),
		zap.String("file_path", finalPath),
		zap.Int("size_bytes", len(data)),
		zap.Int("disk_bytes", len(encoded)))

	return nil
}

// Stats walks the cache root. Temp files are not counted.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.Contains(d.Name(), entryExt) || strings.HasSuffix(d.Name(), tempExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.Entries++
		stats.DiskBytes += info.Size()
		return nil
	})
	return stats, err
}

func (s *Store) shardDir(key string) string {
	return filepath.Join(s.root, key[:2])
}

// locate finds the entry file for key across the possible compression suffixes
func (s *Store) locate(key string) (string, error) {
	if !keyhash.Valid(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	base := filepath.Join(s.shardDir(key), key+entryExt)
	for _, ext := range compressedExtensions {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat cache entry: %w", err)
		}
	}

	return "", ErrNotFound
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
