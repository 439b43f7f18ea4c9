// Package cache is the durable artifact store: produced documents,
// performance data and audio land here, compressed at rest, under a
// fixed directory in the platform temp root. Entries are namespaced by
// session so identical base names from different sessions cannot
// clobber each other.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DirName is the fixed cache directory name under the temp root.
const DirName = "lilyweb-cache"

// ErrNotFound is returned when a requested artifact is not cached.
var ErrNotFound = errors.New("artifact not cached")

// Stats holds cache counters.
type Stats struct {
	Entries   int
	Bytes     int64 // Compressed size on disk
	RawBytes  int64 // Uncompressed size
	Hits      int64
	Misses    int64
	LastWrite time.Time
}

type entry struct {
	path    string
	size    int64
	rawSize int64
	written time.Time
}

// Store is a zstd-compressed artifact cache rooted at a single
// directory.
type Store struct {
	basePath string

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.RWMutex
	index map[string]entry
	stats Stats
}

// DefaultPath returns the conventional cache root under the platform
// temp directory.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DirName)
}

// New creates the cache rooted at basePath, creating the directory as
// needed. An empty basePath uses DefaultPath.
func New(basePath string) (*Store, error) {
	if basePath == "" {
		basePath = DefaultPath()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("unable to create compressor: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create decompressor: %w", err)
	}

	return &Store{
		basePath: basePath,
		encoder:  encoder,
		decoder:  decoder,
		index:    make(map[string]entry),
	}, nil
}

// Path returns the cache root.
func (s *Store) Path() string {
	return s.basePath
}

func (s *Store) key(scope, name string) string {
	return scope + "/" + name
}

func (s *Store) filePath(scope, name string) string {
	return filepath.Join(s.basePath, scope, name+".zst")
}

// Put stores an artifact under a session scope, replacing any previous
// entry of the same name.
func (s *Store) Put(scope, name string, data []byte) error {
	scope = filepath.Base(scope)
	name = filepath.Base(name)

	dir := filepath.Join(s.basePath, scope)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create session cache directory: %w", err)
	}

	compressed := s.encoder.EncodeAll(data, nil)
	path := s.filePath(scope, name)
	if err := os.WriteFile(path, compressed, 0o600); err != nil {
		return fmt.Errorf("unable to write cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.index[s.key(scope, name)]; ok {
		s.stats.Bytes -= old.size
		s.stats.RawBytes -= old.rawSize
		s.stats.Entries--
	}
	s.index[s.key(scope, name)] = entry{
		path:    path,
		size:    int64(len(compressed)),
		rawSize: int64(len(data)),
		written: time.Now(),
	}
	s.stats.Entries++
	s.stats.Bytes += int64(len(compressed))
	s.stats.RawBytes += int64(len(data))
	s.stats.LastWrite = time.Now()
	return nil
}

// Get retrieves an artifact by session scope and name.
func (s *Store) Get(scope, name string) ([]byte, error) {
	scope = filepath.Base(scope)
	name = filepath.Base(name)

	s.mu.Lock()
	e, ok := s.index[s.key(scope, name)]
	if !ok {
		s.stats.Misses++
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	s.stats.Hits++
	s.mu.Unlock()

	compressed, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("unable to read cache entry: %w", err)
	}
	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return data, nil
}

// ClearScope drops every artifact belonging to one session.
func (s *Store) ClearScope(scope string) error {
	scope = filepath.Base(scope)

	s.mu.Lock()
	prefix := scope + "/"
	for key, e := range s.index {
		if strings.HasPrefix(key, prefix) {
			s.stats.Entries--
			s.stats.Bytes -= e.size
			s.stats.RawBytes -= e.rawSize
			delete(s.index, key)
		}
	}
	s.mu.Unlock()

	return os.RemoveAll(filepath.Join(s.basePath, scope))
}

// Stats returns a copy of the cache counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Close releases the compressor resources.
func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}
