// Package cachestore is the file-backed key-value cache shared by all
// components. One JSON document per key, whole-file read, whole-file
// overwrite. Expiry semantics live in the callers; the store treats content
// as opaque bytes.
package cachestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Cache file names. All live directly under the store directory.
const (
	WeeklyKey        = "weekly.json"
	WeeklyRawKey     = "weekly_raw.json"
	WeeklyRawMetaKey = "weekly_raw_meta.json"
	WeeklyCleanedKey = "weekly_cleaned.json"
	QueryLogKey      = "api2_query_log.json"
	WaterListKey     = "api2_waterlist_response.json"
	AuthTokensKey    = "auth_tokens.json"
)

// FileInfo describes one cache file on disk.
type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Store persists cache entries under a private directory. Reads are memoized
// in memory; the process is the only writer, so the memo is invalidated on
// every successful Write. Concurrent writers to the same key are
// last-writer-wins, which is acceptable because writes are full overwrites.
type Store struct {
	dir string
	mem *gocache.Cache
	log zerolog.Logger
}

// New creates the store directory if needed and returns a Store rooted there.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cachestore: create dir: %w", err)
	}
	return &Store{
		dir: dir,
		mem: gocache.New(5*time.Minute, 10*time.Minute),
		log: log,
	}, nil
}

// Dir returns the store root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the on-disk path for key.
func (s *Store) Path(key string) string { return filepath.Join(s.dir, key) }

// Write replaces the full content of key. The write goes to a temp file
// first and is renamed into place, so a failure leaves any prior content
// untouched.
func (s *Store) Write(key string, content []byte) error {
	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("cachestore: write %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cachestore: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cachestore: write %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, s.Path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("cachestore: write %s: %w", key, err)
	}
	s.mem.Set(key, append([]byte(nil), content...), gocache.DefaultExpiration)
	s.log.Debug().Str("key", key).Int("bytes", len(content)).Msg("cache written")
	return nil
}

// Read returns the content of key, or (nil, false) if the key is absent or
// unreadable. It never returns an error. The returned slice is the caller's
// own copy; mutating it cannot corrupt the memoized content.
func (s *Store) Read(key string) ([]byte, bool) {
	if v, ok := s.mem.Get(key); ok {
		if b, ok := v.([]byte); ok {
			return append([]byte(nil), b...), true
		}
	}
	b, err := os.ReadFile(s.Path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	s.mem.Set(key, append([]byte(nil), b...), gocache.DefaultExpiration)
	return append([]byte(nil), b...), true
}

// Exists reports whether key has an on-disk file.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// FileInfo returns path/size/mtime for key, or false if the file is absent.
func (s *Store) FileInfo(key string) (FileInfo, bool) {
	st, err := os.Stat(s.Path(key))
	if err != nil {
		return FileInfo{}, false
	}
	return FileInfo{
		Path:         s.Path(key),
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}, true
}
