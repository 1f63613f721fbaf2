package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wingedpig/ipmeta/pkg/model"
)

// FileStore keeps one JSON file per (ip, method) pair in a cache directory.
// Writes go through a temp file and an atomic rename, so concurrent readers
// never see a partial entry and a crash mid-write cannot corrupt an existing
// one. Stale ".tmp" leftovers from interrupted writes are ignored.
type FileStore struct {
	dir string
	ttl time.Duration
}

// NewFileStore creates a file-backed store rooted at dir. A ttl <= 0 uses
// DefaultTTL. Failure to create the directory is logged, not fatal; reads
// and writes will simply miss.
func NewFileStore(dir string, ttl time.Duration) *FileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("WARN: Couldn't create cache directory %s: %v", dir, err)
	}
	return &FileStore{dir: dir, ttl: ttl}
}

// keyPath derives the filename for an (ip, method) pair. IPv6 colons are
// replaced with underscores, which is lossless for IP addresses since an
// underscore never appears in one.
func (s *FileStore) keyPath(ip, method string) string {
	safe := strings.ReplaceAll(ip, ":", "_")
	return filepath.Join(s.dir, safe+"_"+method+".json")
}

// Get returns the cached record, or nil on miss, stale entry, or any
// read/parse failure.
func (s *FileStore) Get(ip, method string) *model.Record {
	path := s.keyPath(ip, method)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("WARN: Cache read failed for %s: %v", ip, err)
		}
		return nil
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Printf("WARN: Corrupt cache file for %s, ignoring: %v", ip, err)
		return nil
	}

	if e.expired(s.ttl) {
		return nil
	}
	return e.Result
}

// Set stores a record via temp-file-then-rename. Returns false when rec is
// nil or on any I/O failure.
func (s *FileStore) Set(ip, method string, rec *model.Record) bool {
	if rec == nil {
		return false
	}

	data, err := json.Marshal(entry{
		Timestamp: time.Now().Unix(),
		Result:    rec,
	})
	if err != nil {
		log.Printf("WARN: Couldn't encode cache entry for %s: %v", ip, err)
		return false
	}

	path := s.keyPath(ip, method)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("WARN: Couldn't write cache file for %s: %v", ip, err)
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("WARN: Couldn't finalize cache file for %s: %v", ip, err)
		os.Remove(tmp)
		return false
	}
	return true
}

// CleanExpired scans the cache directory and removes entries past their TTL
// along with any that fail to parse. A missing directory yields 0.
func (s *FileStore) CleanExpired() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("ERROR: Couldn't list cache directory: %v", err)
		}
		return 0
	}

	cleaned := 0
	for _, de := range entries {
		name := de.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(s.dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("WARN: Error checking cache file %s: %v", name, err)
			continue
		}

		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			// Unparseable is treated the same as expired
			if os.Remove(path) == nil {
				cleaned++
			}
			continue
		}

		if e.expired(s.ttl) {
			if os.Remove(path) == nil {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		log.Printf("INFO: Cleaned %d expired cache entries", cleaned)
	}
	return cleaned
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}
