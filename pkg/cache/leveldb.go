// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package cache

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wingedpig/ipmeta/pkg/model"
)

// cacheKeyPrefix namespaces cache entries inside the LevelDB keyspace.
const cacheKeyPrefix = "cache:"

// LevelDBStore keeps cache entries in a single LevelDB database instead of
// one file per key. Entries are msgpack-encoded; freshness semantics match
// the file backend.
type LevelDBStore struct {
	db     *leveldb.DB
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// OpenLevelDB opens or creates a LevelDB-backed store at path.
func OpenLevelDB(path string, ttl time.Duration) (*LevelDBStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	opts := &opt.Options{
		Compression: opt.SnappyCompression,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	return &LevelDBStore{db: db, ttl: ttl}, nil
}

func cacheKey(ip, method string) []byte {
	return []byte(cacheKeyPrefix + ip + ":" + method)
}

// Get returns the cached record, or nil on miss, stale entry, or any
// read/decode failure.
func (s *LevelDBStore) Get(ip, method string) *model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	data, err := s.db.Get(cacheKey(ip, method), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		log.Printf("WARN: Cache read failed for %s: %v", ip, err)
		return nil
	}

	var e entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		log.Printf("WARN: Corrupt cache entry for %s, ignoring: %v", ip, err)
		return nil
	}

	if e.expired(s.ttl) {
		return nil
	}
	return e.Result
}

// Set stores a record under (ip, method). Returns false when rec is nil or
// on any failure.
func (s *LevelDBStore) Set(ip, method string, rec *model.Record) bool {
	if rec == nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	data, err := msgpack.Marshal(entry{
		Timestamp: time.Now().Unix(),
		Result:    rec,
	})
	if err != nil {
		log.Printf("WARN: Couldn't encode cache entry for %s: %v", ip, err)
		return false
	}

	if err := s.db.Put(cacheKey(ip, method), data, nil); err != nil {
		log.Printf("WARN: Couldn't cache result for %s: %v", ip, err)
		return false
	}
	return true
}

// CleanExpired iterates the cache keyspace and deletes stale or undecodable
// entries, returning the number deleted.
func (s *LevelDBStore) CleanExpired() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	cleaned := 0
	iter := s.db.NewIterator(util.BytesPrefix([]byte(cacheKeyPrefix)), nil)
	defer iter.Release()

	var stale [][]byte
	for iter.Next() {
		var e entry
		if err := msgpack.Unmarshal(iter.Value(), &e); err != nil || e.expired(s.ttl) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			stale = append(stale, key)
		}
	}
	if err := iter.Error(); err != nil {
		log.Printf("WARN: Cache scan failed: %v", err)
	}

	for _, key := range stale {
		if err := s.db.Delete(key, nil); err != nil {
			log.Printf("WARN: Couldn't delete cache entry %s: %v", key, err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		log.Printf("INFO: Cleaned %d expired cache entries", cleaned)
	}
	return cleaned
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.ErrStoreClosed
	}
	s.closed = true
	return s.db.Close()
}
