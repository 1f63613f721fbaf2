// Package cache persists lookup results keyed by (ip, method) with TTL
// expiry. Cache failures are never fatal: reads degrade to a miss, writes
// to a no-op, with a logged warning.
package cache

import (
	"time"

	"github.com/wingedpig/ipmeta/pkg/model"
)

// DefaultTTL is how long cache entries stay fresh unless configured otherwise.
const DefaultTTL = 24 * time.Hour

// Store is a TTL cache for lookup results.
type Store interface {
	// Get returns the cached record for (ip, method), or nil if the entry
	// is missing, stale, or unreadable.
	Get(ip, method string) *model.Record

	// Set stores a record under (ip, method). Returns false on any failure
	// or when rec is nil; it never panics or returns an error.
	Set(ip, method string, rec *model.Record) bool

	// CleanExpired deletes stale and unparseable entries and returns the
	// number deleted.
	CleanExpired() int

	// Close releases any resources held by the store.
	Close() error
}

// entry is the persisted cache record: epoch seconds plus the result.
type entry struct {
	Timestamp int64         `json:"timestamp" msgpack:"timestamp"`
	Result    *model.Record `json:"result" msgpack:"result"`
}

func (e *entry) expired(ttl time.Duration) bool {
	age := time.Now().Unix() - e.Timestamp
	return age > int64(ttl.Seconds())
}
