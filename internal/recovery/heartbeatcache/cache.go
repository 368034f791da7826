// Package heartbeatcache is an optional, process-local mirror of claimed
// tasks' heartbeat timestamps, backed by an embedded BoltDB file (spec
// SPEC_FULL.md §2.1 "Embedded process-local KV for the worker heartbeat
// cache"). It exists so a worker can answer a liveness probe for the
// tasks it currently owns without a storage round trip; the authoritative
// heartbeat_at column in storage.Storage is unaffected by anything here,
// and internal/recovery's orphan decision never consults this cache.
package heartbeatcache

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/colliery-io/cloacina-sub003/pkg/cloaca"
)

var bucketHeartbeats = []byte("heartbeats")

// Cache wraps a BoltDB file holding taskID -> last-heartbeat-time entries.
type Cache struct {
	db *bbolt.DB
}

// Open creates or opens the cache file at path.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("heartbeatcache: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHeartbeats)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("heartbeatcache: create bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying BoltDB file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put records at as taskID's most recent known heartbeat. Called by the
// executor pool's heartbeat ticker alongside (not instead of) the
// storage.Storage.Heartbeat call.
func (c *Cache) Put(taskID cloaca.ID, at cloaca.Timestamp) error {
	stamp, err := at.Time().MarshalBinary()
	if err != nil {
		return fmt.Errorf("heartbeatcache: marshal timestamp: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHeartbeats).Put([]byte(taskID.String()), stamp)
	})
}

// Delete removes taskID's entry, called once a task reaches a terminal
// status and its slot is released.
func (c *Cache) Delete(taskID cloaca.ID) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHeartbeats).Delete([]byte(taskID.String()))
	})
}

// Get returns taskID's last known heartbeat, if this process has ever
// recorded one.
func (c *Cache) Get(taskID cloaca.ID) (cloaca.Timestamp, bool) {
	var ts time.Time
	found := false
	_ = c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHeartbeats).Get([]byte(taskID.String()))
		if raw == nil {
			return nil
		}
		if err := ts.UnmarshalBinary(raw); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return cloaca.Timestamp{}, false
	}
	return cloaca.NewTimestamp(ts), true
}

// Sweep removes every entry older than maxAge, keeping the file from
// growing unbounded with tasks whose terminal transition was never
// observed by this process (e.g. the process that claimed them crashed
// before calling Delete).
func (c *Cache) Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketHeartbeats)
		cursor := bucket.Cursor()
		var stale [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var ts time.Time
			if err := ts.UnmarshalBinary(v); err != nil || ts.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
