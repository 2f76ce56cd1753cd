// Package cache provides TTL-bound on-disk caches for discovered URL
// sets and individual response bodies. Entries are msgpack-encoded and
// keyed by retailer plus a deterministic cache key; expired entries are
// ignored on read and lazily replaced on the next write.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/prospect/iox"
)

// Default TTLs per the storage contract.
const (
	DefaultURLSetTTL   = 7 * 24 * time.Hour
	DefaultResponseTTL = 30 * 24 * time.Hour
)

// entry is the on-disk envelope around cached data.
type entry struct {
	StoredAt time.Time     `msgpack:"stored_at"`
	TTL      time.Duration `msgpack:"ttl"`
	Data     []byte        `msgpack:"data"`
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

// Cache is one retailer-scoped disk cache directory.
type Cache struct {
	dir string
	ttl time.Duration

	// now is injectable for TTL tests.
	now func() time.Time
}

// New creates a cache rooted at dir with the given TTL.
func New(dir string, ttl time.Duration) *Cache {
	return &Cache{dir: dir, ttl: ttl, now: time.Now}
}

// Key derives the deterministic cache key for a normalized request:
// SHA-256 hex of the input. URL-set caches pass the discovery entry
// point; response caches pass the full request URL.
func Key(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".cache")
}

// Get returns the cached bytes for key, or ok=false when the entry is
// missing, unreadable, or expired. A corrupt entry reads as a miss;
// the next write repairs it.
func (c *Cache) Get(key string) ([]byte, bool) {
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}

	var e entry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if e.expired(c.now()) {
		return nil, false
	}
	return e.Data, true
}

// Put stores data under key with the cache's TTL. The write is atomic
// so a concurrent reader never sees a torn entry.
func (c *Cache) Put(key string, data []byte) error {
	raw, err := msgpack.Marshal(&entry{
		StoredAt: c.now(),
		TTL:      c.ttl,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return iox.WriteFileAtomic(c.path(key), raw, 0o644)
}

// GetURLs reads a cached URL set.
func (c *Cache) GetURLs(key string) ([]string, bool) {
	data, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	var urls []string
	if err := msgpack.Unmarshal(data, &urls); err != nil {
		return nil, false
	}
	return urls, true
}

// PutURLs stores a discovered URL set.
func (c *Cache) PutURLs(key string, urls []string) error {
	data, err := msgpack.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode url set: %w", err)
	}
	return c.Put(key, data)
}

// Purge removes expired entries from the cache directory. Returns the
// number of entries removed. Corrupt entries are removed as well.
func (c *Cache) Purge() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".cache" {
			continue
		}
		path := filepath.Join(c.dir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e entry
		if err := msgpack.Unmarshal(raw, &e); err != nil || e.expired(c.now()) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
