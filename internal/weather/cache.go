package weather

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
)

// snapshot is the on-disk form of one cached response.
type snapshot struct {
	FetchedAt float64         `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

// Cache holds the last successful response per key. Entries live in memory
// and, when dir is set, as JSON snapshots so a restart can reuse them.
// A value is only ever replaced by a newer successful fetch.
type Cache struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]snapshot
	now     func() time.Time
}

// NewCache creates a cache. An empty dir keeps entries in memory only.
func NewCache(dir string) *Cache {
	return &Cache{
		dir:     dir,
		entries: make(map[string]snapshot),
		now:     time.Now,
	}
}

// SafeKey strips a key down to letters, digits, '-' and '_' so it can be
// used as a file name.
func SafeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return r
		}
		return -1
	}, key)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, SafeKey(key)+".json")
}

// Get returns the cached data for key if it was fetched within ttl.
func (c *Cache) Get(key string, ttl time.Duration) ([]byte, bool) {
	c.mu.RLock()
	s, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok && c.dir != "" {
		s, ok = c.readSnapshot(key)
		if ok {
			c.mu.Lock()
			if cur, exists := c.entries[key]; !exists || cur.FetchedAt < s.FetchedAt {
				c.entries[key] = s
			}
			c.mu.Unlock()
		}
	}
	if !ok {
		return nil, false
	}
	if c.age(s) > ttl {
		return nil, false
	}
	return s.Data, true
}

// Put stores data as the latest successful value for key.
func (c *Cache) Put(key string, data []byte) error {
	s := snapshot{
		FetchedAt: float64(c.now().UnixNano()) / 1e9,
		Data:      append(json.RawMessage(nil), data...),
	}

	c.mu.Lock()
	c.entries[key] = s
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	return c.writeSnapshot(key, s)
}

func (c *Cache) age(s snapshot) time.Duration {
	fetched := time.Unix(0, int64(s.FetchedAt*1e9))
	return c.now().Sub(fetched)
}

func (c *Cache) readSnapshot(key string) (snapshot, bool) {
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return snapshot{}, false
	}
	var s snapshot
	if err := json.Unmarshal(raw, &s); err != nil || len(s.Data) == 0 {
		return snapshot{}, false
	}
	return s, true
}

// writeSnapshot replaces the file atomically so readers never see a torn write.
func (c *Cache) writeSnapshot(key string, s snapshot) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(c.dir, SafeKey(key)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", key, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot %s: %w", key, err)
	}
	return nil
}
