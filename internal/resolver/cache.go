package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/orgrosua/yabe-siul/internal/importmap"
)

// Entry is one cached map, keyed by compiler version. Entries are only ever
// replaced whole.
type Entry struct {
	Version     string         `json:"version"`
	Map         *importmap.Map `json:"map"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Expired reports whether the entry is at least ttl old at now.
func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.GeneratedAt) >= ttl
}

// Cache persists entries. Get returns nil, nil when nothing is stored.
type Cache interface {
	Get(ctx context.Context, version string) (*Entry, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, version string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(_ context.Context, version string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[version]
	if !ok {
		return nil, nil
	}
	entry.Map = entry.Map.Clone()
	return &entry, nil
}

func (c *MemoryCache) Put(_ context.Context, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.Map = entry.Map.Clone()
	c.entries[entry.Version] = entry
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, version)
	return nil
}
