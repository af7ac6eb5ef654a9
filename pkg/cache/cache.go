// Package cache holds query-list record batches keyed by Flight ticket.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Cache defines the interface for caching Arrow record batches.
type Cache interface {
	// Get returns a retained record for key, or nil on a miss. The caller
	// must release a non-nil record.
	Get(ctx context.Context, key string) (arrow.Record, error)
	// Put stores a record batch. The cache takes its own reference.
	Put(ctx context.Context, key string, record arrow.Record) error
	// Delete removes a record batch from the cache.
	Delete(ctx context.Context, key string) error
	// Clear removes all entries from the cache.
	Clear(ctx context.Context) error
	// Close releases any resources held by the cache.
	Close() error
}

// Entry is a single cached record with its bookkeeping.
type Entry struct {
	Record    arrow.Record
	CreatedAt time.Time
	LastUsed  time.Time
	Size      int64
}

// MemoryCache implements Cache with an in-memory LRU bounded by entry count
// and byte size.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxSize    int64
	maxEntries int
	ttl        time.Duration
	currSize   int64
	alloc      memory.Allocator
	stats      *StatsCollector
	now        func() time.Time
}

// NewMemoryCache creates a cache from cfg. A nil cfg uses DefaultConfig.
func NewMemoryCache(cfg *Config) *MemoryCache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &MemoryCache{
		entries:    make(map[string]*Entry),
		maxSize:    cfg.MaxSize,
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		alloc:      cfg.Allocator,
		now:        time.Now,
	}
	if cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c
}

// Get retrieves a record batch from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) (arrow.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return nil, nil
	}

	now := c.now()
	if c.ttl > 0 && now.Sub(entry.CreatedAt) > c.ttl {
		c.removeLocked(key, entry)
		c.recordMiss()
		return nil, nil
	}

	entry.LastUsed = now
	entry.Record.Retain()
	if c.stats != nil {
		c.stats.RecordHit()
	}
	return entry.Record, nil
}

// Put stores a record batch in the cache, evicting least recently used
// entries until it fits. A record larger than the cache is not stored.
func (c *MemoryCache) Put(ctx context.Context, key string, record arrow.Record) error {
	if record == nil {
		return nil
	}
	size := RecordSize(record)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}
	if c.maxSize > 0 && size > c.maxSize {
		return nil
	}

	for len(c.entries) > 0 &&
		((c.maxSize > 0 && c.currSize+size > c.maxSize) ||
			(c.maxEntries > 0 && len(c.entries) >= c.maxEntries)) {
		c.evictOldest()
	}

	record.Retain()
	now := c.now()
	c.entries[key] = &Entry{
		Record:    record,
		CreatedAt: now,
		LastUsed:  now,
		Size:      size,
	}
	c.currSize += size
	c.updateSize()
	return nil
}

// Delete removes a record batch from the cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.removeLocked(key, entry)
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		entry.Record.Release()
	}
	c.entries = make(map[string]*Entry)
	c.currSize = 0
	c.updateSize()
	return nil
}

// Close releases any resources held by the cache.
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the collected statistics, or a zero value when statistics
// are disabled.
func (c *MemoryCache) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

// Allocator returns the allocator records for this cache should be built
// with.
func (c *MemoryCache) Allocator() memory.Allocator {
	return c.alloc
}

// evictOldest removes the least recently used entry from the cache.
func (c *MemoryCache) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.LastUsed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastUsed
		}
	}
	if oldestKey == "" {
		return
	}
	c.removeLocked(oldestKey, c.entries[oldestKey])
	if c.stats != nil {
		c.stats.RecordEviction()
	}
}

func (c *MemoryCache) removeLocked(key string, entry *Entry) {
	entry.Record.Release()
	c.currSize -= entry.Size
	delete(c.entries, key)
	c.updateSize()
}

func (c *MemoryCache) recordMiss() {
	if c.stats != nil {
		c.stats.RecordMiss()
	}
}

func (c *MemoryCache) updateSize() {
	if c.stats != nil {
		c.stats.UpdateSize(c.currSize)
	}
}

// RecordSize returns the total length of the buffers backing record.
func RecordSize(record arrow.Record) int64 {
	var size int64
	for _, col := range record.Columns() {
		size += dataSize(col.Data())
	}
	return size
}

func dataSize(data arrow.ArrayData) int64 {
	var size int64
	for _, buf := range data.Buffers() {
		if buf != nil {
			size += int64(buf.Len())
		}
	}
	for _, child := range data.Children() {
		size += dataSize(child)
	}
	return size
}

// KeyGenerator builds cache keys.
type KeyGenerator interface {
	GenerateKey(kind string, params map[string]string) string
}

// DefaultKeyGenerator hashes the kind and the sorted parameters.
type DefaultKeyGenerator struct{}

// GenerateKey creates a cache key from a ticket kind and its parameters.
// Empty parameter values are ignored so that omitted and blank filters share
// an entry.
func (g *DefaultKeyGenerator) GenerateKey(kind string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(kind)
	for _, name := range names {
		b.WriteByte('\x00')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return kind + ":" + hex.EncodeToString(sum[:8])
}
