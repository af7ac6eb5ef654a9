package cache

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Config holds the configuration for the cache.
type Config struct {
	// MaxSize is the maximum size of the cache in bytes. Zero disables the
	// byte bound.
	MaxSize int64
	// MaxEntries bounds the number of cached tickets. Zero disables the
	// entry bound.
	MaxEntries int
	// TTL is the time-to-live for cache entries. Zero keeps entries until
	// they are evicted or cleared.
	TTL time.Duration
	// Allocator is the allocator cached records are built with.
	Allocator memory.Allocator
	// EnableStats enables cache statistics collection.
	EnableStats bool
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:     64 * 1024 * 1024,
		MaxEntries:  256,
		TTL:         30 * time.Second,
		Allocator:   memory.DefaultAllocator,
		EnableStats: true,
	}
}

// WithMaxSize sets the maximum size of the cache.
func (c *Config) WithMaxSize(size int64) *Config {
	c.MaxSize = size
	return c
}

// WithMaxEntries sets the maximum number of entries.
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithTTL sets the time-to-live for cache entries.
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// WithAllocator sets the memory allocator.
func (c *Config) WithAllocator(alloc memory.Allocator) *Config {
	c.Allocator = alloc
	return c
}

// WithStats enables or disables cache statistics.
func (c *Config) WithStats(enable bool) *Config {
	c.EnableStats = enable
	return c
}
