package priority

import (
	"context"
	"log"
	"sync"
	"time"
)

// Source supplies the external geographic-unit priority mapping. A missing
// or unreachable source is equivalent to an empty map, not an error.
type Source interface {
	Load(ctx context.Context) (map[string]int, error)
}

// Excluded is the priority value that removes a unit from tiered
// assignment entirely.
const Excluded = 0

type Config struct {
	TTL    time.Duration
	Source Source
	Logger *log.Logger
}

// Cache holds the external priority map for a bounded TTL. Staleness up to
// the TTL is acceptable; reloads happen lazily on expired reads.
type Cache struct {
	mu        sync.RWMutex
	values    map[string]int
	loadedAt  time.Time
	ttl       time.Duration
	source    Source
	logger    *log.Logger
	hasLoaded bool
}

func NewCache(config Config) *Cache {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	return &Cache{
		values: make(map[string]int),
		ttl:    config.TTL,
		source: config.Source,
		logger: config.Logger,
	}
}

// Priorities returns the current unit priority map, reloading from the
// source when the cached copy is older than the TTL. The returned map must
// not be mutated by callers.
func (c *Cache) Priorities(ctx context.Context) map[string]int {
	c.mu.RLock()
	fresh := c.hasLoaded && time.Since(c.loadedAt) < c.ttl
	values := c.values
	c.mu.RUnlock()

	if fresh {
		return values
	}
	return c.reload(ctx)
}

// Invalidate forces the next read to hit the source.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.hasLoaded = false
	c.mu.Unlock()
}

func (c *Cache) reload(ctx context.Context) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLoaded && time.Since(c.loadedAt) < c.ttl {
		return c.values
	}

	if c.source == nil {
		c.values = make(map[string]int)
		c.loadedAt = time.Now().UTC()
		c.hasLoaded = true
		return c.values
	}

	values, err := c.source.Load(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("priority source load failed, serving stale map: %v", err)
		}
		// Keep whatever we had; an empty map when nothing was ever loaded.
		c.loadedAt = time.Now().UTC()
		c.hasLoaded = true
		return c.values
	}
	if values == nil {
		values = make(map[string]int)
	}

	c.values = values
	c.loadedAt = time.Now().UTC()
	c.hasLoaded = true
	return c.values
}
