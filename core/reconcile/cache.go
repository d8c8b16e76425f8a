package reconcile

import (
	"context"
	"sync"
	"time"

	"pgmerge/core/schema"

	"golang.org/x/sync/singleflight"
)

// cachedGraph is a schema graph with its build time.
type cachedGraph struct {
	graph *schema.Graph
	built time.Time
}

// GraphCache holds introspected schema graphs for long-running processes
// (the HTTP API) so that repeated plans against the same database do not
// introspect it every time.
type GraphCache struct {
	// TTL is the time-to-live of a cached graph. If zero, caching is disabled.
	TTL time.Duration

	mu      sync.RWMutex
	entries map[string]*cachedGraph
	sf      singleflight.Group
}

// NewGraphCache returns an empty cache.
func NewGraphCache(ttl time.Duration) *GraphCache {
	return &GraphCache{TTL: ttl, entries: make(map[string]*cachedGraph)}
}

func (c *GraphCache) fresh(e *cachedGraph) bool {
	return c.TTL > 0 && time.Since(e.built) <= c.TTL
}

// Get returns the graph cached under key, or builds and stores a new one if
// it doesn't exist or has expired. Uses singleflight to prevent stampedes.
func (c *GraphCache) Get(ctx context.Context, key string, build func(context.Context) (*schema.Graph, error)) (*schema.Graph, error) {
	// Fast path: check if graph exists and is fresh
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if exists && c.fresh(entry) {
		return entry.graph, nil
	}

	// Slow path: build graph using singleflight to prevent stampedes
	result, err, _ := c.sf.Do(key, func() (any, error) {
		c.mu.RLock()
		entry, exists := c.entries[key]
		c.mu.RUnlock()

		if exists && c.fresh(entry) {
			return entry.graph, nil
		}

		graph, err := build(ctx)
		if err != nil {
			return nil, err
		}

		if c.TTL > 0 {
			c.mu.Lock()
			c.entries[key] = &cachedGraph{graph: graph, built: time.Now()}
			c.mu.Unlock()
		}
		return graph, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*schema.Graph), nil
}

// Invalidate removes the graph cached under key.
func (c *GraphCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
