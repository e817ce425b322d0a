package geo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// DefaultCacheSize caps a cache built with a non-positive size.
const DefaultCacheSize = 10000

// Cache is a tiny in-memory TTL cache holding at most size entries.
type Cache[V any] struct {
	mu    sync.RWMutex
	store map[string]cacheEntry[V]
	ttl   time.Duration
	size  int
}

type cacheEntry[V any] struct {
	v  V
	ts time.Time
}

// NewCache creates a cache with the provided TTL and size cap.
func NewCache[V any](ttl time.Duration, size int) *Cache[V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache[V]{store: make(map[string]cacheEntry[V]), ttl: ttl, size: size}
}

// Get returns cached value and true if present and not expired.
func (c *Cache[V]) Get(k string) (V, bool) {
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.v, true
}

// Set stores a value in the cache. A full cache first drops expired entries,
// then the oldest one.
func (c *Cache[V]) Set(k string, v V) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[k]; !ok && len(c.store) >= c.size {
		c.evict(now)
	}
	c.store[k] = cacheEntry[V]{v: v, ts: now}
}

// Len reports how many entries are held, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// evict must be called with mu held.
func (c *Cache[V]) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
			continue
		}
		if oldestKey == "" || e.ts.Before(oldest) {
			oldestKey, oldest = k, e.ts
		}
	}
	if len(c.store) >= c.size {
		delete(c.store, oldestKey)
	}
}

// CachedLookup memoizes successful lookups. Pool matching asks for the same
// leg routes repeatedly, so this keeps provider calls down.
type CachedLookup struct {
	Lookup Lookup
	coords *Cache[models.Coord]
	routes *Cache[Route]
}

// NewCachedLookup wraps l; size caps each of the address and route caches.
func NewCachedLookup(l Lookup, ttl time.Duration, size int) *CachedLookup {
	return &CachedLookup{Lookup: l, coords: NewCache[models.Coord](ttl, size), routes: NewCache[Route](ttl, size)}
}

func (c *CachedLookup) ResolveCoordinates(ctx context.Context, address string) (models.Coord, error) {
	k := normalize(address)
	if v, ok := c.coords.Get(k); ok {
		return v, nil
	}
	v, err := c.Lookup.ResolveCoordinates(ctx, address)
	if err != nil {
		return models.Coord{}, err
	}
	c.coords.Set(k, v)
	return v, nil
}

func (c *CachedLookup) DistanceAndDuration(ctx context.Context, origin, destination string) (Route, error) {
	k := normalize(origin) + "->" + normalize(destination)
	if v, ok := c.routes.Get(k); ok {
		return v, nil
	}
	v, err := c.Lookup.DistanceAndDuration(ctx, origin, destination)
	if err != nil {
		return Route{}, err
	}
	c.routes.Set(k, v)
	return v, nil
}

func normalize(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
