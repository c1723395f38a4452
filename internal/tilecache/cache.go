// Package tilecache keeps GPU-resident tiles in a bounded LRU.
//
// Evicted and replaced entries are destroyed synchronously, so the cache
// must only be used from the goroutine that owns the GPU device.
package tilecache

import (
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/tile"
)

// DefaultCapacity is the number of tiles kept resident.
const DefaultCapacity = 128

// Resource is a cached value owning GPU handles.
type Resource interface {
	Destroy()
}

// Cache is an LRU of resources keyed by tile coordinate.
// Cache is not safe for concurrent use.
type Cache[V Resource] struct {
	entries  map[tile.Coord]*lruNode[V]
	order    lruList[V]
	capacity int
}

// New creates a cache holding at most capacity tiles. A capacity below
// one selects DefaultCapacity.
func New[V Resource](capacity int) *Cache[V] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{
		entries:  make(map[tile.Coord]*lruNode[V]),
		capacity: capacity,
	}
}

// Upload inserts v under c, replacing (and destroying) any previous value.
// When a new key would exceed capacity the least recently used tiles are
// destroyed first.
func (c *Cache[V]) Upload(key tile.Coord, v V) {
	if node, ok := c.entries[key]; ok {
		old := node.value
		node.value = v
		c.order.MoveToFront(node)
		if any(old) != any(v) {
			old.Destroy()
		}
		return
	}
	for len(c.entries) >= c.capacity {
		if !c.evictOldest() {
			break
		}
	}
	c.entries[key] = c.order.PushFront(key, v)
	metrics.TilesResident.Set(float64(len(c.entries)))
}

// Get returns the tile and marks it most recently used.
func (c *Cache[V]) Get(key tile.Coord) (V, bool) {
	node, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(node)
	return node.value, true
}

// Peek returns the tile without touching recency.
func (c *Cache[V]) Peek(key tile.Coord) (V, bool) {
	node, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return node.value, true
}

// Has reports whether key is resident.
func (c *Cache[V]) Has(key tile.Coord) bool {
	_, ok := c.entries[key]
	return ok
}

// Touch marks key most recently used.
func (c *Cache[V]) Touch(key tile.Coord) {
	if node, ok := c.entries[key]; ok {
		c.order.MoveToFront(node)
	}
}

// Evict destroys and removes key.
func (c *Cache[V]) Evict(key tile.Coord) {
	node, ok := c.entries[key]
	if !ok {
		return
	}
	c.order.Remove(node)
	delete(c.entries, key)
	node.value.Destroy()
	metrics.TileEvictions.Inc()
	metrics.TilesResident.Set(float64(len(c.entries)))
}

// Clear destroys every tile.
func (c *Cache[V]) Clear() {
	for n := c.order.head; n != nil; n = n.next {
		n.value.Destroy()
	}
	c.order.Clear()
	c.entries = make(map[tile.Coord]*lruNode[V])
	metrics.TilesResident.Set(0)
}

// ForEach visits tiles from most to least recently used without touching
// recency. fn must not modify the cache.
func (c *Cache[V]) ForEach(fn func(tile.Coord, V)) {
	for n := c.order.head; n != nil; n = n.next {
		fn(n.key, n.value)
	}
}

// Keys returns the resident coordinates, most recently used first.
func (c *Cache[V]) Keys() []tile.Coord {
	out := make([]tile.Coord, 0, len(c.entries))
	for n := c.order.head; n != nil; n = n.next {
		out = append(out, n.key)
	}
	return out
}

// Len returns the number of resident tiles.
func (c *Cache[V]) Len() int { return len(c.entries) }

// Capacity returns the maximum number of resident tiles.
func (c *Cache[V]) Capacity() int { return c.capacity }

func (c *Cache[V]) evictOldest() bool {
	node := c.order.Oldest()
	if node == nil {
		return false
	}
	c.Evict(node.key)
	return true
}
