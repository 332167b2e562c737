package script

import (
	"container/list"
	"sync"
)

// DefaultCacheSize bounds the shared program caches. Long-running trees
// with dynamically generated scripts would otherwise grow without
// limit.
const DefaultCacheSize = 1000

// Cache is a thread-safe bounded LRU keyed by source text. The runtime
// keeps one for compiled dialect programs and one for compiled
// expr-lang conditions.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
}

type cacheEntry[V any] struct {
	key string
	val V
}

// NewCache returns a cache holding at most maxSize entries.
func NewCache[V any](maxSize int) *Cache[V] {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	return &Cache[V]{
		entries: make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached value for key and refreshes its LRU position.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if elem != c.lru.Front() {
		c.lru.MoveToFront(elem)
	}
	return elem.Value.(*cacheEntry[V]).val, true
}

// Put stores key, evicting the least recently used entry when over
// capacity.
func (c *Cache[V]) Put(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry[V]).val = val
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry[V]{key: key, val: val})
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		delete(c.entries, back.Value.(*cacheEntry[V]).key)
		c.lru.Remove(back)
	}
}

// Len returns the current number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

var programCache = NewCache[*Program](DefaultCacheSize)

// Compile parses src through the shared program cache.
func Compile(src string) (*Program, error) {
	if p, ok := programCache.Get(src); ok {
		return p, nil
	}
	p, err := Parse(src)
	if err != nil {
		return nil, err
	}
	programCache.Put(src, p)
	return p, nil
}
