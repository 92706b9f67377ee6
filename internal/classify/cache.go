package classify

import (
	"container/list"
	"sync"
	"time"

	"github.com/metraton/warden/internal/model"
)

// resultCache is a thread-safe LRU cache keyed by normalized command
// signature.
type resultCache struct {
	mu      sync.RWMutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
}

type cacheItem struct {
	key       string
	value     model.ClassificationResult
	expiresAt time.Time
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	return &resultCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached result by signature.
func (c *resultCache) Get(key string) (model.ClassificationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.maxSize <= 0 {
		return model.ClassificationResult{}, false
	}

	elem, exists := c.items[key]
	if !exists {
		return model.ClassificationResult{}, false
	}

	item := elem.Value.(*cacheItem)

	// Expired items are skipped here and swept on Set; removal would
	// need the write lock.
	if time.Now().After(item.expiresAt) {
		return model.ClassificationResult{}, false
	}

	// LRU order is updated on Set only, so Get stays under the read lock.
	return item.value, true
}

// Set stores a result under the given signature.
func (c *resultCache) Set(key string, value model.ClassificationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return
	}

	if elem, exists := c.items[key]; exists {
		c.lru.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		item.value = value
		item.expiresAt = time.Now().Add(c.ttl)
		return
	}

	item := &cacheItem{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		c.evictOldest()
	}

	if c.lru.Len()%100 == 0 {
		c.cleanExpired()
	}
}

func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}

func (c *resultCache) evictOldest() {
	elem := c.lru.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

func (c *resultCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	item := elem.Value.(*cacheItem)
	delete(c.items, item.key)
}

func (c *resultCache) cleanExpired() {
	now := time.Now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		item := elem.Value.(*cacheItem)
		if now.After(item.expiresAt) {
			c.removeElement(elem)
		}
		elem = prev
	}
}

func (c *resultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// CacheStats describes the current occupancy of the result cache.
type CacheStats struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
	Expired int `json:"expired"`
}

func (c *resultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
	}

	now := time.Now()
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem)
		if now.After(item.expiresAt) {
			stats.Expired++
		}
	}

	return stats
}
