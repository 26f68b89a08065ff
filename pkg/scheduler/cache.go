package scheduler

import (
	"sort"
	"time"
)

// defaultMaxCacheSize bounds the result cache.
const defaultMaxCacheSize = 1000

// cachedResult is a bounded result-cache entry. Error results are never
// stored — only successful outputs are reused.
type cachedResult struct {
	output      interface{}
	completedAt time.Time
}

// resultCache is the scheduler's single-owner, bounded result cache keyed
// by a task's Key. When full, the oldest 80% (by completedAt) are
// evicted. Results live only for the process lifetime; durable run records
// belong to pkg/stores.
type resultCache struct {
	maxSize int
	entries map[string]cachedResult
}

func newResultCache(maxSize int) *resultCache {
	if maxSize <= 0 {
		maxSize = defaultMaxCacheSize
	}
	return &resultCache{maxSize: maxSize, entries: make(map[string]cachedResult)}
}

// Get returns the cached output for key, if any.
func (c *resultCache) Get(key string) (cachedResult, bool) {
	r, ok := c.entries[key]
	return r, ok
}

// Put stores a successful result, evicting the oldest 80% of entries first
// if the cache is at capacity.
func (c *resultCache) Put(key string, output interface{}, completedAt time.Time) {
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = cachedResult{output: output, completedAt: completedAt}
}

func (c *resultCache) evictOldest() {
	type kv struct {
		key string
		at  time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, v := range c.entries {
		all = append(all, kv{k, v.completedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	evictCount := int(float64(len(all)) * 0.8)
	for i := 0; i < evictCount; i++ {
		delete(c.entries, all[i].key)
	}
}

// Len reports the current number of cached entries.
func (c *resultCache) Len() int { return len(c.entries) }
