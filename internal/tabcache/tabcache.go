// Package tabcache deduplicates opens of the same table path within one
// process. All handles produced through the cache observe one underlying
// table state and coordinate locks through it.
package tabcache

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	val  any
	refs int
}

// Cache is a reference-counted open-table cache keyed by absolute path.
type Cache struct {
	mu      sync.Mutex
	group   singleflight.Group
	entries map[string]*entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Acquire returns the cached value for key, invoking open exactly once per
// key across concurrent callers. shared is false when this call opened the
// value for itself alone, and true when the value was cached already or its
// open was shared with concurrent callers.
func (c *Cache) Acquire(key string, open func() (any, error)) (val any, shared bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.refs++
		c.mu.Unlock()
		return e.val, true, nil
	}
	c.mu.Unlock()

	// The flight registers the entry with zero references; every caller
	// that receives the value, runner and singleflight waiters alike, takes
	// its reference afterwards so Release bookkeeping balances.
	v, err, shared := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			val := e.val
			c.mu.Unlock()
			return val, nil
		}
		c.mu.Unlock()

		opened, err := open()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = &entry{val: opened}
		c.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.val == v {
		e.refs++
	} else {
		c.entries[key] = &entry{val: v, refs: 1}
	}
	c.mu.Unlock()
	return v, shared, nil
}

// Release drops one reference; it reports whether this was the last one,
// in which case the entry is gone and the caller should close the value.
func (c *Cache) Release(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return true
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, key)
		return true
	}
	return false
}

// Len reports the number of cached tables.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
