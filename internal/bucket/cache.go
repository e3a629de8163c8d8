package bucket

import (
	"container/list"
	"sort"
	"sync/atomic"
)

// cache is a pin-counted LRU of decoded buckets. Pinned entries are never
// evicted; eviction of a dirty entry writes it back first. The cache is not
// itself locked; the owning table serializes access.
type cache struct {
	store     *Store
	slots     int
	items     map[uint32]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	id    uint32
	data  []byte
	dirty bool
	pins  int
}

func newCache(store *Store, slots int) *cache {
	if slots < 2 {
		slots = 2
	}
	return &cache{
		store:     store,
		slots:     slots,
		items:     make(map[uint32]*list.Element),
		evictList: list.New(),
	}
}

func (c *cache) acquire(id uint32) (*entry, error) {
	if el, ok := c.items[id]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		ent := el.Value.(*entry)
		ent.pins++
		return ent, nil
	}
	c.misses.Add(1)
	data, err := c.store.readBucket(id)
	if err != nil {
		return nil, err
	}
	// Pin before the insert's eviction sweep so the fresh entry can never
	// be its own victim.
	ent := &entry{id: id, data: data, pins: 1}
	c.items[id] = c.evictList.PushFront(ent)
	c.evict()
	return ent, nil
}

func (c *cache) insert(id uint32, data []byte, dirty bool) *entry {
	if el, ok := c.items[id]; ok {
		// Reused bucket ID after Drop+Allocate.
		ent := el.Value.(*entry)
		ent.data = data
		ent.dirty = dirty
		c.evictList.MoveToFront(el)
		return ent
	}
	ent := &entry{id: id, data: data, dirty: dirty}
	c.items[id] = c.evictList.PushFront(ent)
	c.evict()
	return ent
}

func (c *cache) release(ent *entry) {
	if ent.pins > 0 {
		ent.pins--
	}
	if len(c.items) > c.slots {
		c.evict()
	}
}

// evict walks from the LRU tail, dropping unpinned entries until the cache
// fits its slot budget. Dirty victims are written back first.
func (c *cache) evict() {
	el := c.evictList.Back()
	for el != nil && len(c.items) > c.slots {
		prev := el.Prev()
		ent := el.Value.(*entry)
		if ent.pins == 0 {
			if ent.dirty {
				if err := c.store.writeBucket(ent.id, ent.data); err != nil {
					// Keep the entry; the error resurfaces on Flush.
					el = prev
					continue
				}
				ent.dirty = false
			}
			c.evictList.Remove(el)
			delete(c.items, ent.id)
		}
		el = prev
	}
}

func (c *cache) invalidate(id uint32) error {
	el, ok := c.items[id]
	if !ok {
		return nil
	}
	ent := el.Value.(*entry)
	if ent.pins > 0 {
		return ErrPinned
	}
	c.evictList.Remove(el)
	delete(c.items, id)
	return nil
}

// flush writes every dirty entry in ascending bucket order so repeated
// flushes touch the file deterministically.
func (c *cache) flush() (bool, error) {
	ids := make([]uint32, 0, len(c.items))
	for id, el := range c.items {
		if el.Value.(*entry).dirty {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ent := c.items[id].Value.(*entry)
		if err := c.store.writeBucket(ent.id, ent.data); err != nil {
			return len(ids) > 0, err
		}
		ent.dirty = false
	}
	return len(ids) > 0, nil
}

func (c *cache) clear() {
	c.items = make(map[uint32]*list.Element)
	c.evictList.Init()
}

func (c *cache) stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
