// Package bucket implements the bucket substrate shared by the standard and
// incremental storage managers: fixed-size byte containers addressed by
// 32-bit IDs, a recycled-ID free list, and a pin-counted LRU cache of
// decoded buckets with dirty write-back.
package bucket

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/paged"
)

var (
	// ErrNotAllocated signals access to a bucket ID that is free or past the
	// high-water mark.
	ErrNotAllocated = errors.New("bucket: id not allocated")
	// ErrPinned signals an attempt to drop a bucket that is still acquired.
	ErrPinned = errors.New("bucket: still pinned")
)

// Mode selects the acquisition flavor.
type Mode int

const (
	// ReadMode pins a bucket for reading.
	ReadMode Mode = iota
	// WriteMode pins a bucket for mutation and marks it dirty.
	WriteMode
)

// Store owns the buckets of one storage manager instance.
type Store struct {
	file       *paged.File
	bucketSize int
	pagesPer   int
	loc        []uint32 // bucket id -> first page of its run
	free       *roaring.Bitmap
	highWater  uint32
	cache      *cache
	shadow     bool
	dirtyState bool
}

// NewStore creates an empty bucket store over file. bucketSize is rounded
// up to a whole number of pages on disk; the logical bucket keeps its exact
// byte size.
func NewStore(file *paged.File, bucketSize, cacheSlots int) (*Store, error) {
	if bucketSize <= 0 {
		return nil, fmt.Errorf("bucket: size %d", bucketSize)
	}
	s := &Store{
		file:       file,
		bucketSize: bucketSize,
		pagesPer:   (bucketSize + file.PageSize() - 1) / file.PageSize(),
		free:       roaring.New(),
		shadow:     true,
		dirtyState: true,
	}
	s.cache = newCache(s, cacheSlots)
	return s, nil
}

// OpenStore reconstructs a store from its persisted state blob.
func OpenStore(file *paged.File, eng codec.Engine, state []byte, cacheSlots int) (*Store, error) {
	r := codec.NewReader(eng, state)
	bucketSize := int(r.Uint32())
	highWater := r.Uint32()
	n := int(r.Uint32())
	loc := make([]uint32, n)
	for i := range loc {
		loc[i] = r.Uint32()
	}
	freeBytes := r.Blob()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("bucket: state: %w", err)
	}
	free := roaring.New()
	if err := free.UnmarshalBinary(freeBytes); err != nil {
		return nil, fmt.Errorf("bucket: state free list: %w", err)
	}
	if bucketSize <= 0 {
		return nil, fmt.Errorf("bucket: state bucket size %d", bucketSize)
	}
	s := &Store{
		file:       file,
		bucketSize: bucketSize,
		pagesPer:   (bucketSize + file.PageSize() - 1) / file.PageSize(),
		loc:        loc,
		free:       free,
		highWater:  highWater,
		shadow:     true,
	}
	s.cache = newCache(s, cacheSlots)
	return s, nil
}

// State serializes the bucket index for the owning SM's spec record.
func (s *Store) State(eng codec.Engine) ([]byte, error) {
	freeBytes, err := s.free.ToBytes()
	if err != nil {
		return nil, err
	}
	w := codec.NewWriter(eng)
	w.Uint32(uint32(s.bucketSize))
	w.Uint32(s.highWater)
	w.Uint32(uint32(len(s.loc)))
	for _, p := range s.loc {
		w.Uint32(p)
	}
	w.Blob(freeBytes)
	return w.Bytes()
}

// BucketSize returns the logical byte size of every bucket.
func (s *Store) BucketSize() int { return s.bucketSize }

// HighWater returns the next fresh bucket ID.
func (s *Store) HighWater() uint32 { return s.highWater }

// FreeCount returns the number of recycled bucket IDs.
func (s *Store) FreeCount() uint64 { return s.free.GetCardinality() }

// IsAllocated reports whether id names a live bucket.
func (s *Store) IsAllocated(id uint32) bool {
	return id < s.highWater && !s.free.Contains(id)
}

// Allocate returns a zeroed bucket, recycling a freed ID when possible.
func (s *Store) Allocate() (uint32, error) {
	var id uint32
	if !s.free.IsEmpty() {
		id = s.free.Minimum()
		s.free.Remove(id)
	} else {
		id = s.highWater
		s.highWater++
	}
	start, err := s.file.AllocateRun(s.pagesPer)
	if err != nil {
		// Roll the ID back so free/allocated stay disjoint.
		if id == s.highWater-1 {
			s.highWater--
		} else {
			s.free.Add(id)
		}
		return 0, err
	}
	for int(id) >= len(s.loc) {
		s.loc = append(s.loc, 0)
	}
	s.loc[id] = start
	s.dirtyState = true
	s.cache.insert(id, make([]byte, s.bucketSize), true)
	return id, nil
}

// Acquire pins the bucket and returns a handle to its bytes. WriteMode
// marks it dirty. The handle must be released on every path.
func (s *Store) Acquire(id uint32, mode Mode) (*Handle, error) {
	if !s.IsAllocated(id) {
		return nil, fmt.Errorf("%w: %d", ErrNotAllocated, id)
	}
	ent, err := s.cache.acquire(id)
	if err != nil {
		return nil, err
	}
	if mode == WriteMode {
		ent.dirty = true
	}
	return &Handle{s: s, ent: ent, ID: id, Data: ent.data}, nil
}

// Drop invalidates any cached copy, releases the bucket's pages and pushes
// the ID onto the free list.
func (s *Store) Drop(id uint32) error {
	if !s.IsAllocated(id) {
		return fmt.Errorf("%w: %d", ErrNotAllocated, id)
	}
	if err := s.cache.invalidate(id); err != nil {
		return err
	}
	s.file.FreeRun(s.loc[id], s.pagesPer)
	s.loc[id] = 0
	s.free.Add(id)
	s.dirtyState = true
	return nil
}

// Flush writes every dirty bucket back to disk and saves the allocator
// metadata. It reports whether anything was written.
func (s *Store) Flush(sync bool) (bool, error) {
	wrote, err := s.cache.flush()
	if err != nil {
		return wrote, err
	}
	if wrote || s.dirtyState {
		if err := s.file.SaveMeta(); err != nil {
			return true, err
		}
		s.dirtyState = false
		wrote = true
	}
	if sync && wrote {
		if err := s.file.Sync(); err != nil {
			return true, err
		}
	}
	return wrote, nil
}

// Close flushes and drops the cache. The paged file stays open; it is owned
// by the storage manager.
func (s *Store) Close() error {
	_, err := s.Flush(false)
	s.cache.clear()
	return err
}

// CacheStats reports cache hit/miss counters.
func (s *Store) CacheStats() (hits, misses int64) { return s.cache.stats() }

func (s *Store) readBucket(id uint32) ([]byte, error) {
	data := make([]byte, 0, s.pagesPer*s.file.PageSize())
	start := s.loc[id]
	for i := 0; i < s.pagesPer; i++ {
		p, err := s.file.ReadPage(start + uint32(i))
		if err != nil {
			return nil, err
		}
		data = append(data, p...)
	}
	return data[:s.bucketSize], nil
}

// writeBucket persists a bucket image. With shadow writes the new image
// lands on a fresh page run and the bucket map is repointed, so a crash
// mid-write leaves the previous image intact behind the previous map.
func (s *Store) writeBucket(id uint32, data []byte) error {
	start := s.loc[id]
	if s.shadow {
		fresh, err := s.file.AllocateRun(s.pagesPer)
		if err != nil {
			return err
		}
		if err := s.writePages(fresh, data); err != nil {
			s.file.FreeRun(fresh, s.pagesPer)
			return err
		}
		s.file.FreeRun(start, s.pagesPer)
		s.loc[id] = fresh
		s.dirtyState = true
		return nil
	}
	return s.writePages(start, data)
}

func (s *Store) writePages(start uint32, data []byte) error {
	page := make([]byte, s.file.PageSize())
	for i := 0; i < s.pagesPer; i++ {
		for j := range page {
			page[j] = 0
		}
		lo := i * s.file.PageSize()
		if lo < len(data) {
			copy(page, data[lo:])
		}
		if err := s.file.WritePage(start+uint32(i), page); err != nil {
			return err
		}
	}
	return nil
}

// Handle is a pinned view of one bucket's bytes. Mutations through Data are
// only persisted when the handle was acquired in WriteMode (or MarkDirty is
// called) and the store is flushed.
type Handle struct {
	s        *Store
	ent      *entry
	released bool

	ID   uint32
	Data []byte
}

// MarkDirty flags the bucket for write-back.
func (h *Handle) MarkDirty() { h.ent.dirty = true }

// SetData replaces the bucket image (used after re-encoding); the image is
// truncated or zero-padded to the bucket size.
func (h *Handle) SetData(b []byte) {
	data := h.ent.data
	n := copy(data, b)
	for i := n; i < len(data); i++ {
		data[i] = 0
	}
	h.ent.dirty = true
}

// Release unpins the bucket. Safe to call more than once.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.s.cache.release(h.ent)
}
