// Package paged implements fixed-size paged file I/O. A file is an array of
// pages addressed by 32-bit IDs. Page 0 anchors the allocator metadata
// (free-page set, high-water mark), chained into continuation pages when the
// free set outgrows a single page.
package paged

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/fs"
)

const (
	fileMagic   = 0x43504746 // "CPGF"
	fileVersion = 1

	// DefaultPageSize is used when the table does not override it.
	DefaultPageSize = 4096
	minPageSize     = 512
)

var (
	// ErrBadMagic signals a file that is not a paged file.
	ErrBadMagic = errors.New("paged: bad magic")
	// ErrBadVersion signals an unreadable future format.
	ErrBadVersion = errors.New("paged: unsupported version")
	// ErrChecksum signals allocator metadata corruption.
	ErrChecksum = errors.New("paged: metadata checksum mismatch")
	// ErrPageBounds signals an access past the high-water mark.
	ErrPageBounds = errors.New("paged: page id out of range")
	// ErrReadOnly signals a write on a read-only file.
	ErrReadOnly = errors.New("paged: file is read-only")
)

// File is a paged file. Not safe for concurrent use; callers hold the table
// lock around all access.
type File struct {
	fsys      fs.FileSystem
	f         fs.File
	path      string
	eng       codec.Engine
	pageSize  int
	writable  bool
	free      *roaring.Bitmap
	highWater uint32
	metaChain []uint32 // continuation pages, in chain order
	dirtyMeta bool
}

// Create creates a new paged file. pageSize must be a power of two of at
// least 512 bytes.
func Create(fsys fs.FileSystem, path string, eng codec.Engine, pageSize int) (*File, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if pageSize < minPageSize || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("paged: page size %d is not a power of two >= %d", pageSize, minPageSize)
	}
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	pf := &File{
		fsys:      fsys,
		f:         f,
		path:      path,
		eng:       eng,
		pageSize:  pageSize,
		writable:  true,
		free:      roaring.New(),
		highWater: 1, // page 0 is the meta anchor
		dirtyMeta: true,
	}
	if err := pf.SaveMeta(); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

// Open opens an existing paged file and loads its allocator metadata.
func Open(fsys fs.FileSystem, path string, eng codec.Engine, writable bool) (*File, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := fsys.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	pf := &File{fsys: fsys, f: f, path: path, eng: eng, writable: writable}
	if err := pf.loadMeta(); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

// PageSize returns the fixed page size of the file.
func (pf *File) PageSize() int { return pf.pageSize }

// HighWater returns the next fresh page ID.
func (pf *File) HighWater() uint32 { return pf.highWater }

// ReadPage reads one page.
func (pf *File) ReadPage(id uint32) ([]byte, error) {
	if id >= pf.highWater {
		return nil, fmt.Errorf("%w: %d >= %d", ErrPageBounds, id, pf.highWater)
	}
	buf := make([]byte, pf.pageSize)
	n, err := pf.f.ReadAt(buf, int64(id)*int64(pf.pageSize))
	if err != nil && n != pf.pageSize {
		// A short read at the tail is legal for pages allocated but never
		// written; they read back as zeros.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			for i := n; i < pf.pageSize; i++ {
				buf[i] = 0
			}
			return buf, nil
		}
		return nil, err
	}
	return buf, nil
}

// WritePage writes one page; b must be exactly one page long.
func (pf *File) WritePage(id uint32, b []byte) error {
	if !pf.writable {
		return ErrReadOnly
	}
	if id >= pf.highWater {
		return fmt.Errorf("%w: %d >= %d", ErrPageBounds, id, pf.highWater)
	}
	if len(b) != pf.pageSize {
		return fmt.Errorf("paged: write of %d bytes to %d-byte page", len(b), pf.pageSize)
	}
	_, err := pf.f.WriteAt(b, int64(id)*int64(pf.pageSize))
	return err
}

// Allocate returns a fresh or recycled page ID.
func (pf *File) Allocate() (uint32, error) {
	if !pf.writable {
		return 0, ErrReadOnly
	}
	pf.dirtyMeta = true
	if !pf.free.IsEmpty() {
		id := pf.free.Minimum()
		pf.free.Remove(id)
		return id, nil
	}
	id := pf.highWater
	pf.highWater++
	return id, nil
}

// AllocateRun returns the first ID of n contiguous pages.
func (pf *File) AllocateRun(n int) (uint32, error) {
	if !pf.writable {
		return 0, ErrReadOnly
	}
	if n <= 0 {
		return 0, fmt.Errorf("paged: run of %d pages", n)
	}
	if n == 1 {
		return pf.Allocate()
	}
	pf.dirtyMeta = true
	// Look for a contiguous run inside the free set.
	it := pf.free.Iterator()
	runStart, runLen := uint32(0), 0
	for it.HasNext() {
		id := it.Next()
		if runLen == 0 || id != runStart+uint32(runLen) {
			runStart, runLen = id, 1
		} else {
			runLen++
		}
		if runLen == n {
			pf.free.RemoveRange(uint64(runStart), uint64(runStart)+uint64(n))
			return runStart, nil
		}
	}
	id := pf.highWater
	pf.highWater += uint32(n)
	return id, nil
}

// Free recycles a page.
func (pf *File) Free(id uint32) {
	if id == 0 || id >= pf.highWater {
		return
	}
	pf.free.Add(id)
	pf.dirtyMeta = true
}

// FreeRun recycles n contiguous pages starting at id.
func (pf *File) FreeRun(id uint32, n int) {
	for i := 0; i < n; i++ {
		pf.Free(id + uint32(i))
	}
}

// FreeCount returns the number of recycled pages awaiting reuse.
func (pf *File) FreeCount() uint64 { return pf.free.GetCardinality() }

// IsFree reports whether the page is on the free list.
func (pf *File) IsFree(id uint32) bool { return pf.free.Contains(id) }

// Sync flushes OS buffers to stable storage.
func (pf *File) Sync() error { return pf.f.Sync() }

// Close saves metadata (when writable) and closes the file.
func (pf *File) Close() error {
	if pf.writable && pf.dirtyMeta {
		if err := pf.SaveMeta(); err != nil {
			pf.f.Close()
			return err
		}
	}
	return pf.f.Close()
}
