package paged

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/colstore/internal/codec"
)

// Metadata layout. Page 0 starts with a fixed head
//
//	magic u32 | version u32 | pageSize u32 | highWater u32 | chainLen u32 |
//	chain ids (u32 each)
//
// followed by the body: the serialized free-page set (length-prefixed) and
// an xxhash64 checksum of head+body. The body overflows into the chain
// pages, raw-concatenated. The head must fit in page 0, which bounds the
// chain at roughly pageSize/4 continuation pages, ample for any free set.

const metaHeadFixed = 20

func (pf *File) headSize() int { return metaHeadFixed + 4*len(pf.metaChain) }

// SaveMeta persists the allocator state.
func (pf *File) SaveMeta() error {
	if !pf.writable {
		return ErrReadOnly
	}
	freeBytes, err := pf.free.ToBytes()
	if err != nil {
		return err
	}

	// Grow or shrink the continuation chain until the body fits exactly.
	for {
		bodyLen := 4 + len(freeBytes) + 8 // blob prefix + set + checksum
		capacity := (pf.pageSize - pf.headSize()) + len(pf.metaChain)*pf.pageSize
		if bodyLen <= capacity {
			// Try to give back a page if the body fits without the last one.
			if len(pf.metaChain) > 0 && bodyLen <= capacity-pf.pageSize-4 {
				last := pf.metaChain[len(pf.metaChain)-1]
				pf.metaChain = pf.metaChain[:len(pf.metaChain)-1]
				pf.Free(last)
				// Freeing may grow the set; re-serialize and re-check.
				freeBytes, err = pf.free.ToBytes()
				if err != nil {
					return err
				}
				continue
			}
			break
		}
		id, err := pf.Allocate()
		if err != nil {
			return err
		}
		pf.metaChain = append(pf.metaChain, id)
		// Allocation may shrink the free set; re-serialize.
		freeBytes, err = pf.free.ToBytes()
		if err != nil {
			return err
		}
	}

	w := codec.NewWriter(pf.eng)
	w.Uint32(fileMagic)
	w.Uint32(fileVersion)
	w.Uint32(uint32(pf.pageSize))
	w.Uint32(pf.highWater)
	w.Uint32(uint32(len(pf.metaChain)))
	for _, id := range pf.metaChain {
		w.Uint32(id)
	}
	w.Blob(freeBytes)
	payload, err := w.Bytes()
	if err != nil {
		return err
	}
	sum := xxhash.Sum64(payload)
	w.Uint64(sum)
	payload, _ = w.Bytes()

	// Scatter head+body across page 0 and the chain.
	if err := pf.writeMetaSpan(payload); err != nil {
		return err
	}
	pf.dirtyMeta = false
	return nil
}

func (pf *File) writeMetaSpan(payload []byte) error {
	page := make([]byte, pf.pageSize)
	n := copy(page, payload)
	if _, err := pf.f.WriteAt(page, 0); err != nil {
		return err
	}
	payload = payload[n:]
	for _, id := range pf.metaChain {
		for i := range page {
			page[i] = 0
		}
		n = copy(page, payload)
		payload = payload[n:]
		if _, err := pf.f.WriteAt(page, int64(id)*int64(pf.pageSize)); err != nil {
			return err
		}
	}
	if len(payload) != 0 {
		return fmt.Errorf("paged: metadata overflow of %d bytes", len(payload))
	}
	return nil
}

func (pf *File) loadMeta() error {
	head := make([]byte, metaHeadFixed)
	if _, err := pf.f.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	r := codec.NewReader(pf.eng, head)
	if r.Uint32() != fileMagic {
		return ErrBadMagic
	}
	if v := r.Uint32(); v != fileVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	pf.pageSize = int(r.Uint32())
	if pf.pageSize < minPageSize || pf.pageSize&(pf.pageSize-1) != 0 {
		return fmt.Errorf("%w: implausible page size %d", ErrChecksum, pf.pageSize)
	}
	pf.highWater = r.Uint32()
	chainLen := int(r.Uint32())
	if err := r.Err(); err != nil {
		return err
	}
	if metaHeadFixed+4*chainLen > pf.pageSize {
		return fmt.Errorf("%w: meta chain of %d does not fit a page", ErrChecksum, chainLen)
	}

	page0 := make([]byte, pf.pageSize)
	if _, err := pf.f.ReadAt(page0, 0); err != nil {
		return err
	}
	cr := codec.NewReader(pf.eng, page0[metaHeadFixed:])
	pf.metaChain = make([]uint32, chainLen)
	for i := range pf.metaChain {
		pf.metaChain[i] = cr.Uint32()
	}
	if err := cr.Err(); err != nil {
		return err
	}

	payload := make([]byte, 0, pf.pageSize*(1+chainLen))
	payload = append(payload, page0...)
	for _, id := range pf.metaChain {
		p := make([]byte, pf.pageSize)
		if _, err := pf.f.ReadAt(p, int64(id)*int64(pf.pageSize)); err != nil {
			return err
		}
		payload = append(payload, p...)
	}

	body := codec.NewReader(pf.eng, payload[metaHeadFixed+4*chainLen:])
	freeBytes := body.Blob()
	sum := body.Uint64()
	if err := body.Err(); err != nil {
		return err
	}
	headAndBody := payload[:metaHeadFixed+4*chainLen+4+len(freeBytes)]
	if xxhash.Sum64(headAndBody) != sum {
		return ErrChecksum
	}
	pf.free = roaring.New()
	if err := pf.free.UnmarshalBinary(freeBytes); err != nil {
		return fmt.Errorf("%w: free set: %v", ErrChecksum, err)
	}
	return nil
}
