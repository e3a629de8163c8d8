package incremental

import (
	"fmt"

	"github.com/hupe1980/colstore/internal/bucket"
	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/sm"
)

// ival is one decoded interval entry. start is the absolute row; the
// interval runs to the next entry's start or the bucket's rowHi.
type ival struct {
	start int
	val   []byte
}

// decBucket is the decoded image of one bucket: per resident column a
// sorted entry sequence whose first entry starts at rowLo.
type decBucket struct {
	rowLo int
	cols  [][]ival
}

// On-disk bucket layout (table endianness):
//
//	u32 column count
//	per column: u32 entry count, then entries of
//	  u32 start (relative to rowLo) | u32 value length | value bytes

func (m *Manager) decodeBucket(id uint32, rowLo int) (*decBucket, error) {
	h, err := m.store.Acquire(id, bucket.ReadMode)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	r := codec.NewReader(m.ctx.Eng, h.Data)
	nc := int(r.Uint32())
	if nc != len(m.cols) {
		return nil, fmt.Errorf("%w: bucket %d holds %d columns, manager has %d",
			sm.ErrCorrupt, id, nc, len(m.cols))
	}
	db := &decBucket{rowLo: rowLo, cols: make([][]ival, nc)}
	for c := 0; c < nc; c++ {
		ne := int(r.Uint32())
		entries := make([]ival, ne)
		for e := 0; e < ne; e++ {
			rel := int(r.Uint32())
			val := r.Blob()
			entries[e] = ival{start: rowLo + rel, val: val}
		}
		db.cols[c] = entries
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: bucket %d: %v", sm.ErrCorrupt, id, err)
	}
	for c, entries := range db.cols {
		if len(entries) == 0 || entries[0].start != rowLo {
			return nil, fmt.Errorf("%w: bucket %d column %d does not anchor at row %d",
				sm.ErrCorrupt, id, c, rowLo)
		}
	}
	return db, nil
}

func (m *Manager) encodeBucket(db *decBucket) ([]byte, error) {
	w := codec.NewWriter(m.ctx.Eng)
	w.Uint32(uint32(len(db.cols)))
	for _, entries := range db.cols {
		w.Uint32(uint32(len(entries)))
		for _, e := range entries {
			w.Uint32(uint32(e.start - db.rowLo))
			w.Blob(e.val)
		}
	}
	return w.Bytes()
}

// encodedSize computes the byte size without materializing the encoding.
func encodedSize(db *decBucket) int {
	n := 4
	for _, entries := range db.cols {
		n += 4
		for _, e := range entries {
			n += 8 + len(e.val)
		}
	}
	return n
}

// writeDecoded encodes db into bucket id; the caller has ensured it fits.
func (m *Manager) writeDecoded(id uint32, db *decBucket) error {
	data, err := m.encodeBucket(db)
	if err != nil {
		return err
	}
	if len(data) > m.bucketSize {
		return fmt.Errorf("%w: encoded bucket %d bytes exceeds %d", sm.ErrCorrupt, len(data), m.bucketSize)
	}
	h, err := m.store.Acquire(id, bucket.WriteMode)
	if err != nil {
		return err
	}
	defer h.Release()
	h.SetData(data)
	return nil
}

// activeIdx returns the position of the interval covering row within one
// column's entries (greatest start <= row).
func activeIdx(entries []ival, row int) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].start <= row {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}
