package incremental

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

func (m *Manager) colIndex(name string) (int, error) {
	i, ok := m.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", sm.ErrUnknownColumn, name)
	}
	return i, nil
}

func (m *Manager) checkRow(row int) error {
	if row < 0 || row >= m.nrow {
		return fmt.Errorf("%w: %d of %d", sm.ErrRowOutOfRange, row, m.nrow)
	}
	return nil
}

// GetScalar reads one cell: the value of the interval with the greatest
// start_row at or below the row.
func (m *Manager) GetScalar(col string, row int) (any, error) {
	ci, err := m.colIndex(col)
	if err != nil {
		return nil, err
	}
	if err := m.checkRow(row); err != nil {
		return nil, err
	}
	bIdx := m.bucketAt(row)
	db, err := m.decodeBucket(m.index[bIdx].id, m.index[bIdx].rowLo)
	if err != nil {
		return nil, err
	}
	entries := db.cols[ci]
	i := activeIdx(entries, row)
	v, _, err := codec.DecodeScalar(m.ctx.Eng, m.cols[ci].desc.Type, entries[i].val)
	return v, err
}

// PutScalar writes one cell, splitting the active interval and collapsing
// equal neighbors so no two adjacent intervals ever encode the same value.
func (m *Manager) PutScalar(col string, row int, v any) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	ci, err := m.colIndex(col)
	if err != nil {
		return err
	}
	if err := m.checkRow(row); err != nil {
		return err
	}
	c := m.cols[ci]
	if codec.TypeOf(v) != c.desc.Type {
		return fmt.Errorf("%w: %T into %s column %q", sm.ErrTypeMismatch, v, c.desc.Type, col)
	}
	newVal, err := codec.AppendScalar(m.ctx.Eng, nil, c.desc.Type, v)
	if err != nil {
		return err
	}

	bIdx := m.bucketAt(row)
	db, err := m.decodeBucket(m.index[bIdx].id, m.index[bIdx].rowLo)
	if err != nil {
		return err
	}
	entries := db.cols[ci]
	i := activeIdx(entries, row)
	if bytes.Equal(entries[i].val, newVal) {
		return nil
	}
	hi := m.rowHi(bIdx)
	intervalEnd := hi
	if i+1 < len(entries) {
		intervalEnd = entries[i+1].start
	}

	// Split the active interval into at most three.
	repl := make([]ival, 0, 3)
	if entries[i].start < row {
		repl = append(repl, entries[i])
	}
	repl = append(repl, ival{start: row, val: newVal})
	if row+1 < intervalEnd {
		repl = append(repl, ival{start: row + 1, val: entries[i].val})
	}
	out := make([]ival, 0, len(entries)+2)
	out = append(out, entries[:i]...)
	p := len(out) + len(repl) - 1 // position of the new-value entry...
	if row+1 < intervalEnd {
		p--
	}
	out = append(out, repl...)
	out = append(out, entries[i+1:]...)

	// Shift-left: collapse equal neighbors of the new entry. When both
	// sides match this removes two entries at once.
	if p+1 < len(out) && bytes.Equal(out[p].val, out[p+1].val) {
		out = append(out[:p+1], out[p+2:]...)
	}
	if p > 0 && bytes.Equal(out[p-1].val, out[p].val) {
		out = append(out[:p], out[p+1:]...)
	}
	db.cols[ci] = out
	return m.writeBack(bIdx, db)
}

// writeBack stores a mutated bucket, splitting it as often as needed to
// respect the byte budget.
func (m *Manager) writeBack(pos int, db *decBucket) error {
	if encodedSize(db) <= m.bucketSize {
		return m.writeDecoded(m.index[pos].id, db)
	}
	return m.splitAndStore(pos, db, 0)
}

func (m *Manager) splitAndStore(pos int, db *decBucket, depth int) error {
	if encodedSize(db) <= m.bucketSize {
		return m.writeDecoded(m.index[pos].id, db)
	}
	if depth > 32 {
		return fmt.Errorf("%w: bucket split did not converge", sm.ErrCorrupt)
	}
	hi := m.rowHi(pos)
	r, ok := m.chooseSplit(db, hi, pos == len(m.index)-1)
	if !ok {
		return fmt.Errorf("%w: entry too large for bucket size %d", sm.ErrCorrupt, m.bucketSize)
	}
	left, right := splitAt(db, r)
	id, err := m.store.Allocate()
	if err != nil {
		return err
	}
	m.index = append(m.index, idxEntry{})
	copy(m.index[pos+2:], m.index[pos+1:])
	m.index[pos+1] = idxEntry{rowLo: r, id: id}
	if m.log != nil {
		m.log.Debug("incremental bucket split",
			"manager", m.name, "at_row", r, "left", m.index[pos].id, "right", id)
	}
	if err := m.splitAndStore(pos, left, depth+1); err != nil {
		return err
	}
	return m.splitAndStore(pos+1, right, depth+1)
}

// chooseSplit picks the boundary row. For an overflow at the tail of the
// last bucket the cheap append path migrates only the trailing entries;
// otherwise the boundary balancing both halves wins.
func (m *Manager) chooseSplit(db *decBucket, hi int, lastBucket bool) (int, bool) {
	if lastBucket {
		// Append split: keep everything but the latest run in place.
		tail := db.rowLo
		for _, entries := range db.cols {
			if s := entries[len(entries)-1].start; s > tail {
				tail = s
			}
		}
		if tail > db.rowLo && tail < hi {
			left, _ := splitAt(db, tail)
			if encodedSize(left) <= m.bucketSize {
				return tail, true
			}
		}
	}

	candidates := make(map[int]struct{})
	for _, entries := range db.cols {
		for _, e := range entries {
			if e.start > db.rowLo && e.start < hi {
				candidates[e.start] = struct{}{}
			}
		}
	}
	if mid := (db.rowLo + hi) / 2; mid > db.rowLo && mid < hi {
		candidates[mid] = struct{}{}
	}
	best, bestSize := 0, -1
	for r := range candidates {
		left, right := splitAt(db, r)
		sz := encodedSize(left)
		if s := encodedSize(right); s > sz {
			sz = s
		}
		if bestSize < 0 || sz < bestSize {
			best, bestSize = r, sz
		}
	}
	if bestSize < 0 {
		return 0, false
	}
	return best, true
}

// splitAt partitions db at boundary row r. The right half anchors every
// column at r, duplicating the active value when no entry starts there.
func splitAt(db *decBucket, r int) (*decBucket, *decBucket) {
	left := &decBucket{rowLo: db.rowLo, cols: make([][]ival, len(db.cols))}
	right := &decBucket{rowLo: r, cols: make([][]ival, len(db.cols))}
	for c, entries := range db.cols {
		cut := 0
		for cut < len(entries) && entries[cut].start < r {
			cut++
		}
		l := append([]ival(nil), entries[:cut]...)
		var rr []ival
		if cut < len(entries) && entries[cut].start == r {
			rr = append([]ival(nil), entries[cut:]...)
		} else {
			rr = make([]ival, 0, len(entries)-cut+1)
			rr = append(rr, ival{start: r, val: entries[cut-1].val})
			rr = append(rr, entries[cut:]...)
		}
		left.cols[c] = l
		right.cols[c] = rr
	}
	return left, right
}

// AddRows appends rows; they extend each column's final interval and so
// inherit its value.
func (m *Manager) AddRows(n int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if n < 0 {
		return fmt.Errorf("incremental: add %d rows", n)
	}
	m.nrow += n
	return nil
}

// RemoveRow deletes one row: the containing interval contracts, emptied
// intervals drop, and any equal neighbors exposed by the drop merge.
func (m *Manager) RemoveRow(row int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if err := m.checkRow(row); err != nil {
		return err
	}
	bIdx := m.bucketAt(row)
	lo := m.index[bIdx].rowLo
	hi := m.rowHi(bIdx)
	db, err := m.decodeBucket(m.index[bIdx].id, lo)
	if err != nil {
		return err
	}

	for c, entries := range db.cols {
		i := activeIdx(entries, row)
		length := hi - entries[i].start
		if i+1 < len(entries) {
			length = entries[i+1].start - entries[i].start
		}
		for j := i + 1; j < len(entries); j++ {
			entries[j].start--
		}
		if length == 1 {
			switch {
			case i+1 < len(entries):
				// The successor slid into the emptied slot.
				entries = append(entries[:i], entries[i+1:]...)
				if i > 0 && i < len(entries) && bytes.Equal(entries[i-1].val, entries[i].val) {
					entries = append(entries[:i], entries[i+1:]...)
				}
			case i > 0:
				entries = entries[:i]
			}
			// A sole emptied entry stays to anchor the bucket; the bucket
			// itself is released below once its coverage is gone.
		}
		db.cols[c] = entries
	}

	for j := bIdx + 1; j < len(m.index); j++ {
		m.index[j].rowLo--
	}
	m.nrow--

	if hi-1 == lo {
		// Bucket no longer covers any row.
		if len(m.index) == 1 {
			// Reset the sole bucket to creation state.
			for c := range db.cols {
				zero, err := codec.AppendScalar(m.ctx.Eng, nil, m.cols[c].desc.Type, codec.Zero(m.cols[c].desc.Type))
				if err != nil {
					return err
				}
				db.cols[c] = []ival{{start: 0, val: zero}}
			}
			return m.writeDecoded(m.index[0].id, db)
		}
		id := m.index[bIdx].id
		m.index = append(m.index[:bIdx], m.index[bIdx+1:]...)
		return m.store.Drop(id)
	}
	return m.writeDecoded(m.index[bIdx].id, db)
}

// RemoveColumn drops one column from every bucket.
func (m *Manager) RemoveColumn(name string) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	ci, err := m.colIndex(name)
	if err != nil {
		return err
	}
	decoded := make([]*decBucket, len(m.index))
	for i, e := range m.index {
		db, err := m.decodeBucket(e.id, e.rowLo)
		if err != nil {
			return err
		}
		db.cols = append(db.cols[:ci], db.cols[ci+1:]...)
		decoded[i] = db
	}
	m.cols = append(m.cols[:ci], m.cols[ci+1:]...)
	delete(m.byName, name)
	for n, i := range m.byName {
		if i > ci {
			m.byName[n] = i - 1
		}
	}
	for i, db := range decoded {
		if err := m.writeDecoded(m.index[i].id, db); err != nil {
			return err
		}
	}
	return nil
}

// GetArray is unsupported: the incremental manager holds scalar columns.
func (m *Manager) GetArray(string, int) (*schema.Array, error) {
	return nil, fmt.Errorf("%w: array get on incremental manager %q", sm.ErrUnsupported, m.name)
}

// PutArray is unsupported.
func (m *Manager) PutArray(string, int, *schema.Array) error {
	return fmt.Errorf("%w: array put on incremental manager %q", sm.ErrUnsupported, m.name)
}

// GetSlice is unsupported.
func (m *Manager) GetSlice(string, int, schema.Slicer) (*schema.Array, error) {
	return nil, fmt.Errorf("%w: slice get on incremental manager %q", sm.ErrUnsupported, m.name)
}

// PutSlice is unsupported.
func (m *Manager) PutSlice(string, int, schema.Slicer, *schema.Array) error {
	return fmt.Errorf("%w: slice put on incremental manager %q", sm.ErrUnsupported, m.name)
}

// CanRemoveRow reports whether the row can be removed; any valid row can.
func (m *Manager) CanRemoveRow(row int) bool {
	return row >= 0 && row < m.nrow
}
