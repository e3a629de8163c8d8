package standard

import (
	"fmt"

	"github.com/hupe1980/colstore/internal/bucket"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

func (m *Manager) bucketsNeeded(nrow int) int {
	if nrow == 0 {
		return 0
	}
	return (nrow + m.rowsPer - 1) / m.rowsPer
}

// AddRows appends n zero-initialized rows.
func (m *Manager) AddRows(n int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if n < 0 {
		return fmt.Errorf("standard: add %d rows", n)
	}
	target := m.bucketsNeeded(m.nrow + n)
	for len(m.buckets) < target {
		id, err := m.main.Allocate()
		if err != nil {
			return err
		}
		m.buckets = append(m.buckets, id)
	}
	m.nrow += n
	return nil
}

// RemoveRow deletes one row, compacting the remaining rows down.
func (m *Manager) RemoveRow(row int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if err := m.checkRow(row); err != nil {
		return err
	}
	// Release indirect records owned by the doomed row before its slots are
	// overwritten by the shift.
	for ci, c := range m.cols {
		if c.inline {
			continue
		}
		slot, err := m.readSlot(ci, row)
		if err != nil {
			return err
		}
		if err := m.freeSlotChain(slot); err != nil {
			return err
		}
	}
	// Shift each subsequent row one position down, whole strides at a time.
	for r := row + 1; r < m.nrow; r++ {
		if err := m.copyRow(r, r-1); err != nil {
			return err
		}
	}
	// Zero the vacated last-row slots so stale indirect references cannot
	// resurface.
	if err := m.zeroRow(m.nrow - 1); err != nil {
		return err
	}
	m.nrow--
	for len(m.buckets) > m.bucketsNeeded(m.nrow) {
		last := m.buckets[len(m.buckets)-1]
		if err := m.main.Drop(last); err != nil {
			return err
		}
		m.buckets = m.buckets[:len(m.buckets)-1]
	}
	return nil
}

func (m *Manager) copyRow(src, dst int) error {
	sb := m.buckets[src/m.rowsPer]
	db := m.buckets[dst/m.rowsPer]
	so := (src % m.rowsPer) * m.stride
	do := (dst % m.rowsPer) * m.stride
	sh, err := m.main.Acquire(sb, bucket.ReadMode)
	if err != nil {
		return err
	}
	defer sh.Release()
	if sb == db {
		sh.MarkDirty()
		copy(sh.Data[do:do+m.stride], sh.Data[so:so+m.stride])
		return nil
	}
	dh, err := m.main.Acquire(db, bucket.WriteMode)
	if err != nil {
		return err
	}
	defer dh.Release()
	copy(dh.Data[do:do+m.stride], sh.Data[so:so+m.stride])
	return nil
}

func (m *Manager) zeroRow(row int) error {
	id := m.buckets[row/m.rowsPer]
	off := (row % m.rowsPer) * m.stride
	h, err := m.main.Acquire(id, bucket.WriteMode)
	if err != nil {
		return err
	}
	defer h.Release()
	for i := off; i < off+m.stride; i++ {
		h.Data[i] = 0
	}
	return nil
}

// AddColumn extends the instance with a new column, rewriting every bucket
// for the wider row stride.
func (m *Manager) AddColumn(d schema.ColumnDesc) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if _, dup := m.byName[d.Name]; dup {
		return fmt.Errorf("standard: column %q already present", d.Name)
	}
	descs := make([]schema.ColumnDesc, 0, len(m.cols)+1)
	for _, c := range m.cols {
		descs = append(descs, c.desc)
	}
	descs = append(descs, d)
	return m.repack(descs, nil)
}

// RemoveColumn drops a column, rewriting every bucket for the narrower
// stride. The column's indirect records are released first.
func (m *Manager) RemoveColumn(name string) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	ci, err := m.colIndex(name)
	if err != nil {
		return err
	}
	if !m.cols[ci].inline {
		for r := 0; r < m.nrow; r++ {
			slot, err := m.readSlot(ci, r)
			if err != nil {
				return err
			}
			if err := m.freeSlotChain(slot); err != nil {
				return err
			}
		}
	}
	descs := make([]schema.ColumnDesc, 0, len(m.cols)-1)
	for i, c := range m.cols {
		if i != ci {
			descs = append(descs, c.desc)
		}
	}
	return m.repack(descs, map[string]bool{name: true})
}

// RenameColumn updates the internal tables.
func (m *Manager) RenameColumn(oldName, newName string) error {
	ci, err := m.colIndex(oldName)
	if err != nil {
		return err
	}
	if _, dup := m.byName[newName]; dup {
		return fmt.Errorf("standard: column %q already present", newName)
	}
	delete(m.byName, oldName)
	m.byName[newName] = ci
	m.cols[ci].desc.Name = newName
	return nil
}

// repack rebuilds the bucket layout for a new column set, carrying over the
// raw slots of surviving columns (indirect references stay valid because
// the indirect store is untouched).
func (m *Manager) repack(descs []schema.ColumnDesc, dropped map[string]bool) error {
	newCols, newByName, newStride, err := buildColumns(descs)
	if err != nil {
		return err
	}
	if newStride > m.bucketSize {
		return fmt.Errorf("standard: row stride %d exceeds bucket size %d", newStride, m.bucketSize)
	}
	newRowsPer := m.bucketSize
	if newStride > 0 {
		newRowsPer = m.bucketSize / newStride
		if newRowsPer < 1 {
			newRowsPer = 1
		}
	}

	// Snapshot surviving slots.
	slots := make(map[string][][]byte, len(newCols))
	for ci, c := range m.cols {
		if dropped[c.desc.Name] {
			continue
		}
		if _, keep := newByName[c.desc.Name]; !keep {
			continue
		}
		rows := make([][]byte, m.nrow)
		for r := 0; r < m.nrow; r++ {
			s, err := m.readSlot(ci, r)
			if err != nil {
				return err
			}
			rows[r] = s
		}
		slots[c.desc.Name] = rows
	}

	// Allocate the new bucket run.
	nb := 0
	if m.nrow > 0 {
		nb = (m.nrow + newRowsPer - 1) / newRowsPer
	}
	newBuckets := make([]uint32, 0, nb)
	for i := 0; i < nb; i++ {
		id, err := m.main.Allocate()
		if err != nil {
			return err
		}
		newBuckets = append(newBuckets, id)
	}
	for r := 0; r < m.nrow; r++ {
		id := newBuckets[r/newRowsPer]
		base := (r % newRowsPer) * newStride
		h, err := m.main.Acquire(id, bucket.WriteMode)
		if err != nil {
			return err
		}
		for _, c := range newCols {
			if rows, ok := slots[c.desc.Name]; ok {
				copy(h.Data[base+c.offset:base+c.offset+c.width], rows[r])
			}
		}
		h.Release()
	}

	old := m.buckets
	m.cols = newCols
	m.byName = newByName
	m.stride = newStride
	m.rowsPer = newRowsPer
	m.buckets = newBuckets
	for _, id := range old {
		if err := m.main.Drop(id); err != nil {
			return err
		}
	}
	return nil
}

// CanRemoveRow reports whether the row can be removed; any valid row can.
func (m *Manager) CanRemoveRow(row int) bool {
	return row >= 0 && row < m.nrow
}
