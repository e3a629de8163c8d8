package standard

import (
	"fmt"

	"github.com/hupe1980/colstore/internal/bucket"
	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

const noChain = 0xFFFFFFFF

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

// locate resolves a cell to its bucket slot: I2 guarantees this mapping is
// recoverable from the bucket index alone.
func (m *Manager) locate(colIdx, row int) (bucketID uint32, off int) {
	b := row / m.rowsPer
	within := row % m.rowsPer
	return m.buckets[b], within*m.stride + m.cols[colIdx].offset
}

func (m *Manager) readSlot(colIdx, row int) ([]byte, error) {
	id, off := m.locate(colIdx, row)
	h, err := m.main.Acquire(id, bucket.ReadMode)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	w := m.cols[colIdx].width
	out := make([]byte, w)
	copy(out, h.Data[off:off+w])
	return out, nil
}

func (m *Manager) writeSlot(colIdx, row int, slot []byte) error {
	id, off := m.locate(colIdx, row)
	h, err := m.main.Acquire(id, bucket.WriteMode)
	if err != nil {
		return err
	}
	defer h.Release()
	copy(h.Data[off:off+len(slot)], slot)
	return nil
}

// Indirect store: each record is a chain of buckets. A bucket starts with
// the next-bucket id (noChain terminates) followed by payload bytes.

func (m *Manager) chunkSize() int { return m.indirect.BucketSize() - 4 }

func (m *Manager) writeIndirect(data []byte) (uint32, error) {
	chunk := m.chunkSize()
	n := (len(data) + chunk - 1) / chunk
	if n == 0 {
		n = 1
	}
	ids := make([]uint32, n)
	for i := range ids {
		id, err := m.indirect.Allocate()
		if err != nil {
			for _, a := range ids[:i] {
				m.indirect.Drop(a)
			}
			return 0, err
		}
		ids[i] = id
	}
	for i, id := range ids {
		h, err := m.indirect.Acquire(id, bucket.WriteMode)
		if err != nil {
			return 0, err
		}
		next := uint32(noChain)
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		m.ctx.Eng.PutUint32(h.Data[:4], next)
		lo := i * chunk
		hi := lo + chunk
		if hi > len(data) {
			hi = len(data)
		}
		if lo < len(data) {
			copy(h.Data[4:], data[lo:hi])
		}
		h.Release()
	}
	return ids[0], nil
}

func (m *Manager) readIndirect(first uint32, total int) ([]byte, error) {
	out := make([]byte, 0, total)
	id := first
	for id != noChain && len(out) < total {
		h, err := m.indirect.Acquire(id, bucket.ReadMode)
		if err != nil {
			return nil, err
		}
		next := m.ctx.Eng.Uint32(h.Data[:4])
		want := total - len(out)
		if want > m.chunkSize() {
			want = m.chunkSize()
		}
		out = append(out, h.Data[4:4+want]...)
		h.Release()
		id = next
	}
	if len(out) != total {
		return nil, fmt.Errorf("%w: indirect chain short (%d of %d bytes)", sm.ErrCorrupt, len(out), total)
	}
	return out, nil
}

func (m *Manager) freeIndirect(first uint32) error {
	id := first
	for id != noChain {
		h, err := m.indirect.Acquire(id, bucket.ReadMode)
		if err != nil {
			return err
		}
		next := m.ctx.Eng.Uint32(h.Data[:4])
		h.Release()
		if err := m.indirect.Drop(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

// freeSlotChain releases the indirect record referenced by a variable slot,
// if any.
func (m *Manager) freeSlotChain(slot []byte) error {
	if slot[0] != tagIndirect {
		return nil
	}
	first := m.ctx.Eng.Uint32(slot[1:5])
	return m.freeIndirect(first)
}

// GetScalar reads one scalar cell.
func (m *Manager) GetScalar(col string, row int) (any, error) {
	ci, err := m.colIndex(col)
	if err != nil {
		return nil, err
	}
	if err := m.checkRow(row); err != nil {
		return nil, err
	}
	c := m.cols[ci]
	if c.desc.Kind != schema.Scalar {
		return nil, fmt.Errorf("%w: scalar get on %s column %q", sm.ErrTypeMismatch, c.desc.Kind, col)
	}
	slot, err := m.readSlot(ci, row)
	if err != nil {
		return nil, err
	}
	if c.desc.Type != codec.String {
		v, _, err := codec.DecodeScalar(m.ctx.Eng, c.desc.Type, slot)
		return v, err
	}
	if slot[0] == tagIndirect {
		first := m.ctx.Eng.Uint32(slot[1:5])
		total := int(m.ctx.Eng.Uint32(slot[5:9]))
		raw, err := m.readIndirect(first, total)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	n := int(slot[0])
	if n > inlineMax {
		return nil, fmt.Errorf("%w: inline tag %d", sm.ErrCorrupt, n)
	}
	return string(slot[1 : 1+n]), nil
}

// PutScalar writes one scalar cell. The value's dynamic type must match
// the column's element type exactly; promotion happens above the SM.
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
	if c.desc.Kind != schema.Scalar {
		return fmt.Errorf("%w: scalar put on %s column %q", sm.ErrTypeMismatch, c.desc.Kind, col)
	}
	if codec.TypeOf(v) != c.desc.Type {
		return fmt.Errorf("%w: %T into %s column %q", sm.ErrTypeMismatch, v, c.desc.Type, col)
	}
	if c.desc.Type != codec.String {
		slot, err := codec.AppendScalar(m.ctx.Eng, nil, c.desc.Type, v)
		if err != nil {
			return err
		}
		return m.writeSlot(ci, row, slot)
	}

	s := v.(string)
	old, err := m.readSlot(ci, row)
	if err != nil {
		return err
	}
	if err := m.freeSlotChain(old); err != nil {
		return err
	}
	slot := make([]byte, varSlot)
	if len(s) <= inlineMax {
		slot[0] = byte(len(s))
		copy(slot[1:], s)
	} else {
		first, err := m.writeIndirect([]byte(s))
		if err != nil {
			return err
		}
		slot[0] = tagIndirect
		m.ctx.Eng.PutUint32(slot[1:5], first)
		m.ctx.Eng.PutUint32(slot[5:9], uint32(len(s)))
	}
	return m.writeSlot(ci, row, slot)
}

func (m *Manager) encodeArray(c *column, a *schema.Array) ([]byte, error) {
	w := codec.NewWriter(m.ctx.Eng)
	if c.desc.Kind == schema.ArrayVar {
		w.Uint8(uint8(len(a.Shape)))
		for _, s := range a.Shape {
			w.Uint32(uint32(s))
		}
	}
	buf, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	return codec.AppendSlice(m.ctx.Eng, buf, c.desc.Type, a.Data)
}

// GetArray reads a whole array cell.
func (m *Manager) GetArray(col string, row int) (*schema.Array, error) {
	ci, err := m.colIndex(col)
	if err != nil {
		return nil, err
	}
	if err := m.checkRow(row); err != nil {
		return nil, err
	}
	c := m.cols[ci]
	if c.desc.Kind == schema.Scalar {
		return nil, fmt.Errorf("%w: array get on scalar column %q", sm.ErrTypeMismatch, col)
	}
	slot, err := m.readSlot(ci, row)
	if err != nil {
		return nil, err
	}
	if c.inline {
		n := 1
		for _, s := range c.desc.Shape {
			n *= s
		}
		data, _, err := codec.DecodeSlice(m.ctx.Eng, c.desc.Type, slot, n)
		if err != nil {
			return nil, err
		}
		return &schema.Array{Shape: append([]int(nil), c.desc.Shape...), Data: data}, nil
	}
	if slot[0] != tagIndirect {
		return nil, fmt.Errorf("%w: column %q row %d", sm.ErrUndefinedCell, col, row)
	}
	first := m.ctx.Eng.Uint32(slot[1:5])
	total := int(m.ctx.Eng.Uint32(slot[5:9]))
	raw, err := m.readIndirect(first, total)
	if err != nil {
		return nil, err
	}
	shape := c.desc.Shape
	r := codec.NewReader(m.ctx.Eng, raw)
	if c.desc.Kind == schema.ArrayVar {
		nd := int(r.Uint8())
		shape = make([]int, nd)
		for i := range shape {
			shape[i] = int(r.Uint32())
		}
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("%w: array header: %v", sm.ErrCorrupt, err)
		}
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	data, _, err := codec.DecodeSlice(m.ctx.Eng, c.desc.Type, raw[len(raw)-r.Remaining():], n)
	if err != nil {
		return nil, err
	}
	return &schema.Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

// PutArray writes a whole array cell.
func (m *Manager) PutArray(col string, row int, a *schema.Array) error {
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
	if c.desc.Kind == schema.Scalar {
		return fmt.Errorf("%w: array put on scalar column %q", sm.ErrTypeMismatch, col)
	}
	if codec.TypeOf(codecSliceProbe(a.Data)) != c.desc.Type && codec.SliceLen(a.Data) > 0 {
		return fmt.Errorf("%w: %T into %s column %q", sm.ErrTypeMismatch, a.Data, c.desc.Type, col)
	}
	if c.desc.Kind == schema.ArrayFixed && !schema.ShapeEqual(a.Shape, c.desc.Shape) {
		return fmt.Errorf("%w: shape %v into fixed-shape column %q %v", sm.ErrShapeMismatch, a.Shape, col, c.desc.Shape)
	}
	if codec.SliceLen(a.Data) != a.NumElements() {
		return fmt.Errorf("%w: %d elements for shape %v", sm.ErrShapeMismatch, codec.SliceLen(a.Data), a.Shape)
	}
	if c.inline {
		slot, err := codec.AppendSlice(m.ctx.Eng, nil, c.desc.Type, a.Data)
		if err != nil {
			return err
		}
		return m.writeSlot(ci, row, slot)
	}
	old, err := m.readSlot(ci, row)
	if err != nil {
		return err
	}
	if err := m.freeSlotChain(old); err != nil {
		return err
	}
	payload, err := m.encodeArray(c, a)
	if err != nil {
		return err
	}
	first, err := m.writeIndirect(payload)
	if err != nil {
		return err
	}
	slot := make([]byte, varSlot)
	slot[0] = tagIndirect
	m.ctx.Eng.PutUint32(slot[1:5], first)
	m.ctx.Eng.PutUint32(slot[5:9], uint32(len(payload)))
	return m.writeSlot(ci, row, slot)
}

// GetSlice reads a strided sub-rectangle of an array cell.
func (m *Manager) GetSlice(col string, row int, sl schema.Slicer) (*schema.Array, error) {
	a, err := m.GetArray(col, row)
	if err != nil {
		return nil, err
	}
	norm, err := sl.Normalize(a.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sm.ErrShapeMismatch, err)
	}
	ci, _ := m.colIndex(col)
	return schema.ExtractSlice(m.cols[ci].desc.Type, a.Shape, a.Data, norm)
}

// PutSlice updates a strided sub-rectangle of an array cell.
func (m *Manager) PutSlice(col string, row int, sl schema.Slicer, src *schema.Array) error {
	a, err := m.GetArray(col, row)
	if err != nil {
		return err
	}
	norm, err := sl.Normalize(a.Shape)
	if err != nil {
		return fmt.Errorf("%w: %v", sm.ErrShapeMismatch, err)
	}
	if !schema.ShapeEqual(norm.Length, src.Shape) {
		return fmt.Errorf("%w: slice %v vs source %v", sm.ErrShapeMismatch, norm.Length, src.Shape)
	}
	ci, _ := m.colIndex(col)
	if err := schema.InjectSlice(m.cols[ci].desc.Type, a.Shape, a.Data, norm, src); err != nil {
		return err
	}
	return m.PutArray(col, row, a)
}

// codecSliceProbe returns a representative element for type checking, or a
// zero value of no known type for an empty slice.
func codecSliceProbe(s any) any {
	if codec.SliceLen(s) == 0 {
		return struct{}{}
	}
	return codec.SliceElem(s, 0)
}
