package colstore

import (
	"fmt"

	"github.com/hupe1980/colstore/internal/codec"
)

// GetCell reads one scalar cell as the column's native Go type.
func (t *Table) GetCell(col string, row int) (any, error) {
	if err := t.ready("getCell"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	release, err := t.autoLock(false)
	if err != nil {
		return nil, translateError(err)
	}
	defer release()
	m, err := t.cs.Owner(col)
	if err != nil {
		return nil, translateError(err)
	}
	v, err := m.GetScalar(col, row)
	return v, translateError(err)
}

// GetCellAs reads one scalar cell widened to the requested type. Integer
// columns widen to any wider integer or floating type; real columns widen
// to complex with a zero imaginary part. Narrowing fails.
func (t *Table) GetCellAs(col string, row int, as DataType) (any, error) {
	v, err := t.GetCell(col, row)
	if err != nil {
		return nil, err
	}
	out, err := codec.Promote(v, codec.DataType(as))
	if err != nil {
		return nil, fmt.Errorf("%w: column %q as %s: %w", ErrTypeMismatch, col, as, err)
	}
	return out, nil
}

// PutCell writes one scalar cell. The value's dynamic type must match the
// column's element type.
func (t *Table) PutCell(col string, row int, v any) error {
	if err := t.ready("putCell"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	release, err := t.autoLock(true)
	if err != nil {
		return translateError(err)
	}
	defer release()
	m, err := t.cs.Owner(col)
	if err != nil {
		return translateError(err)
	}
	if err := m.PutScalar(col, row, v); err != nil {
		return translateError(err)
	}
	t.modified = true
	return nil
}

// GetArray reads a whole array cell.
func (t *Table) GetArray(col string, row int) (*Array, error) {
	if err := t.ready("getArray"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	release, err := t.autoLock(false)
	if err != nil {
		return nil, translateError(err)
	}
	defer release()
	m, err := t.cs.Owner(col)
	if err != nil {
		return nil, translateError(err)
	}
	a, err := m.GetArray(col, row)
	return arrayFromInternal(a), translateError(err)
}

// PutArray writes a whole array cell.
func (t *Table) PutArray(col string, row int, a *Array) error {
	if err := t.ready("putArray"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	release, err := t.autoLock(true)
	if err != nil {
		return translateError(err)
	}
	defer release()
	m, err := t.cs.Owner(col)
	if err != nil {
		return translateError(err)
	}
	if err := m.PutArray(col, row, arrayToInternal(a)); err != nil {
		return translateError(err)
	}
	t.modified = true
	return nil
}

// GetSlice reads a strided sub-rectangle of an array cell.
func (t *Table) GetSlice(col string, row int, sl Slicer) (*Array, error) {
	if err := t.ready("getSlice"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	release, err := t.autoLock(false)
	if err != nil {
		return nil, translateError(err)
	}
	defer release()
	m, err := t.cs.Owner(col)
	if err != nil {
		return nil, translateError(err)
	}
	a, err := m.GetSlice(col, row, sl.internal())
	return arrayFromInternal(a), translateError(err)
}

// PutSlice writes a strided sub-rectangle of an array cell.
func (t *Table) PutSlice(col string, row int, sl Slicer, src *Array) error {
	if err := t.ready("putSlice"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	release, err := t.autoLock(true)
	if err != nil {
		return translateError(err)
	}
	defer release()
	m, err := t.cs.Owner(col)
	if err != nil {
		return translateError(err)
	}
	if err := m.PutSlice(col, row, sl.internal(), arrayToInternal(src)); err != nil {
		return translateError(err)
	}
	t.modified = true
	return nil
}

// GetColumnRange reads n consecutive scalar cells starting at start.
func (t *Table) GetColumnRange(col string, start, n int) ([]any, error) {
	out := make([]any, 0, n)
	for r := start; r < start+n; r++ {
		v, err := t.GetCell(col, r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// PutColumnRange writes consecutive scalar cells starting at start.
func (t *Table) PutColumnRange(col string, start int, vals []any) error {
	for i, v := range vals {
		if err := t.PutCell(col, start+i, v); err != nil {
			return err
		}
	}
	return nil
}

// GetColumnCells reads scalar cells at the given rows.
func (t *Table) GetColumnCells(col string, rows []int) ([]any, error) {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		v, err := t.GetCell(col, r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// PutColumnCells writes scalar cells at the given rows.
func (t *Table) PutColumnCells(col string, rows []int, vals []any) error {
	if len(rows) != len(vals) {
		return fmt.Errorf("%w: %d rows for %d values", ErrShapeMismatch, len(rows), len(vals))
	}
	for i, r := range rows {
		if err := t.PutCell(col, r, vals[i]); err != nil {
			return err
		}
	}
	return nil
}
