package colstore

import (
	"fmt"

	"github.com/hupe1980/colstore/internal/sm/tiled"
)

// DataManagerInfo reflects the live storage-manager instances: name, type,
// owned columns and the instance spec.
func (t *Table) DataManagerInfo() ([]DataManagerInfo, error) {
	if err := t.ready("dataManagerInfo"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	infos := t.cs.DataManagerInfo()
	out := make([]DataManagerInfo, len(infos))
	for i, m := range infos {
		out[i] = DataManagerInfo{
			Name:    m.Name,
			Type:    m.Type,
			Columns: m.Columns,
			Spec:    recordToMap(m.Spec),
		}
	}
	return out, nil
}

// ActualTableDesc returns the column descriptors with data-manager fields
// reflecting reality rather than the creation request.
func (t *Table) ActualTableDesc() ([]Column, error) {
	if err := t.ready("actualTableDesc"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	descs := t.cs.ActualColumns()
	out := make([]Column, len(descs))
	for i, d := range descs {
		out[i] = columnFromDesc(d)
	}
	return out, nil
}

// tiledOwner resolves a column's manager as a tiled instance.
func (t *Table) tiledOwner(col string) (*tiled.Manager, error) {
	m, err := t.cs.Owner(col)
	if err != nil {
		return nil, translateError(err)
	}
	tm, ok := m.(*tiled.Manager)
	if !ok {
		return nil, fmt.Errorf("%w: column %q is not tiled", ErrUnsupported, col)
	}
	return tm, nil
}

// CellShape returns the array shape of a column's cell at a row.
func (t *Table) CellShape(col string, row int) ([]int, error) {
	if err := t.ready("cellShape"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.cs.ColumnDesc(col)
	if err != nil {
		return nil, translateError(err)
	}
	if len(d.Shape) > 0 {
		return append([]int(nil), d.Shape...), nil
	}
	if tm, err := t.tiledOwner(col); err == nil {
		shape, err := tm.Shape(row)
		return shape, translateError(err)
	}
	a, err := t.cs.Owner(col)
	if err != nil {
		return nil, translateError(err)
	}
	arr, err := a.GetArray(col, row)
	if err != nil {
		return nil, translateError(err)
	}
	return arr.Shape, nil
}

// SetCellShape fixes the cell shape of a row in a tiled-cell or
// tiled-shape column before its first write. A nil tileShape invokes the
// tile-shape chooser.
func (t *Table) SetCellShape(col string, row int, cellShape, tileShape []int) error {
	if err := t.ready("setCellShape"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	tm, err := t.tiledOwner(col)
	if err != nil {
		return err
	}
	return translateError(tm.SetShape(row, cellShape, tileShape))
}

// TileCacheStats aggregates the tile-cache counters of a tiled column's
// manager.
func (t *Table) TileCacheStats(col string) (accesses, hits, misses, writes int64, err error) {
	if err := t.ready("tileCacheStats"); err != nil {
		return 0, 0, 0, 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, err := t.tiledOwner(col)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	s := tm.CacheStats()
	return s.Accesses, s.Hits, s.Misses, s.Writes, nil
}

// ClearTileCaches drops the tile caches of a tiled column's manager.
// Values read afterwards are identical; only the statistics change.
func (t *Table) ClearTileCaches(col string) error {
	if err := t.ready("clearTileCaches"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, err := t.tiledOwner(col)
	if err != nil {
		return err
	}
	return translateError(tm.ClearCaches())
}

// ChooseTileShape picks a tile shape for a cell shape: per axis at least 1
// and at most the cell length, steered by optional axis weights and
// tolerances and a best-effort bound on elements per tile.
func ChooseTileShape(cellShape []int, weights, tol []float64, maxElements int) []int {
	return tiled.ChooseTileShape(cellShape, weights, tol, maxElements)
}
