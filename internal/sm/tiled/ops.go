package tiled

import (
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

// hasRowAxis reports whether cube coordinates carry a trailing row axis.
func (m *Manager) hasRowAxis() bool { return m.typ != sm.TiledCell }

// cubeForRow resolves the hypercube covering a row and the row's position
// along the cube's row axis (unused for tiled-cell). When the row has no
// shape yet and the columns carry a fixed shape, the cube materializes on
// first touch.
func (m *Manager) cubeForRow(row int) (*hypercube, int, error) {
	if err := m.checkRow(row); err != nil {
		return nil, 0, err
	}
	if m.typ == sm.TiledColumn {
		return m.cubes[0], row, nil
	}
	ref := m.rowMap[row]
	if ref.cube >= 0 {
		return m.cubes[ref.cube], int(ref.pos), nil
	}
	if m.cols[0].desc.Kind == schema.ArrayFixed {
		if err := m.SetShape(row, m.cols[0].desc.Shape, nil); err != nil {
			return nil, 0, err
		}
		ref = m.rowMap[row]
		return m.cubes[ref.cube], int(ref.pos), nil
	}
	return nil, 0, fmt.Errorf("%w: row %d has no shape", sm.ErrUndefinedCell, row)
}

// cellShapeOf returns the data-rank cell shape of a cube.
func (m *Manager) cellShapeOf(cube *hypercube) []int {
	if m.hasRowAxis() {
		return cube.cellShape[:len(cube.cellShape)-1]
	}
	return cube.cellShape
}

// SetShape binds a row to a hypercube of the given cell shape. A nil tile
// shape invokes the chooser. tiled-column shapes are fixed at creation;
// tiled-shape reuses the first cube with a matching shape pair.
func (m *Manager) SetShape(row int, cellShape, tileShape []int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if err := m.checkRow(row); err != nil {
		return err
	}
	if m.typ == sm.TiledColumn {
		return fmt.Errorf("%w: set shape on tiled-column manager %q", sm.ErrUnsupported, m.name)
	}
	for _, c := range m.cols {
		if c.desc.Kind == schema.ArrayFixed && !schema.ShapeEqual(c.desc.Shape, cellShape) {
			return fmt.Errorf("%w: shape %v for fixed-shape column %q %v",
				sm.ErrShapeMismatch, cellShape, c.desc.Name, c.desc.Shape)
		}
	}
	if tileShape == nil {
		tileShape = m.defTile
	}
	if tileShape == nil {
		tileShape = m.defaultTile(cellShape)
	}
	if len(tileShape) != len(cellShape) {
		return fmt.Errorf("%w: tile rank %d vs cell rank %d", sm.ErrShapeMismatch, len(tileShape), len(cellShape))
	}

	if m.typ == sm.TiledCell {
		cube, err := m.newCube(len(m.cubes), cellShape, tileShape, nil)
		if err != nil {
			return err
		}
		m.cubes = append(m.cubes, cube)
		m.rowMap[row] = rowRef{cube: int32(len(m.cubes) - 1), pos: 0}
		return nil
	}

	// tiled-shape: first matching cube wins.
	for i, cube := range m.cubes {
		d := len(cube.cellShape) - 1
		if schema.ShapeEqual(cube.cellShape[:d], cellShape) && schema.ShapeEqual(cube.tileShape[:d], tileShape) {
			if err := cube.extend(1); err != nil {
				return err
			}
			m.rowMap[row] = rowRef{cube: int32(i), pos: uint32(cube.cellShape[d] - 1)}
			return nil
		}
	}
	cube, err := m.newCube(len(m.cubes),
		append(append([]int(nil), cellShape...), 1),
		append(append([]int(nil), tileShape...), 1), nil)
	if err != nil {
		return err
	}
	m.cubes = append(m.cubes, cube)
	m.rowMap[row] = rowRef{cube: int32(len(m.cubes) - 1), pos: 0}
	return nil
}

// Shape returns the data-rank cell shape of a row.
func (m *Manager) Shape(row int) ([]int, error) {
	cube, _, err := m.cubeForRow(row)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), m.cellShapeOf(cube)...), nil
}

// AddRows appends rows. tiled-column extends the cube's row axis; the
// other flavors add unbound rows awaiting a shape.
func (m *Manager) AddRows(n int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if n < 0 {
		return fmt.Errorf("tiled: add %d rows", n)
	}
	if m.typ == sm.TiledColumn {
		if err := m.cubes[0].extend(n); err != nil {
			return err
		}
	} else {
		for i := 0; i < n; i++ {
			m.rowMap = append(m.rowMap, rowRef{cube: -1})
		}
	}
	m.nrow += n
	return nil
}

// RemoveRow deletes a row. tiled-column only supports trimming the last
// row (the cube's row axis shrinks); the per-row flavors unbind the row
// and leave the cube slot behind.
func (m *Manager) RemoveRow(row int) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if err := m.checkRow(row); err != nil {
		return err
	}
	if m.typ == sm.TiledColumn {
		if row != m.nrow-1 {
			return fmt.Errorf("%w: tiled-column manager %q only removes the last row", sm.ErrUnsupported, m.name)
		}
		if err := m.cubes[0].shrink(1); err != nil {
			return err
		}
		m.nrow--
		return nil
	}
	m.rowMap = append(m.rowMap[:row], m.rowMap[row+1:]...)
	m.nrow--
	return nil
}

// GetScalar is a type mismatch: tiled columns hold arrays.
func (m *Manager) GetScalar(col string, _ int) (any, error) {
	return nil, fmt.Errorf("%w: scalar get on tiled array column %q", sm.ErrTypeMismatch, col)
}

// PutScalar is a type mismatch.
func (m *Manager) PutScalar(col string, _ int, _ any) error {
	return fmt.Errorf("%w: scalar put on tiled array column %q", sm.ErrTypeMismatch, col)
}

// cubeSlicer extends a normalized data-rank slicer with the pinned row
// axis when the cube carries one.
func (m *Manager) cubeSlicer(sl schema.Slicer, pos int) schema.Slicer {
	if !m.hasRowAxis() {
		return sl
	}
	return schema.Slicer{
		Start:  append(append([]int(nil), sl.Start...), pos),
		Length: append(append([]int(nil), sl.Length...), 1),
		Stride: append(append([]int(nil), sl.Stride...), 1),
	}
}

func (m *Manager) walk(cube *hypercube, ci int, sl schema.Slicer, buf []byte, write bool) error {
	if err := cube.adaptCache(ci, sl); err != nil {
		return err
	}
	es := m.cols[ci].elemSize
	d := len(sl.Length)
	cur := make([]int, d)
	coord := make([]int, d)
	n := 1
	for _, l := range sl.Length {
		n *= l
	}
	if n == 0 {
		return nil
	}
	for i := 0; ; i++ {
		for ax := 0; ax < d; ax++ {
			coord[ax] = sl.Start[ax] + cur[ax]*sl.Stride[ax]
		}
		var err error
		if write {
			err = cube.writeElem(ci, coord, buf[i*es:(i+1)*es])
		} else {
			err = cube.readElem(ci, coord, buf[i*es:(i+1)*es])
		}
		if err != nil {
			return err
		}
		if !advance(cur, sl.Length) {
			break
		}
	}
	return nil
}

func advance(c, lengths []int) bool {
	for i := range c {
		c[i]++
		if c[i] < lengths[i] {
			return true
		}
		c[i] = 0
	}
	return false
}

// GetSlice reads a strided sub-rectangle of a row's cell.
func (m *Manager) GetSlice(col string, row int, sl schema.Slicer) (*schema.Array, error) {
	ci, err := m.colIndex(col)
	if err != nil {
		return nil, err
	}
	cube, pos, err := m.cubeForRow(row)
	if err != nil {
		return nil, err
	}
	cellShape := m.cellShapeOf(cube)
	norm, err := sl.Normalize(cellShape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sm.ErrShapeMismatch, err)
	}
	full := m.cubeSlicer(norm, pos)
	n := norm.NumElements()
	buf := make([]byte, n*m.cols[ci].elemSize)
	if err := m.walk(cube, ci, full, buf, false); err != nil {
		return nil, err
	}
	data, _, err := codec.DecodeSlice(m.ctx.Eng, m.cols[ci].desc.Type, buf, n)
	if err != nil {
		return nil, err
	}
	return &schema.Array{Shape: append([]int(nil), norm.Length...), Data: data}, nil
}

// PutSlice writes a strided sub-rectangle of a row's cell.
func (m *Manager) PutSlice(col string, row int, sl schema.Slicer, src *schema.Array) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	ci, err := m.colIndex(col)
	if err != nil {
		return err
	}
	cube, pos, err := m.cubeForRow(row)
	if err != nil {
		return err
	}
	cellShape := m.cellShapeOf(cube)
	norm, err := sl.Normalize(cellShape)
	if err != nil {
		return fmt.Errorf("%w: %v", sm.ErrShapeMismatch, err)
	}
	if !schema.ShapeEqual(norm.Length, src.Shape) {
		return fmt.Errorf("%w: slice %v vs source %v", sm.ErrShapeMismatch, norm.Length, src.Shape)
	}
	if codec.SliceLen(src.Data) != src.NumElements() {
		return fmt.Errorf("%w: %d elements for shape %v", sm.ErrShapeMismatch, codec.SliceLen(src.Data), src.Shape)
	}
	buf, err := codec.AppendSlice(m.ctx.Eng, nil, m.cols[ci].desc.Type, src.Data)
	if err != nil {
		return err
	}
	return m.walk(cube, ci, m.cubeSlicer(norm, pos), buf, true)
}

// GetArray reads a whole cell.
func (m *Manager) GetArray(col string, row int) (*schema.Array, error) {
	cube, _, err := m.cubeForRow(row)
	if err != nil {
		return nil, err
	}
	cellShape := m.cellShapeOf(cube)
	return m.GetSlice(col, row, schema.Slicer{
		Start:  make([]int, len(cellShape)),
		Length: append([]int(nil), cellShape...),
	})
}

// PutArray writes a whole cell. For per-row flavors an unbound row takes
// its shape from the array.
func (m *Manager) PutArray(col string, row int, a *schema.Array) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	if err := m.checkRow(row); err != nil {
		return err
	}
	if m.typ != sm.TiledColumn && m.rowMap[row].cube < 0 {
		if err := m.SetShape(row, a.Shape, nil); err != nil {
			return err
		}
	}
	cube, _, err := m.cubeForRow(row)
	if err != nil {
		return err
	}
	cellShape := m.cellShapeOf(cube)
	if !schema.ShapeEqual(a.Shape, cellShape) {
		return fmt.Errorf("%w: array %v into cell %v", sm.ErrShapeMismatch, a.Shape, cellShape)
	}
	return m.PutSlice(col, row, schema.Slicer{
		Start:  make([]int, len(cellShape)),
		Length: append([]int(nil), cellShape...),
	}, a)
}

// CanRemoveRow reports removal support: tiled-column can only trim the
// last row, the per-row flavors accept any valid row.
func (m *Manager) CanRemoveRow(row int) bool {
	if row < 0 || row >= m.nrow {
		return false
	}
	if m.typ == sm.TiledColumn {
		return row == m.nrow-1
	}
	return true
}
