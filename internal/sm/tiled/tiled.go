// Package tiled implements the tiled storage manager: array columns stored
// as hypercubes partitioned into fixed-shape tiles, with one of three cube
// policies. tiled-cell gives every row its own hypercube; tiled-column
// spans all rows with one hypercube whose last axis is the row dimension;
// tiled-shape keys hypercubes by their shape pair and assigns each row to
// the first match.
package tiled

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/compress"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
	"github.com/hupe1980/colstore/internal/tile"
)

// targetTileBytes steers the default tile-shape chooser.
const targetTileBytes = 32768

type column struct {
	desc     schema.ColumnDesc
	elemSize int
}

// rowRef binds a row to its hypercube. cube < 0 means no shape set yet.
type rowRef struct {
	cube int32
	pos  uint32
}

// Manager is one tiled SM instance.
type Manager struct {
	ctx  *sm.Context
	name string
	seq  int
	typ  sm.Type

	cols   []*column
	byName map[string]int
	nrow   int

	defTile []int // data-rank default tile shape; nil means chooser
	cubes   []*hypercube
	rowMap  []rowRef // tiled-cell and tiled-shape

	maxCache int64
	comp     compress.Codec
	log      *slog.Logger
}

// Option tweaks instance creation.
type Option func(*createOpts)

type createOpts struct {
	tileShape []int
}

// WithTileShape fixes the default data-rank tile shape.
func WithTileShape(shape []int) Option {
	return func(o *createOpts) { o.tileShape = append([]int(nil), shape...) }
}

func buildColumns(descs []schema.ColumnDesc) ([]*column, map[string]int, error) {
	cols := make([]*column, 0, len(descs))
	byName := make(map[string]int, len(descs))
	for _, d := range descs {
		if d.Kind == schema.Scalar {
			return nil, nil, fmt.Errorf("%w: tiled manager holds array columns, %q is scalar",
				sm.ErrUnsupported, d.Name)
		}
		es := d.Type.FixedSize()
		if es <= 0 {
			return nil, nil, fmt.Errorf("%w: tiled manager needs fixed-size elements, %q is %s",
				codec.ErrUnsupportedType, d.Name, d.Type)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, nil, fmt.Errorf("column %q: duplicate", d.Name)
		}
		byName[d.Name] = len(cols)
		cols = append(cols, &column{desc: d.Clone(), elemSize: es})
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("tiled: no columns")
	}
	return cols, byName, nil
}

func newCompressor(t compress.Type) (compress.Codec, error) {
	if t == compress.None {
		return nil, nil
	}
	return compress.New(t)
}

// Create builds a fresh instance of the given tiled flavor.
func Create(ctx *sm.Context, name string, seq int, typ sm.Type, descs []schema.ColumnDesc, nrow int, opts ...Option) (*Manager, error) {
	ctx.Normalize()
	switch typ {
	case sm.TiledCell, sm.TiledColumn, sm.TiledShape:
	default:
		return nil, fmt.Errorf("tiled: not a tiled type %s", typ)
	}
	co := createOpts{}
	for _, o := range opts {
		o(&co)
	}
	cols, byName, err := buildColumns(descs)
	if err != nil {
		return nil, err
	}
	comp, err := newCompressor(ctx.Compression)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		ctx:      ctx,
		name:     name,
		seq:      seq,
		typ:      typ,
		cols:     cols,
		byName:   byName,
		nrow:     nrow,
		defTile:  co.tileShape,
		maxCache: ctx.MaxCacheBytes,
		comp:     comp,
		log:      ctx.Logger,
	}
	if typ == sm.TiledColumn {
		shape := cols[0].desc.Shape
		for _, c := range cols {
			if c.desc.Kind != schema.ArrayFixed || !schema.ShapeEqual(c.desc.Shape, shape) {
				return nil, fmt.Errorf("%w: tiled-column needs one fixed shape shared by all columns",
					sm.ErrShapeMismatch)
			}
		}
		dataTile := m.defTile
		if dataTile == nil {
			dataTile = m.defaultTile(shape)
		}
		cellShape := append(append([]int(nil), shape...), nrow)
		tileShape := append(append([]int(nil), dataTile...), 1)
		cube, err := m.newCube(0, cellShape, tileShape, nil)
		if err != nil {
			return nil, err
		}
		m.cubes = []*hypercube{cube}
	} else {
		m.rowMap = make([]rowRef, nrow)
		for i := range m.rowMap {
			m.rowMap[i].cube = -1
		}
	}
	return m, nil
}

// OpenCell, OpenColumn and OpenShape restore persisted instances; they are
// registered with the SM registry per type tag.
func OpenCell(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, state []byte) (sm.StorageManager, error) {
	return open(ctx, name, seq, sm.TiledCell, descs, nrow, state)
}

func OpenColumn(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, state []byte) (sm.StorageManager, error) {
	return open(ctx, name, seq, sm.TiledColumn, descs, nrow, state)
}

func OpenShape(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, state []byte) (sm.StorageManager, error) {
	return open(ctx, name, seq, sm.TiledShape, descs, nrow, state)
}

func open(ctx *sm.Context, name string, seq int, typ sm.Type, descs []schema.ColumnDesc, nrow int, state []byte) (sm.StorageManager, error) {
	ctx.Normalize()
	cols, byName, err := buildColumns(descs)
	if err != nil {
		return nil, err
	}
	comp, err := newCompressor(ctx.Compression)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		ctx:      ctx,
		name:     name,
		seq:      seq,
		typ:      typ,
		cols:     cols,
		byName:   byName,
		maxCache: ctx.MaxCacheBytes,
		comp:     comp,
		log:      ctx.Logger,
	}
	r := codec.NewReader(ctx.Eng, state)
	m.nrow = int(r.Uint32())
	if m.nrow != nrow {
		return nil, fmt.Errorf("%w: tiled row count %d vs table %d", sm.ErrCorrupt, m.nrow, nrow)
	}
	if ndt := int(r.Uint8()); ndt > 0 {
		m.defTile = make([]int, ndt)
		for i := range m.defTile {
			m.defTile[i] = int(r.Uint32())
		}
	}
	ncubes := int(r.Uint32())
	for id := 0; id < ncubes; id++ {
		rank := int(r.Uint32())
		cellShape := make([]int, rank)
		tileShape := make([]int, rank)
		for i := range cellShape {
			cellShape[i] = int(r.Uint32())
		}
		for i := range tileShape {
			tileShape[i] = int(r.Uint32())
		}
		coord, err := schema.ReadRecord(r)
		if err != nil {
			return nil, fmt.Errorf("%w: cube record: %v", sm.ErrCorrupt, err)
		}
		cube, err := m.newCube(id, cellShape, tileShape, coord)
		if err != nil {
			return nil, err
		}
		for _, cs := range cube.cols {
			cs.fileEnd = int64(r.Uint64())
			nloc := int(r.Uint32())
			cs.loc = make([]tileLoc, nloc)
			for i := range cs.loc {
				cs.loc[i] = tileLoc{off: int64(r.Uint64()), ln: int32(r.Uint32())}
			}
		}
		m.cubes = append(m.cubes, cube)
	}
	nmap := int(r.Uint32())
	m.rowMap = make([]rowRef, nmap)
	for i := range m.rowMap {
		m.rowMap[i] = rowRef{cube: int32(r.Uint32()), pos: r.Uint32()}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: tiled state: %v", sm.ErrCorrupt, err)
	}
	return m, nil
}

// State serializes the instance for the table header.
func (m *Manager) State() ([]byte, error) {
	w := codec.NewWriter(m.ctx.Eng)
	w.Uint32(uint32(m.nrow))
	w.Uint8(uint8(len(m.defTile)))
	for _, t := range m.defTile {
		w.Uint32(uint32(t))
	}
	w.Uint32(uint32(len(m.cubes)))
	for _, cube := range m.cubes {
		w.Uint32(uint32(len(cube.cellShape)))
		for _, s := range cube.cellShape {
			w.Uint32(uint32(s))
		}
		for _, s := range cube.tileShape {
			w.Uint32(uint32(s))
		}
		schema.AppendRecord(w, cube.coord)
		for _, cs := range cube.cols {
			w.Uint64(uint64(cs.fileEnd))
			w.Uint32(uint32(len(cs.loc)))
			for _, l := range cs.loc {
				w.Uint64(uint64(l.off))
				w.Uint32(uint32(l.ln))
			}
		}
	}
	w.Uint32(uint32(len(m.rowMap)))
	for _, ref := range m.rowMap {
		w.Uint32(uint32(ref.cube))
		w.Uint32(ref.pos)
	}
	return w.Bytes()
}

func (m *Manager) defaultTile(cellShape []int) []int {
	elems := targetTileBytes / m.cols[0].elemSize
	if elems < 1 {
		elems = 1
	}
	return ChooseTileShape(cellShape, nil, nil, elems)
}

// Name returns the instance name.
func (m *Manager) Name() string { return m.name }

// Type returns the tiled flavor tag.
func (m *Manager) Type() sm.Type { return m.typ }

// SeqNr returns the instance sequence number inside the table.
func (m *Manager) SeqNr() int { return m.seq }

// NRow returns the managed row count.
func (m *Manager) NRow() int { return m.nrow }

// Columns lists the owned column names.
func (m *Manager) Columns() []string {
	out := make([]string, len(m.cols))
	for i, c := range m.cols {
		out[i] = c.desc.Name
	}
	return out
}

// HasColumn reports ownership of a column.
func (m *Manager) HasColumn(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// CanAddColumn reports false for every tiled flavor.
func (m *Manager) CanAddColumn() bool { return false }

// AddColumn always fails; see CanAddColumn.
func (m *Manager) AddColumn(schema.ColumnDesc) error {
	return fmt.Errorf("%w: add column on tiled manager %q", sm.ErrUnsupported, m.name)
}

// RemoveColumn drops one column and its tile files from every cube.
func (m *Manager) RemoveColumn(name string) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	ci, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", sm.ErrUnknownColumn, name)
	}
	for _, cube := range m.cubes {
		cs := cube.cols[ci]
		if cs.file != nil {
			cs.file.Close()
		}
		m.ctx.FS.Remove(cs.path)
		cube.cols = append(cube.cols[:ci], cube.cols[ci+1:]...)
	}
	m.cols = append(m.cols[:ci], m.cols[ci+1:]...)
	delete(m.byName, name)
	for n, i := range m.byName {
		if i > ci {
			m.byName[n] = i - 1
		}
	}
	return nil
}

// RenameColumn updates the internal tables.
func (m *Manager) RenameColumn(oldName, newName string) error {
	ci, ok := m.byName[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", sm.ErrUnknownColumn, oldName)
	}
	if _, dup := m.byName[newName]; dup {
		return fmt.Errorf("tiled: column %q already present", newName)
	}
	delete(m.byName, oldName)
	m.byName[newName] = ci
	m.cols[ci].desc.Name = newName
	return nil
}

// Spec reports the instance configuration.
func (m *Manager) Spec() *schema.Record {
	rec := schema.NewRecord()
	if m.defTile != nil {
		rec.Set("DEFAULTTILESHAPE", shapeString(m.defTile))
	}
	rec.Set("NHYPERCUBES", int32(len(m.cubes)))
	rec.Set("COMPRESSION", m.ctx.Compression.String())
	if m.maxCache > 0 {
		rec.Set("MAXCACHESIZE", int64(m.maxCache))
	}
	return rec
}

func shapeString(s []int) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Flush writes back dirty tiles of every cube.
func (m *Manager) Flush(sync bool) (bool, error) {
	for _, cube := range m.cubes {
		if err := cube.flush(sync); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Close flushes and closes every tile file.
func (m *Manager) Close() error {
	for _, cube := range m.cubes {
		if err := cube.close(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFiles removes all cube files.
func (m *Manager) DeleteFiles() error {
	for _, cube := range m.cubes {
		if err := cube.deleteFiles(); err != nil {
			return err
		}
	}
	return nil
}

// NHypercubes reports the number of allocated hypercubes. Replaced cubes
// keep their slot, so this can exceed the row count for tiled-cell.
func (m *Manager) NHypercubes() int { return len(m.cubes) }

// CacheStats aggregates tile-cache statistics across all cubes.
func (m *Manager) CacheStats() tile.Stats {
	var out tile.Stats
	for _, cube := range m.cubes {
		s := cube.stats()
		out.Accesses += s.Accesses
		out.Hits += s.Hits
		out.Misses += s.Misses
		out.Writes += s.Writes
	}
	return out
}

// ClearCaches flushes and invalidates every tile cache; values read after
// a clear are identical, only the statistics differ.
func (m *Manager) ClearCaches() error {
	for _, cube := range m.cubes {
		for _, cs := range cube.cols {
			if err := cs.cache.Clear(); err != nil {
				return err
			}
			cs.cache.ClearStats()
		}
	}
	return nil
}

// HypercubeRecord returns the value record attached to the cube covering a
// row (coordinate-column metadata).
func (m *Manager) HypercubeRecord(row int) (*schema.Record, error) {
	cube, _, err := m.cubeForRow(row)
	if err != nil {
		return nil, err
	}
	return cube.coord, nil
}

// SetHypercubeRecord replaces the value record of the cube covering a row.
func (m *Manager) SetHypercubeRecord(row int, rec *schema.Record) error {
	if !m.ctx.Writable {
		return sm.ErrReadOnly
	}
	cube, _, err := m.cubeForRow(row)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = schema.NewRecord()
	}
	cube.coord = rec
	return nil
}
