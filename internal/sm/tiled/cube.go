package tiled

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/colstore/internal/fs"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
	"github.com/hupe1980/colstore/internal/tile"
)

// tileLoc addresses one tile inside a column's tile file. A zero length
// marks a tile never written; it reads back as zeros.
type tileLoc struct {
	off int64
	ln  int32
}

// colStore is one column's tile storage inside one hypercube.
type colStore struct {
	path      string
	file      fs.File
	tileBytes int
	loc       []tileLoc
	fileEnd   int64
	cache     *tile.Cache
}

// hypercube is one tiled grid of cells. For the column and shape policies
// the last axis is the row dimension and is extensible.
type hypercube struct {
	m         *Manager
	id        int
	cellShape []int
	tileShape []int
	coord     *schema.Record
	cols      []*colStore
}

func (c *hypercube) ntiles() []int {
	out := make([]int, len(c.cellShape))
	for i := range out {
		out[i] = (c.cellShape[i] + c.tileShape[i] - 1) / c.tileShape[i]
	}
	return out
}

func (c *hypercube) totalTiles() int { return product(c.ntiles()) }

func (m *Manager) newCube(id int, cellShape, tileShape []int, coord *schema.Record) (*hypercube, error) {
	if len(tileShape) != len(cellShape) {
		return nil, fmt.Errorf("%w: tile rank %d vs cell rank %d", sm.ErrShapeMismatch, len(tileShape), len(cellShape))
	}
	for i := range tileShape {
		if tileShape[i] < 1 || (cellShape[i] > 0 && tileShape[i] > cellShape[i]) {
			return nil, fmt.Errorf("%w: tile axis %d length %d for cell %d", sm.ErrShapeMismatch, i, tileShape[i], cellShape[i])
		}
	}
	if coord == nil {
		coord = schema.NewRecord()
	}
	cube := &hypercube{
		m:         m,
		id:        id,
		cellShape: append([]int(nil), cellShape...),
		tileShape: append([]int(nil), tileShape...),
		coord:     coord,
		cols:      make([]*colStore, len(m.cols)),
	}
	total := cube.totalTiles()
	for ci, col := range m.cols {
		cs := &colStore{
			path:      cube.colPath(ci),
			tileBytes: product(tileShape) * col.elemSize,
			loc:       make([]tileLoc, total),
		}
		cs.cache = tile.New(cs.tileBytes, m.maxCache, cube.fetchFn(cs), cube.writeFn(cs))
		cube.cols[ci] = cs
	}
	return cube, nil
}

func (c *hypercube) colPath(ci int) string {
	return filepath.Join(c.m.ctx.Dir,
		fmt.Sprintf("%s_c%d_d%d.tsm", sm.FileBase(c.m.seq, c.m.name), c.id, ci))
}

func (cs *colStore) open(fsys fs.FileSystem, writable bool) error {
	if cs.file != nil {
		return nil
	}
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := fsys.OpenFile(cs.path, flag, 0o644)
	if err != nil {
		if !writable && errors.Is(err, os.ErrNotExist) {
			// Never written; every tile reads as zeros.
			return nil
		}
		return err
	}
	cs.file = f
	return nil
}

func (c *hypercube) fetchFn(cs *colStore) func(uint32) ([]byte, error) {
	return func(id uint32) ([]byte, error) {
		buf := make([]byte, cs.tileBytes)
		l := cs.loc[id]
		if l.ln == 0 {
			return buf, nil
		}
		if err := cs.open(c.m.ctx.FS, c.m.ctx.Writable); err != nil {
			return nil, err
		}
		if cs.file == nil {
			return buf, nil
		}
		raw := buf
		if c.m.comp != nil {
			raw = make([]byte, l.ln)
		}
		if _, err := cs.file.ReadAt(raw[:l.ln], l.off); err != nil && err != io.EOF {
			return nil, err
		}
		if c.m.comp != nil {
			out, err := c.m.comp.Decompress(raw[:l.ln])
			if err != nil {
				return nil, fmt.Errorf("%w: tile %d: %v", sm.ErrCorrupt, id, err)
			}
			if len(out) != cs.tileBytes {
				return nil, fmt.Errorf("%w: tile %d decompressed to %d of %d bytes", sm.ErrCorrupt, id, len(out), cs.tileBytes)
			}
			copy(buf, out)
		}
		return buf, nil
	}
}

func (c *hypercube) writeFn(cs *colStore) func(uint32, []byte) error {
	return func(id uint32, data []byte) error {
		if err := cs.open(c.m.ctx.FS, true); err != nil {
			return err
		}
		payload := data
		if c.m.comp != nil {
			var err error
			if payload, err = c.m.comp.Compress(data); err != nil {
				return err
			}
		}
		l := cs.loc[id]
		if l.ln > 0 && int32(len(payload)) <= l.ln {
			if _, err := cs.file.WriteAt(payload, l.off); err != nil {
				return err
			}
			cs.loc[id] = tileLoc{off: l.off, ln: int32(len(payload))}
			return nil
		}
		off := cs.fileEnd
		if _, err := cs.file.WriteAt(payload, off); err != nil {
			return err
		}
		cs.fileEnd = off + int64(len(payload))
		cs.loc[id] = tileLoc{off: off, ln: int32(len(payload))}
		return nil
	}
}

// extend grows the cube's last (row) axis by n, keeping existing tile
// numbering stable: the last axis is the slowest varying, so new tiles
// append at the end of the grid.
func (c *hypercube) extend(n int) error {
	last := len(c.cellShape) - 1
	c.cellShape[last] += n
	total := c.totalTiles()
	for _, cs := range c.cols {
		for len(cs.loc) < total {
			cs.loc = append(cs.loc, tileLoc{})
		}
	}
	return nil
}

// shrink trims the last axis by n. Cached tiles are invalidated before the
// bounds change.
func (c *hypercube) shrink(n int) error {
	last := len(c.cellShape) - 1
	if c.cellShape[last] < n {
		return fmt.Errorf("%w: shrink %d of %d", sm.ErrShapeMismatch, n, c.cellShape[last])
	}
	for _, cs := range c.cols {
		if err := cs.cache.Clear(); err != nil {
			return err
		}
	}
	c.cellShape[last] -= n
	return nil
}

// locate splits a cube coordinate into a linear tile index and the flat
// element offset within the tile. Out-of-bounds coordinates are an
// invariant violation, never silently clipped.
func (c *hypercube) locate(coord []int) (uint32, int, error) {
	d := len(c.cellShape)
	tileCoord := make([]int, d)
	intra := make([]int, d)
	for i := 0; i < d; i++ {
		if coord[i] < 0 || coord[i] >= c.cellShape[i] {
			return 0, 0, fmt.Errorf("%w: coordinate %v outside cell %v", sm.ErrShapeMismatch, coord, c.cellShape)
		}
		tileCoord[i] = coord[i] / c.tileShape[i]
		intra[i] = coord[i] % c.tileShape[i]
	}
	ti := schema.FlatIndex(c.ntiles(), tileCoord)
	return uint32(ti), schema.FlatIndex(c.tileShape, intra), nil
}

func (c *hypercube) readElem(ci int, coord []int, dst []byte) error {
	tileID, intra, err := c.locate(coord)
	if err != nil {
		return err
	}
	cs := c.cols[ci]
	buf, err := cs.cache.Access(tileID, false)
	if err != nil {
		return err
	}
	es := c.m.cols[ci].elemSize
	copy(dst, buf[intra*es:intra*es+es])
	return nil
}

func (c *hypercube) writeElem(ci int, coord []int, src []byte) error {
	tileID, intra, err := c.locate(coord)
	if err != nil {
		return err
	}
	cs := c.cols[ci]
	buf, err := cs.cache.Access(tileID, true)
	if err != nil {
		return err
	}
	es := c.m.cols[ci].elemSize
	copy(buf[intra*es:intra*es+es], src)
	return nil
}

// adaptCache sizes a column's cache so sweeping the slicer (first axis
// varying fastest) never revisits an evicted tile.
func (c *hypercube) adaptCache(ci int, sl schema.Slicer) error {
	d := len(c.cellShape)
	grid := c.ntiles()
	ntouched := make([]int, d)
	positions := make([]int, d)
	path := make([]int, d)
	for i := 0; i < d; i++ {
		path[i] = i
		positions[i] = sl.Length[i]
		if sl.Length[i] == 0 {
			ntouched[i] = 0
			continue
		}
		loTile := sl.Start[i] / c.tileShape[i]
		hiTile := (sl.Start[i] + (sl.Length[i]-1)*sl.Stride[i]) / c.tileShape[i]
		ntouched[i] = hiTile - loTile + 1
		if ntouched[i] > grid[i] {
			ntouched[i] = grid[i]
		}
	}
	need, err := tile.SizeForAccess(ntouched, positions, path)
	if err != nil {
		return err
	}
	cs := c.cols[ci]
	if need > cs.cache.Slots() {
		return cs.cache.Resize(need)
	}
	return nil
}

func (c *hypercube) flush(sync bool) error {
	for _, cs := range c.cols {
		if err := cs.cache.Flush(); err != nil {
			return err
		}
		if sync && cs.file != nil {
			if err := cs.file.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *hypercube) close() error {
	for _, cs := range c.cols {
		if c.m.ctx.Writable {
			if err := cs.cache.Flush(); err != nil {
				return err
			}
		}
		if cs.file != nil {
			if err := cs.file.Close(); err != nil {
				return err
			}
			cs.file = nil
		}
	}
	return nil
}

func (c *hypercube) deleteFiles() error {
	for ci := range c.cols {
		if err := c.m.ctx.FS.Remove(c.colPath(ci)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// stats aggregates cache statistics across the cube's columns.
func (c *hypercube) stats() tile.Stats {
	var out tile.Stats
	for _, cs := range c.cols {
		s := cs.cache.Stats()
		out.Accesses += s.Accesses
		out.Hits += s.Hits
		out.Misses += s.Misses
		out.Writes += s.Writes
	}
	return out
}
