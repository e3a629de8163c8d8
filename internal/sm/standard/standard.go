// Package standard implements the row-oriented storage manager. Rows are
// packed k to a bucket; every column owns a fixed slot inside the row
// stride. Strings longer than the inline threshold, and every variable or
// string array cell, live in an indirect store.
package standard

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hupe1980/colstore/internal/bucket"
	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/paged"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

const (
	// inlineMax is the largest encoded string kept inside the bucket slot.
	inlineMax = 8
	// varSlot is the slot width of a variable or indirect cell: one tag
	// byte plus an 8-byte payload (inline bytes, or bucket id + length).
	varSlot = 1 + inlineMax

	tagIndirect = 0xFF

	// DefaultBucketSize is used when the binder does not pick one.
	DefaultBucketSize = 4096
)

type column struct {
	desc   schema.ColumnDesc
	width  int
	offset int
	inline bool // value lives fully inside the slot
}

// Manager is one standard SM instance.
type Manager struct {
	ctx  *sm.Context
	name string
	seq  int

	bucketSize int
	rowsPer    int // k
	stride     int

	cols    []*column
	byName  map[string]int
	nrow    int
	buckets []uint32 // ordered bucket IDs, row r lives in buckets[r/k]

	mainFile *paged.File
	indFile  *paged.File
	main     *bucket.Store
	indirect *bucket.Store

	log *slog.Logger
}

// Option tweaks instance creation.
type Option func(*createOpts)

type createOpts struct {
	bucketSize int
}

// WithBucketSize sets the bucket byte size chosen at creation.
func WithBucketSize(n int) Option {
	return func(o *createOpts) { o.bucketSize = n }
}

func slotWidth(d schema.ColumnDesc) (width int, inline bool, err error) {
	switch d.Kind {
	case schema.Scalar:
		if sz := d.Type.FixedSize(); sz > 0 {
			return sz, true, nil
		}
		if d.Type == codec.String {
			return varSlot, false, nil
		}
		return 0, false, codec.ErrUnsupportedType
	case schema.ArrayFixed:
		if sz := d.Type.FixedSize(); sz > 0 {
			n := 1
			for _, s := range d.Shape {
				if s <= 0 {
					return 0, false, fmt.Errorf("%w: fixed array axis %d", sm.ErrShapeMismatch, s)
				}
				n *= s
			}
			return n * sz, true, nil
		}
		// Fixed-shape string arrays are variable on disk.
		return varSlot, false, nil
	case schema.ArrayVar:
		return varSlot, false, nil
	}
	return 0, false, codec.ErrUnsupportedType
}

func buildColumns(descs []schema.ColumnDesc) ([]*column, map[string]int, int, error) {
	cols := make([]*column, 0, len(descs))
	byName := make(map[string]int, len(descs))
	stride := 0
	for _, d := range descs {
		w, inline, err := slotWidth(d)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("column %q: %w", d.Name, err)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, nil, 0, fmt.Errorf("column %q: duplicate", d.Name)
		}
		byName[d.Name] = len(cols)
		cols = append(cols, &column{desc: d.Clone(), width: w, offset: stride, inline: inline})
		stride += w
	}
	return cols, byName, stride, nil
}

func cacheSlots(ctx *sm.Context, bucketSize int) int {
	maxBytes := ctx.MaxCacheBytes
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	slots := int(maxBytes / int64(bucketSize))
	if slots < 4 {
		slots = 4
	}
	if slots > 1024 {
		slots = 1024
	}
	return slots
}

// Create builds a fresh instance with the given columns and row count.
func Create(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, opts ...Option) (*Manager, error) {
	ctx.Normalize()
	co := createOpts{bucketSize: DefaultBucketSize}
	for _, o := range opts {
		o(&co)
	}
	cols, byName, stride, err := buildColumns(descs)
	if err != nil {
		return nil, err
	}
	if stride > co.bucketSize {
		return nil, fmt.Errorf("standard: row stride %d exceeds bucket size %d", stride, co.bucketSize)
	}
	m := &Manager{
		ctx:        ctx,
		name:       name,
		seq:        seq,
		bucketSize: co.bucketSize,
		stride:     stride,
		cols:       cols,
		byName:     byName,
		log:        ctx.Logger,
	}
	m.rowsPer = m.computeRowsPer()
	base := filepath.Join(ctx.Dir, sm.FileBase(seq, name))
	m.mainFile, err = paged.Create(ctx.FS, base+".ssm", ctx.Eng, ctx.PageSize)
	if err != nil {
		return nil, err
	}
	m.indFile, err = paged.Create(ctx.FS, base+".ssi", ctx.Eng, ctx.PageSize)
	if err != nil {
		m.mainFile.Close()
		return nil, err
	}
	slots := cacheSlots(ctx, co.bucketSize)
	if m.main, err = bucket.NewStore(m.mainFile, co.bucketSize, slots); err != nil {
		return nil, err
	}
	if m.indirect, err = bucket.NewStore(m.indFile, co.bucketSize, slots); err != nil {
		return nil, err
	}
	if nrow > 0 {
		if err := m.AddRows(nrow); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Open restores a persisted instance; registered with the SM registry.
func Open(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, state []byte) (sm.StorageManager, error) {
	ctx.Normalize()
	r := codec.NewReader(ctx.Eng, state)
	bucketSize := int(r.Uint32())
	stateRows := int(r.Uint32())
	nb := int(r.Uint32())
	bucketIDs := make([]uint32, nb)
	for i := range bucketIDs {
		bucketIDs[i] = r.Uint32()
	}
	mainState := r.Blob()
	indState := r.Blob()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: standard state: %v", sm.ErrCorrupt, err)
	}
	if stateRows != nrow {
		return nil, fmt.Errorf("%w: standard row count %d vs table %d", sm.ErrCorrupt, stateRows, nrow)
	}
	cols, byName, stride, err := buildColumns(descs)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		ctx:        ctx,
		name:       name,
		seq:        seq,
		bucketSize: bucketSize,
		stride:     stride,
		cols:       cols,
		byName:     byName,
		nrow:       nrow,
		buckets:    bucketIDs,
		log:        ctx.Logger,
	}
	m.rowsPer = m.computeRowsPer()
	base := filepath.Join(ctx.Dir, sm.FileBase(seq, name))
	m.mainFile, err = paged.Open(ctx.FS, base+".ssm", ctx.Eng, ctx.Writable)
	if err != nil {
		return nil, err
	}
	m.indFile, err = paged.Open(ctx.FS, base+".ssi", ctx.Eng, ctx.Writable)
	if err != nil {
		m.mainFile.Close()
		return nil, err
	}
	slots := cacheSlots(ctx, bucketSize)
	if m.main, err = bucket.OpenStore(m.mainFile, ctx.Eng, mainState, slots); err != nil {
		return nil, err
	}
	if m.indirect, err = bucket.OpenStore(m.indFile, ctx.Eng, indState, slots); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) computeRowsPer() int {
	if m.stride == 0 {
		return m.bucketSize
	}
	k := m.bucketSize / m.stride
	if k < 1 {
		k = 1
	}
	return k
}

// Name returns the instance name.
func (m *Manager) Name() string { return m.name }

// Type returns sm.Standard.
func (m *Manager) Type() sm.Type { return sm.Standard }

// SeqNr returns the instance sequence number inside the table.
func (m *Manager) SeqNr() int { return m.seq }

// NRow returns the managed row count.
func (m *Manager) NRow() int { return m.nrow }

// Columns lists the owned column names in slot order.
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

// CanAddColumn reports that the standard SM accepts new columns.
func (m *Manager) CanAddColumn() bool { return true }

// Spec reports the instance configuration.
func (m *Manager) Spec() *schema.Record {
	rec := schema.NewRecord()
	rec.Set("BUCKETSIZE", int32(m.bucketSize))
	rec.Set("ROWSPERBUCKET", int32(m.rowsPer))
	rec.Set("INLINELIMIT", int32(inlineMax))
	return rec
}

// State serializes the instance for the table header.
func (m *Manager) State() ([]byte, error) {
	mainState, err := m.main.State(m.ctx.Eng)
	if err != nil {
		return nil, err
	}
	indState, err := m.indirect.State(m.ctx.Eng)
	if err != nil {
		return nil, err
	}
	w := codec.NewWriter(m.ctx.Eng)
	w.Uint32(uint32(m.bucketSize))
	w.Uint32(uint32(m.nrow))
	w.Uint32(uint32(len(m.buckets)))
	for _, id := range m.buckets {
		w.Uint32(id)
	}
	w.Blob(mainState)
	w.Blob(indState)
	return w.Bytes()
}

// Flush writes dirty buckets of both pools.
func (m *Manager) Flush(sync bool) (bool, error) {
	w1, err := m.main.Flush(sync)
	if err != nil {
		return w1, err
	}
	w2, err := m.indirect.Flush(sync)
	return w1 || w2, err
}

// Close flushes and closes both files.
func (m *Manager) Close() error {
	if m.ctx.Writable {
		if _, err := m.Flush(false); err != nil {
			return err
		}
	}
	if err := m.mainFile.Close(); err != nil {
		m.indFile.Close()
		return err
	}
	return m.indFile.Close()
}

// DeleteFiles removes the instance's files.
func (m *Manager) DeleteFiles() error {
	base := filepath.Join(m.ctx.Dir, sm.FileBase(m.seq, m.name))
	if err := m.ctx.FS.Remove(base + ".ssm"); err != nil {
		return err
	}
	return m.ctx.FS.Remove(base + ".ssi")
}
