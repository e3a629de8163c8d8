// Package incremental implements the run-length storage manager. A column
// is a sequence of (start_row, value) intervals partitioning [0, nrow);
// intervals are packed into fixed-size buckets, each bucket self-contained
// over its covered row range for every resident column.
package incremental

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/hupe1980/colstore/internal/bucket"
	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/paged"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

// DefaultBucketSize is used when the binder does not pick one.
const DefaultBucketSize = 4096

type column struct {
	desc schema.ColumnDesc
}

// idxEntry maps the first covered row of a bucket to its ID. Entries are
// sorted by rowLo; bucket i covers [rowLo_i, rowLo_i+1) (or nrow for the
// last).
type idxEntry struct {
	rowLo int
	id    uint32
}

// Manager is one incremental SM instance.
type Manager struct {
	ctx  *sm.Context
	name string
	seq  int

	bucketSize int
	cols       []*column
	byName     map[string]int
	nrow       int
	index      []idxEntry

	file  *paged.File
	store *bucket.Store

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

func buildColumns(descs []schema.ColumnDesc) ([]*column, map[string]int, error) {
	cols := make([]*column, 0, len(descs))
	byName := make(map[string]int, len(descs))
	for _, d := range descs {
		if d.Kind != schema.Scalar {
			return nil, nil, fmt.Errorf("%w: incremental manager holds scalar columns, %q is %s",
				sm.ErrUnsupported, d.Name, d.Kind)
		}
		if d.Type == codec.Other {
			return nil, nil, codec.ErrUnsupportedType
		}
		if _, dup := byName[d.Name]; dup {
			return nil, nil, fmt.Errorf("column %q: duplicate", d.Name)
		}
		byName[d.Name] = len(cols)
		cols = append(cols, &column{desc: d.Clone()})
	}
	return cols, byName, nil
}

// Create builds a fresh instance. Every column starts as a single interval
// of its zero value covering all initial rows.
func Create(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, opts ...Option) (*Manager, error) {
	ctx.Normalize()
	co := createOpts{bucketSize: DefaultBucketSize}
	for _, o := range opts {
		o(&co)
	}
	cols, byName, err := buildColumns(descs)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		ctx:        ctx,
		name:       name,
		seq:        seq,
		bucketSize: co.bucketSize,
		cols:       cols,
		byName:     byName,
		nrow:       nrow,
		log:        ctx.Logger,
	}
	base := filepath.Join(ctx.Dir, sm.FileBase(seq, name))
	m.file, err = paged.Create(ctx.FS, base+".ism", ctx.Eng, ctx.PageSize)
	if err != nil {
		return nil, err
	}
	if m.store, err = bucket.NewStore(m.file, co.bucketSize, ismCacheSlots(ctx, co.bucketSize)); err != nil {
		return nil, err
	}
	// Seed the single root bucket.
	db := &decBucket{rowLo: 0, cols: make([][]ival, len(cols))}
	for i, c := range cols {
		zero, err := codec.AppendScalar(ctx.Eng, nil, c.desc.Type, codec.Zero(c.desc.Type))
		if err != nil {
			return nil, err
		}
		db.cols[i] = []ival{{start: 0, val: zero}}
	}
	id, err := m.store.Allocate()
	if err != nil {
		return nil, err
	}
	m.index = []idxEntry{{rowLo: 0, id: id}}
	if err := m.writeDecoded(id, db); err != nil {
		return nil, err
	}
	return m, nil
}

// Open restores a persisted instance; registered with the SM registry.
func Open(ctx *sm.Context, name string, seq int, descs []schema.ColumnDesc, nrow int, state []byte) (sm.StorageManager, error) {
	ctx.Normalize()
	r := codec.NewReader(ctx.Eng, state)
	bucketSize := int(r.Uint32())
	stateRows := int(r.Uint32())
	n := int(r.Uint32())
	index := make([]idxEntry, n)
	for i := range index {
		index[i].rowLo = int(r.Uint32())
		index[i].id = r.Uint32()
	}
	storeState := r.Blob()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: incremental state: %v", sm.ErrCorrupt, err)
	}
	if stateRows != nrow {
		return nil, fmt.Errorf("%w: incremental row count %d vs table %d", sm.ErrCorrupt, stateRows, nrow)
	}
	cols, byName, err := buildColumns(descs)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		ctx:        ctx,
		name:       name,
		seq:        seq,
		bucketSize: bucketSize,
		cols:       cols,
		byName:     byName,
		nrow:       nrow,
		index:      index,
		log:        ctx.Logger,
	}
	base := filepath.Join(ctx.Dir, sm.FileBase(seq, name))
	m.file, err = paged.Open(ctx.FS, base+".ism", ctx.Eng, ctx.Writable)
	if err != nil {
		return nil, err
	}
	if m.store, err = bucket.OpenStore(m.file, ctx.Eng, storeState, ismCacheSlots(ctx, bucketSize)); err != nil {
		return nil, err
	}
	return m, nil
}

func ismCacheSlots(ctx *sm.Context, bucketSize int) int {
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

// Name returns the instance name.
func (m *Manager) Name() string { return m.name }

// Type returns sm.Incremental.
func (m *Manager) Type() sm.Type { return sm.Incremental }

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

// CanAddColumn reports false: the column set is fixed at create time.
func (m *Manager) CanAddColumn() bool { return false }

// AddColumn always fails; see CanAddColumn.
func (m *Manager) AddColumn(schema.ColumnDesc) error {
	return fmt.Errorf("%w: add column on incremental manager %q", sm.ErrUnsupported, m.name)
}

// RenameColumn updates the internal tables.
func (m *Manager) RenameColumn(oldName, newName string) error {
	ci, ok := m.byName[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", sm.ErrUnknownColumn, oldName)
	}
	if _, dup := m.byName[newName]; dup {
		return fmt.Errorf("incremental: column %q already present", newName)
	}
	delete(m.byName, oldName)
	m.byName[newName] = ci
	m.cols[ci].desc.Name = newName
	return nil
}

// Spec reports the instance configuration.
func (m *Manager) Spec() *schema.Record {
	rec := schema.NewRecord()
	rec.Set("BUCKETSIZE", int32(m.bucketSize))
	rec.Set("NBUCKETS", int32(len(m.index)))
	return rec
}

// State serializes the instance for the table header.
func (m *Manager) State() ([]byte, error) {
	storeState, err := m.store.State(m.ctx.Eng)
	if err != nil {
		return nil, err
	}
	w := codec.NewWriter(m.ctx.Eng)
	w.Uint32(uint32(m.bucketSize))
	w.Uint32(uint32(m.nrow))
	w.Uint32(uint32(len(m.index)))
	for _, e := range m.index {
		w.Uint32(uint32(e.rowLo))
		w.Uint32(e.id)
	}
	w.Blob(storeState)
	return w.Bytes()
}

// Flush writes dirty buckets.
func (m *Manager) Flush(sync bool) (bool, error) {
	return m.store.Flush(sync)
}

// Close flushes and closes the file.
func (m *Manager) Close() error {
	if m.ctx.Writable {
		if _, err := m.Flush(false); err != nil {
			return err
		}
	}
	return m.file.Close()
}

// DeleteFiles removes the instance's file.
func (m *Manager) DeleteFiles() error {
	base := filepath.Join(m.ctx.Dir, sm.FileBase(m.seq, m.name))
	return m.ctx.FS.Remove(base + ".ism")
}

// bucketAt returns the index position of the bucket covering row.
func (m *Manager) bucketAt(row int) int {
	// Greatest rowLo <= row.
	i := sort.Search(len(m.index), func(i int) bool { return m.index[i].rowLo > row })
	return i - 1
}

// rowHi returns the first row past bucket i's coverage.
func (m *Manager) rowHi(i int) int {
	if i+1 < len(m.index) {
		return m.index[i+1].rowLo
	}
	return m.nrow
}
