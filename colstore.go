// Package colstore is an embedded, self-describing columnar table store.
// A table holds a fixed schema of typed columns and a growing set of rows;
// each column is handled by a pluggable storage manager choosing an
// on-disk layout optimized for its access pattern: the row-oriented
// standard manager, the run-length incremental manager, or one of three
// tiled hypercube managers. Tables are persistent, endian-tagged, and
// support concurrent readers with lock-coordinated writers.
package colstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/colset"
	"github.com/hupe1980/colstore/internal/compress"
	"github.com/hupe1980/colstore/internal/fs"
	"github.com/hupe1980/colstore/internal/header"
	"github.com/hupe1980/colstore/internal/lock"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
	"github.com/hupe1980/colstore/internal/sm/incremental"
	"github.com/hupe1980/colstore/internal/sm/standard"
	"github.com/hupe1980/colstore/internal/sm/tiled"
	"github.com/hupe1980/colstore/internal/tabcache"
)

// tableCache deduplicates opens of one path within the process when the
// WithTableCache option is used.
var tableCache = tabcache.New()

type headerStamp struct {
	modTime time.Time
	size    int64
}

// Table is a handle on one table directory. A Table is mutated only from
// one goroutine at a time; the handle serializes its own operations, but
// cross-process coordination goes through the file lock.
type Table struct {
	mu   sync.Mutex
	dir  string
	fsys fs.FileSystem
	opts options

	eng      codec.Engine
	pageSize int
	mode     OpenMode
	writable bool

	cs       *colset.ColumnSet
	keywords *schema.Record
	lk       *lock.FileLock
	log      *Logger

	closed        bool
	modified      bool
	deleteOnClose bool
	cacheKey      string
	stamp         headerStamp
}

func (t *Table) ready(op string) error {
	if t == nil {
		return nullError(op)
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nullError(op)
	}
	return nil
}

func resolveEngine(e Endian) codec.Engine {
	switch e {
	case EndianBig:
		return codec.Big()
	case EndianLittle:
		return codec.Little()
	default:
		return codec.NativeOrder()
	}
}

func (t *Table) smContext() *sm.Context {
	return &sm.Context{
		Dir:           t.dir,
		FS:            t.fsys,
		Eng:           t.eng,
		PageSize:      t.pageSize,
		Logger:        t.log.Logger,
		Writable:      t.writable,
		MaxCacheBytes: t.opts.maxCacheBytes,
		Compression:   compressType(t.opts.compression),
	}
}

// CreateTable creates a table at path with the given columns and initial
// row count, replacing any existing table there.
func CreateTable(path string, cols []ColumnSpec, nrow int, opts ...Option) (*Table, error) {
	return createTable(path, cols, nrow, OpenNew, opts...)
}

// CreateTableNoReplace creates a table, failing when the path exists.
func CreateTableNoReplace(path string, cols []ColumnSpec, nrow int, opts ...Option) (*Table, error) {
	return createTable(path, cols, nrow, OpenNewNoReplace, opts...)
}

// CreateScratchTable creates a table that deletes itself on Close.
func CreateScratchTable(path string, cols []ColumnSpec, nrow int, opts ...Option) (*Table, error) {
	return createTable(path, cols, nrow, OpenScratch, opts...)
}

func createTable(path string, cols []ColumnSpec, nrow int, mode OpenMode, opts ...Option) (*Table, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	fsys := fs.Default
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, translateError(err)
	}

	if _, err := fsys.Stat(abs); err == nil {
		if mode == OpenNewNoReplace {
			return nil, fmt.Errorf("%w: %s", ErrTableExists, abs)
		}
		if err := fsys.RemoveAll(abs); err != nil {
			return nil, translateError(err)
		}
	}
	if err := fsys.MkdirAll(abs, 0o755); err != nil {
		return nil, translateError(err)
	}

	t := &Table{
		dir:           abs,
		fsys:          fsys,
		opts:          o,
		eng:           resolveEngine(o.endian),
		pageSize:      o.pageSize,
		mode:          mode,
		writable:      true,
		keywords:      schema.NewRecord(),
		log:           o.logger.WithTable(abs),
		deleteOnClose: mode == OpenScratch,
	}
	t.cs = colset.New(t.smContext(), colset.DefaultRegistry())
	t.cs.SetNRow(nrow)

	if err := t.bindColumns(cols, nrow); err != nil {
		t.cs.Close()
		fsys.RemoveAll(abs)
		return nil, translateError(err)
	}

	t.lk, err = lock.Open(filepath.Join(abs, header.LockFileName))
	if err != nil {
		t.cs.Close()
		fsys.RemoveAll(abs)
		return nil, translateError(err)
	}
	if o.lockMode == LockPermanent {
		if err := t.lk.Acquire(lock.Write, time.Second); err != nil {
			t.cs.Close()
			t.lk.Close()
			fsys.RemoveAll(abs)
			return nil, translateError(err)
		}
	}

	if err := t.writeHeader(true); err != nil {
		t.cs.Close()
		t.lk.Close()
		fsys.RemoveAll(abs)
		return nil, translateError(err)
	}
	if err := header.WriteInfo(fsys, abs, header.Info{}); err != nil {
		return nil, translateError(err)
	}
	t.log.Debug("created table", "columns", len(cols), "rows", nrow)
	return t, nil
}

// bindColumns groups the column specs by their requested manager and
// instantiates the storage managers.
func (t *Table) bindColumns(cols []ColumnSpec, nrow int) error {
	type group struct {
		name  string
		typ   sm.Type
		specs []ColumnSpec
	}
	var groups []*group
	byName := make(map[string]*group)
	for _, c := range cols {
		name := c.Column.Manager
		if name == "" {
			name = c.ManagerType.String()
		}
		g, ok := byName[name]
		if !ok {
			g = &group{name: name, typ: sm.Type(c.ManagerType)}
			byName[name] = g
			groups = append(groups, g)
		} else if g.typ != sm.Type(c.ManagerType) {
			return fmt.Errorf("%w: manager %q bound as both %s and %s",
				ErrDuplicate, name, g.typ, c.ManagerType)
		}
		g.specs = append(g.specs, c)
	}

	ctx := t.smContext()
	for _, g := range groups {
		descs := make([]schema.ColumnDesc, len(g.specs))
		for i, c := range g.specs {
			descs[i] = c.Column.desc()
		}
		name := t.cs.UniqueName(g.name)
		seq := t.cs.NextSeq()
		var mgr sm.StorageManager
		var err error
		switch g.typ {
		case sm.Standard:
			var smOpts []standard.Option
			if bs := g.specs[0].BucketSize; bs > 0 {
				smOpts = append(smOpts, standard.WithBucketSize(bs))
			}
			mgr, err = standard.Create(ctx, name, seq, descs, nrow, smOpts...)
		case sm.Incremental:
			var smOpts []incremental.Option
			if bs := g.specs[0].BucketSize; bs > 0 {
				smOpts = append(smOpts, incremental.WithBucketSize(bs))
			}
			mgr, err = incremental.Create(ctx, name, seq, descs, nrow, smOpts...)
		case sm.TiledCell, sm.TiledColumn, sm.TiledShape:
			var smOpts []tiled.Option
			if ts := g.specs[0].TileShape; ts != nil {
				smOpts = append(smOpts, tiled.WithTileShape(ts))
			}
			mgr, err = tiled.Create(ctx, name, seq, g.typ, descs, nrow, smOpts...)
		default:
			err = fmt.Errorf("unknown manager type %d", g.typ)
		}
		if err != nil {
			return err
		}
		if err := t.cs.Adopt(mgr, descs); err != nil {
			return err
		}
	}
	return nil
}

// OpenTable opens an existing table. Modes OpenOld, OpenUpdate and
// OpenDelete apply; use the CreateTable functions for the new modes.
func OpenTable(path string, mode OpenMode, opts ...Option) (*Table, error) {
	switch mode {
	case OpenOld, OpenUpdate, OpenDelete:
	default:
		return nil, fmt.Errorf("%w: open mode %d needs CreateTable", ErrUnsupported, mode)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, translateError(err)
	}
	if o.useTableCache {
		v, _, err := tableCache.Acquire(abs, func() (any, error) {
			return openTable(abs, mode, o)
		})
		if err != nil {
			return nil, err
		}
		t := v.(*Table)
		t.mu.Lock()
		t.cacheKey = abs
		t.mu.Unlock()
		return t, nil
	}
	return openTable(abs, mode, o)
}

func openTable(abs string, mode OpenMode, o options) (*Table, error) {
	fsys := fs.Default
	if _, err := fsys.Stat(filepath.Join(abs, header.FileName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: table %s", ErrNotFound, abs)
		}
		return nil, translateError(err)
	}
	hdr, err := header.Read(fsys, abs)
	if err != nil {
		return nil, translateError(err)
	}

	writable := mode == OpenUpdate || mode == OpenDelete
	t := &Table{
		dir:           abs,
		fsys:          fsys,
		opts:          o,
		eng:           hdr.Eng,
		pageSize:      hdr.PageSize,
		mode:          mode,
		writable:      writable,
		keywords:      hdr.Keywords,
		log:           o.logger.WithTable(abs),
		deleteOnClose: mode == OpenDelete,
	}
	t.opts.compression = Compression(hdr.Compression)

	mgrs := make([]colset.LoadManager, len(hdr.Managers))
	for i, m := range hdr.Managers {
		mgrs[i] = colset.LoadManager{Name: m.Name, Type: m.Type, Seq: m.Seq, State: m.State}
	}
	t.cs, err = colset.Load(t.smContext(), colset.DefaultRegistry(), hdr.NRow, hdr.Columns, mgrs)
	if err != nil {
		return nil, translateError(err)
	}

	t.lk, err = lock.Open(filepath.Join(abs, header.LockFileName))
	if err != nil {
		t.cs.Close()
		return nil, translateError(err)
	}
	switch o.lockMode {
	case LockPermanent:
		kind := lock.Read
		if writable {
			kind = lock.Write
		}
		if err := t.lk.Acquire(kind, time.Second); err != nil {
			t.cs.Close()
			t.lk.Close()
			return nil, translateError(err)
		}
	case LockUser:
		if err := t.lk.Acquire(lock.Read, time.Second); err != nil {
			t.cs.Close()
			t.lk.Close()
			return nil, translateError(err)
		}
	}
	t.stamp = t.headerStamp()
	t.log.Debug("opened table", "mode", mode, "rows", hdr.NRow)
	return t, nil
}

func (t *Table) headerStamp() headerStamp {
	st, err := t.fsys.Stat(filepath.Join(t.dir, header.FileName))
	if err != nil {
		return headerStamp{}
	}
	return headerStamp{modTime: st.ModTime(), size: st.Size()}
}

// writeHeader rebuilds the header from live state and persists it.
func (t *Table) writeHeader(collectStates bool) error {
	hdr := &header.Header{
		Eng:         t.eng,
		NRow:        t.cs.NRow(),
		PageSize:    t.pageSize,
		Compression: uint8(t.opts.compression),
		Columns:     t.cs.ActualColumns(),
		Keywords:    t.keywords,
		Lock:        header.LockInfo{Mode: uint8(t.opts.lockMode)},
	}
	if collectStates {
		for _, m := range t.cs.Managers() {
			state, err := m.State()
			if err != nil {
				return err
			}
			hdr.Managers = append(hdr.Managers, header.ManagerRecord{
				Name:  m.Name(),
				Type:  m.Type(),
				Seq:   m.SeqNr(),
				State: state,
			})
		}
	}
	return hdr.Write(t.fsys, t.dir)
}

// Name returns the table's directory path.
func (t *Table) Name() string {
	if t == nil {
		return ""
	}
	return t.dir
}

// IsWritable reports whether the handle accepts mutations.
func (t *Table) IsWritable() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable && !t.closed
}

// IsNull reports whether the handle is unusable (nil or closed).
func (t *Table) IsNull() bool {
	return t.ready("isNull") != nil
}

// Flush writes all pending changes to disk. With sync the data is pushed
// to stable storage; with recursive, open sub-tables referenced from the
// keyword record are flushed too.
func (t *Table) Flush(sync, recursive bool) error {
	if err := t.ready("flush"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return translateError(t.flushLocked(sync, recursive))
}

func (t *Table) flushLocked(sync, recursive bool) error {
	if t.writable {
		if _, err := t.cs.Flush(sync); err != nil {
			return err
		}
		if err := t.writeHeader(true); err != nil {
			return err
		}
		t.stamp = t.headerStamp()
	}
	if recursive {
		for _, name := range t.keywords.Names() {
			v, _ := t.keywords.Get(name)
			ref, ok := v.(schema.SubTableRef)
			if !ok {
				continue
			}
			sub := filepath.Join(t.dir, ref.Path)
			if v, _, err := tableCache.Acquire(sub, func() (any, error) { return nil, errNotOpen }); err == nil {
				if st, ok := v.(*Table); ok {
					tableCache.Release(sub)
					if err := st.Flush(sync, recursive); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

var errNotOpen = errors.New("colstore: sub-table not open")

// HasDataChanged reports whether another process changed the table since
// the last check, based on the header file stamp.
func (t *Table) HasDataChanged() bool {
	if t.ready("hasDataChanged") != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.headerStamp()
	changed := cur != t.stamp
	t.stamp = cur
	return changed
}

// Resync reloads the table state from disk, making writes completed by
// other processes visible to this handle.
func (t *Table) Resync() error {
	if err := t.ready("resync"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return translateError(t.reloadLocked(t.writable))
}

// ReopenRW upgrades a read-only handle to read-write.
func (t *Table) ReopenRW() error {
	if err := t.ready("reopenRW"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writable {
		return nil
	}
	return translateError(t.reloadLocked(true))
}

func (t *Table) reloadLocked(writable bool) error {
	if err := t.cs.Close(); err != nil {
		return err
	}
	hdr, err := header.Read(t.fsys, t.dir)
	if err != nil {
		return err
	}
	t.eng = hdr.Eng
	t.pageSize = hdr.PageSize
	t.keywords = hdr.Keywords
	t.writable = writable
	mgrs := make([]colset.LoadManager, len(hdr.Managers))
	for i, m := range hdr.Managers {
		mgrs[i] = colset.LoadManager{Name: m.Name, Type: m.Type, Seq: m.Seq, State: m.State}
	}
	t.cs, err = colset.Load(t.smContext(), colset.DefaultRegistry(), hdr.NRow, hdr.Columns, mgrs)
	if err != nil {
		return err
	}
	t.stamp = t.headerStamp()
	return nil
}

// Close flushes and releases the handle. A scratch or delete-mode table
// removes its directory. With the table cache in play, only the last
// handle really closes.
func (t *Table) Close() error {
	if t == nil {
		return nullError("close")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.cacheKey != "" {
		// The table cache owns the reference count; only the last handle
		// really closes.
		if !tableCache.Release(t.cacheKey) {
			t.mu.Unlock()
			return nil
		}
	}

	var firstErr error
	if t.writable {
		if err := t.flushLocked(true, false); err != nil {
			firstErr = err
		}
	}
	if err := t.cs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.lk.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	t.closed = true
	doomed := t.deleteOnClose
	dir := t.dir
	t.mu.Unlock()

	if doomed {
		if err := t.fsys.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return translateError(firstErr)
}

// DeleteTable removes a table directory without opening it.
func DeleteTable(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return translateError(err)
	}
	if _, err := fs.Default.Stat(filepath.Join(abs, header.FileName)); err != nil {
		return fmt.Errorf("%w: table %s", ErrNotFound, abs)
	}
	return translateError(fs.Default.RemoveAll(abs))
}

// RenameTable moves a table directory. A plain rename is attempted first;
// cross-device or symlinked sources fall back to copy-then-unlink.
func RenameTable(oldPath, newPath string) error {
	oldAbs, err := filepath.Abs(oldPath)
	if err != nil {
		return translateError(err)
	}
	newAbs, err := filepath.Abs(newPath)
	if err != nil {
		return translateError(err)
	}
	if _, err := fs.Default.Stat(filepath.Join(oldAbs, header.FileName)); err != nil {
		return fmt.Errorf("%w: table %s", ErrNotFound, oldAbs)
	}
	return translateError(fs.MoveTree(fs.Default, oldAbs, newAbs))
}

func compressType(c Compression) compress.Type {
	return compress.Type(c)
}
