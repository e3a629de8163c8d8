// Package colset implements the column-set coordinator: it owns the table's
// storage-manager instances, routes column operations to the owning SM,
// assigns unique SM names, and propagates row mutations to every SM.
package colset

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
	"github.com/hupe1980/colstore/internal/sm/incremental"
	"github.com/hupe1980/colstore/internal/sm/standard"
	"github.com/hupe1980/colstore/internal/sm/tiled"
)

var (
	// ErrUnknownColumn flags a column no SM owns.
	ErrUnknownColumn = errors.New("colset: unknown column")
	// ErrDuplicate flags a duplicate column or SM name.
	ErrDuplicate = errors.New("colset: duplicate name")
	// ErrUnknownManager flags an SM name not present in the table.
	ErrUnknownManager = errors.New("colset: unknown storage manager")
)

// Binding describes where a new column should live.
type Binding struct {
	// ManagerName routes to an existing instance by name.
	ManagerName string
	// ManagerType requests an instance of a specific SM type, creating one
	// when no existing instance accepts.
	ManagerType *sm.Type
	// Manager adopts an explicitly constructed instance.
	Manager sm.StorageManager
	// BucketSize applies to instances created for this binding.
	BucketSize int
	// TileShape applies to tiled instances created for this binding.
	TileShape []int
}

// ManagerInfo is one entry of the data-manager reflection output.
type ManagerInfo struct {
	Name    string
	Type    string
	SeqNr   int
	Columns []string
	Spec    *schema.Record
}

// ColumnSet coordinates the SM instances of one table.
type ColumnSet struct {
	ctx     *sm.Context
	reg     *sm.Registry
	mgrs    []sm.StorageManager
	owner   map[string]sm.StorageManager
	descs   []schema.ColumnDesc
	nrow    int
	nextSeq int
	log     *slog.Logger
}

// New builds an empty column set. The registry carries the SM open
// functions used by Load.
func New(ctx *sm.Context, reg *sm.Registry) *ColumnSet {
	return &ColumnSet{
		ctx:   ctx,
		reg:   reg,
		owner: make(map[string]sm.StorageManager),
		log:   ctx.Logger,
	}
}

// DefaultRegistry returns a registry with the built-in SM families bound.
// It is constructed per table at open and dies with it.
func DefaultRegistry() *sm.Registry {
	reg := sm.NewRegistry()
	reg.Register(sm.Standard, standard.Open)
	reg.Register(sm.Incremental, incremental.Open)
	reg.Register(sm.TiledCell, tiled.OpenCell)
	reg.Register(sm.TiledColumn, tiled.OpenColumn)
	reg.Register(sm.TiledShape, tiled.OpenShape)
	return reg
}

// NRow returns the coordinated row count.
func (cs *ColumnSet) NRow() int { return cs.nrow }

// SetNRow seeds the row count at table creation, before managers exist.
func (cs *ColumnSet) SetNRow(n int) { cs.nrow = n }

// Columns lists the column descriptors in table order.
func (cs *ColumnSet) Columns() []schema.ColumnDesc {
	out := make([]schema.ColumnDesc, len(cs.descs))
	for i, d := range cs.descs {
		out[i] = d.Clone()
	}
	return out
}

// ColumnDesc returns the descriptor of one column.
func (cs *ColumnSet) ColumnDesc(name string) (schema.ColumnDesc, error) {
	for _, d := range cs.descs {
		if d.Name == name {
			return d.Clone(), nil
		}
	}
	return schema.ColumnDesc{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
}

// Owner resolves the SM owning a column.
func (cs *ColumnSet) Owner(col string) (sm.StorageManager, error) {
	m, ok := cs.owner[col]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	return m, nil
}

// Manager resolves an SM instance by name.
func (cs *ColumnSet) Manager(name string) (sm.StorageManager, error) {
	for _, m := range cs.mgrs {
		if m.Name() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownManager, name)
}

// Managers lists the SM instances in creation order.
func (cs *ColumnSet) Managers() []sm.StorageManager {
	return append([]sm.StorageManager(nil), cs.mgrs...)
}

// UniqueName returns the requested SM name if free, else the first free
// "name_1", "name_2", ... suffix.
func (cs *ColumnSet) UniqueName(requested string) string {
	if requested == "" {
		requested = "SSM"
	}
	taken := func(n string) bool {
		for _, m := range cs.mgrs {
			if m.Name() == n {
				return true
			}
		}
		return false
	}
	if !taken(requested) {
		return requested
	}
	for i := 1; ; i++ {
		candidate := requested + "_" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// NextSeq hands out the next SM sequence number.
func (cs *ColumnSet) NextSeq() int {
	s := cs.nextSeq
	cs.nextSeq++
	return s
}

// Adopt adds an SM instance and registers its columns. The instance's name
// must be unique and its columns must not collide with existing ones.
func (cs *ColumnSet) Adopt(m sm.StorageManager, descs []schema.ColumnDesc) error {
	for _, existing := range cs.mgrs {
		if existing.Name() == m.Name() {
			return fmt.Errorf("%w: storage manager %q", ErrDuplicate, m.Name())
		}
	}
	for _, d := range descs {
		if _, dup := cs.owner[d.Name]; dup {
			return fmt.Errorf("%w: column %q", ErrDuplicate, d.Name)
		}
	}
	cs.mgrs = append(cs.mgrs, m)
	for _, d := range descs {
		dd := d.Clone()
		dd.Manager = m.Name()
		cs.owner[dd.Name] = m
		cs.descs = append(cs.descs, dd)
	}
	if m.SeqNr() >= cs.nextSeq {
		cs.nextSeq = m.SeqNr() + 1
	}
	return nil
}

// AddColumn binds a new column per the binding rules: an explicit instance
// wins, then an instance by name, then by type, then any instance that
// accepts new columns, and finally a fresh default standard SM.
func (cs *ColumnSet) AddColumn(d schema.ColumnDesc, b Binding) error {
	if _, dup := cs.owner[d.Name]; dup {
		return fmt.Errorf("%w: column %q", ErrDuplicate, d.Name)
	}

	if b.Manager != nil {
		return cs.Adopt(b.Manager, []schema.ColumnDesc{d})
	}

	if b.ManagerName != "" {
		m, err := cs.Manager(b.ManagerName)
		if err != nil {
			return err
		}
		return cs.addToManager(m, d)
	}

	if b.ManagerType != nil {
		for _, m := range cs.mgrs {
			if m.Type() == *b.ManagerType && m.CanAddColumn() {
				return cs.addToManager(m, d)
			}
		}
		return cs.createFor(d, *b.ManagerType, b)
	}

	for _, m := range cs.mgrs {
		if m.CanAddColumn() {
			if err := cs.addToManager(m, d); err == nil {
				return nil
			}
		}
	}
	return cs.createFor(d, sm.Standard, b)
}

func (cs *ColumnSet) addToManager(m sm.StorageManager, d schema.ColumnDesc) error {
	if err := m.AddColumn(d); err != nil {
		return err
	}
	dd := d.Clone()
	dd.Manager = m.Name()
	cs.owner[dd.Name] = m
	cs.descs = append(cs.descs, dd)
	return nil
}

// createFor instantiates a fresh SM of the given type holding the column.
func (cs *ColumnSet) createFor(d schema.ColumnDesc, typ sm.Type, b Binding) error {
	name := cs.UniqueName(typ.String())
	seq := cs.NextSeq()
	descs := []schema.ColumnDesc{d}
	var m sm.StorageManager
	var err error
	switch typ {
	case sm.Standard:
		var opts []standard.Option
		if b.BucketSize > 0 {
			opts = append(opts, standard.WithBucketSize(b.BucketSize))
		}
		m, err = standard.Create(cs.ctx, name, seq, descs, cs.nrow, opts...)
	case sm.Incremental:
		var opts []incremental.Option
		if b.BucketSize > 0 {
			opts = append(opts, incremental.WithBucketSize(b.BucketSize))
		}
		m, err = incremental.Create(cs.ctx, name, seq, descs, cs.nrow, opts...)
	case sm.TiledCell, sm.TiledColumn, sm.TiledShape:
		var opts []tiled.Option
		if b.TileShape != nil {
			opts = append(opts, tiled.WithTileShape(b.TileShape))
		}
		m, err = tiled.Create(cs.ctx, name, seq, typ, descs, cs.nrow, opts...)
	default:
		err = fmt.Errorf("colset: unknown manager type %s", typ)
	}
	if err != nil {
		return err
	}
	return cs.Adopt(m, descs)
}

// RemoveColumn forwards to the owning SM; a sole-tenant SM is destroyed
// with its files.
func (cs *ColumnSet) RemoveColumn(name string) error {
	m, err := cs.Owner(name)
	if err != nil {
		return err
	}
	if err := m.RemoveColumn(name); err != nil {
		return err
	}
	delete(cs.owner, name)
	for i, d := range cs.descs {
		if d.Name == name {
			cs.descs = append(cs.descs[:i], cs.descs[i+1:]...)
			break
		}
	}
	if len(m.Columns()) == 0 {
		if err := m.Close(); err != nil {
			return err
		}
		if err := m.DeleteFiles(); err != nil {
			return err
		}
		for i, mm := range cs.mgrs {
			if mm == m {
				cs.mgrs = append(cs.mgrs[:i], cs.mgrs[i+1:]...)
				break
			}
		}
		if cs.log != nil {
			cs.log.Debug("destroyed empty storage manager", "manager", m.Name())
		}
	}
	return nil
}

// RenameColumn forwards to the owning SM and updates the descriptors.
func (cs *ColumnSet) RenameColumn(oldName, newName string) error {
	m, err := cs.Owner(oldName)
	if err != nil {
		return err
	}
	if _, dup := cs.owner[newName]; dup {
		return fmt.Errorf("%w: column %q", ErrDuplicate, newName)
	}
	if err := m.RenameColumn(oldName, newName); err != nil {
		return err
	}
	cs.owner[newName] = m
	delete(cs.owner, oldName)
	for i := range cs.descs {
		if cs.descs[i].Name == oldName {
			cs.descs[i].Name = newName
			break
		}
	}
	return nil
}

// AddRows appends rows to every SM in stable order. On a mid-sequence
// failure the rows added to earlier SMs are rewound before returning.
func (cs *ColumnSet) AddRows(n int) error {
	for i, m := range cs.mgrs {
		if err := m.AddRows(n); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev := cs.mgrs[j]
				for k := 0; k < n; k++ {
					prev.RemoveRow(prev.NRow() - 1)
				}
			}
			return err
		}
	}
	cs.nrow += n
	return nil
}

// RemoveRow removes one row from every SM. Every SM is asked first; an SM
// that cannot remove the row (CanRemoveRow false) fails the whole
// operation up front, so no partial removal is ever visible.
func (cs *ColumnSet) RemoveRow(row int) error {
	if row < 0 || row >= cs.nrow {
		return fmt.Errorf("%w: %d of %d", sm.ErrRowOutOfRange, row, cs.nrow)
	}
	for _, m := range cs.mgrs {
		if !m.CanRemoveRow(row) {
			return fmt.Errorf("%w: manager %q refuses to remove row %d", sm.ErrUnsupported, m.Name(), row)
		}
	}
	for _, m := range cs.mgrs {
		if err := m.RemoveRow(row); err != nil {
			return err
		}
	}
	cs.nrow--
	return nil
}

// Flush writes every SM back; it reports whether anything was written.
func (cs *ColumnSet) Flush(sync bool) (bool, error) {
	wrote := false
	for _, m := range cs.mgrs {
		w, err := m.Flush(sync)
		wrote = wrote || w
		if err != nil {
			return wrote, err
		}
	}
	return wrote, nil
}

// Close closes every SM.
func (cs *ColumnSet) Close() error {
	var firstErr error
	for _, m := range cs.mgrs {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DataManagerInfo reflects the live SM instances.
func (cs *ColumnSet) DataManagerInfo() []ManagerInfo {
	out := make([]ManagerInfo, len(cs.mgrs))
	for i, m := range cs.mgrs {
		out[i] = ManagerInfo{
			Name:    m.Name(),
			Type:    m.Type().String(),
			SeqNr:   m.SeqNr(),
			Columns: m.Columns(),
			Spec:    m.Spec(),
		}
	}
	return out
}

// ActualColumns returns the column descriptors with their data-manager
// fields reflecting reality rather than the original request.
func (cs *ColumnSet) ActualColumns() []schema.ColumnDesc {
	out := make([]schema.ColumnDesc, len(cs.descs))
	for i, d := range cs.descs {
		dd := d.Clone()
		if m, ok := cs.owner[d.Name]; ok {
			dd.Manager = m.Name()
		}
		out[i] = dd
	}
	return out
}

// LoadManager is one persisted SM instance handed to Load.
type LoadManager struct {
	Name  string
	Type  sm.Type
	Seq   int
	State []byte
}

// Load rebuilds a column set from the header's schema and SM layout,
// preserving the table's column order.
func Load(ctx *sm.Context, reg *sm.Registry, nrow int, cols []schema.ColumnDesc, mgrs []LoadManager) (*ColumnSet, error) {
	cs := New(ctx, reg)
	cs.nrow = nrow
	byMgr := make(map[string][]schema.ColumnDesc)
	for _, d := range cols {
		byMgr[d.Manager] = append(byMgr[d.Manager], d)
	}
	opened := make(map[string]sm.StorageManager, len(mgrs))
	for _, rec := range mgrs {
		m, err := reg.Open(rec.Type, ctx, rec.Name, rec.Seq, byMgr[rec.Name], nrow, rec.State)
		if err != nil {
			return nil, fmt.Errorf("manager %q: %w", rec.Name, err)
		}
		cs.mgrs = append(cs.mgrs, m)
		opened[rec.Name] = m
		if rec.Seq >= cs.nextSeq {
			cs.nextSeq = rec.Seq + 1
		}
	}
	for _, d := range cols {
		m, ok := opened[d.Manager]
		if !ok {
			return nil, fmt.Errorf("%w: column %q references manager %q", ErrUnknownManager, d.Name, d.Manager)
		}
		cs.owner[d.Name] = m
		cs.descs = append(cs.descs, d.Clone())
	}
	return cs, nil
}

// SetColumnKeyword stores a keyword on a column's descriptor.
func (cs *ColumnSet) SetColumnKeyword(col, name string, v any) error {
	for i := range cs.descs {
		if cs.descs[i].Name == col {
			if cs.descs[i].Keywords == nil {
				cs.descs[i].Keywords = schema.NewRecord()
			}
			return cs.descs[i].Keywords.Set(name, v)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
}
