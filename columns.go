package colstore

import (
	"github.com/hupe1980/colstore/internal/colset"
	"github.com/hupe1980/colstore/internal/sm"
)

// AddColumn adds a column to an open table. A named manager wins, then a
// manager type (reusing an accepting instance or creating one), then any
// instance accepting new columns, and finally a fresh default standard
// manager.
func (t *Table) AddColumn(spec ColumnSpec) error {
	if err := t.ready("addColumn"); err != nil {
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

	b := colset.Binding{
		ManagerName: spec.Column.Manager,
		BucketSize:  spec.BucketSize,
		TileShape:   spec.TileShape,
	}
	if spec.Column.Manager == "" && spec.ManagerType != ManagerStandard {
		typ := sm.Type(spec.ManagerType)
		b.ManagerType = &typ
	}
	d := spec.Column.desc()
	d.Manager = ""
	if err := t.cs.AddColumn(d, b); err != nil {
		return translateError(err)
	}
	t.modified = true
	return translateError(t.writeHeader(true))
}

// RemoveColumn removes a column; a storage manager left without columns is
// destroyed with its files.
func (t *Table) RemoveColumn(name string) error {
	if err := t.ready("removeColumn"); err != nil {
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
	if err := t.cs.RemoveColumn(name); err != nil {
		return translateError(err)
	}
	t.modified = true
	return translateError(t.writeHeader(true))
}

// RenameColumn renames a column; reads through the old name fail with
// not-found afterwards.
func (t *Table) RenameColumn(oldName, newName string) error {
	if err := t.ready("renameColumn"); err != nil {
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
	if err := t.cs.RenameColumn(oldName, newName); err != nil {
		return translateError(err)
	}
	t.modified = true
	return translateError(t.writeHeader(true))
}

// Columns lists the table's columns in schema order.
func (t *Table) Columns() ([]Column, error) {
	if err := t.ready("columns"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	descs := t.cs.Columns()
	out := make([]Column, len(descs))
	for i, d := range descs {
		out[i] = columnFromDesc(d)
	}
	return out, nil
}

// HasColumn reports whether the table has a column of that name.
func (t *Table) HasColumn(name string) bool {
	if t.ready("hasColumn") != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.cs.Owner(name)
	return err == nil
}
