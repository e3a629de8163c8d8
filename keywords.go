package colstore

import (
	"fmt"

	"github.com/hupe1980/colstore/internal/header"
	"github.com/hupe1980/colstore/internal/schema"
)

// SetKeyword stores a table-level keyword. Accepted value types are the
// scalar cell universe and []string.
func (t *Table) SetKeyword(name string, v any) error {
	if err := t.ready("setKeyword"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.keywords.Set(name, v); err != nil {
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	t.modified = true
	return nil
}

// Keyword reads a table-level keyword.
func (t *Table) Keyword(name string) (any, error) {
	if err := t.ready("keyword"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.keywords.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: keyword %q", ErrNotFound, name)
	}
	if ref, isRef := v.(schema.SubTableRef); isRef {
		return ref.Path, nil
	}
	return v, nil
}

// KeywordNames lists table-level keywords in insertion order.
func (t *Table) KeywordNames() []string {
	if t.ready("keywordNames") != nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keywords.Names()
}

// RemoveKeyword deletes a table-level keyword.
func (t *Table) RemoveKeyword(name string) error {
	if err := t.ready("removeKeyword"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	if _, ok := t.keywords.Get(name); !ok {
		return fmt.Errorf("%w: keyword %q", ErrNotFound, name)
	}
	t.keywords.Delete(name)
	t.modified = true
	return nil
}

// SetSubTable records a keyword referencing a sub-table directory given as
// a path relative to this table; recursive flush descends into it when the
// sub-table is open through the table cache.
func (t *Table) SetSubTable(name, relPath string) error {
	if err := t.ready("setSubTable"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.keywords.Set(name, schema.SubTableRef{Path: relPath}); err != nil {
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	t.modified = true
	return nil
}

// SetColumnKeyword stores a per-column keyword.
func (t *Table) SetColumnKeyword(col, name string, v any) error {
	if err := t.ready("setColumnKeyword"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	if err := t.cs.SetColumnKeyword(col, name, v); err != nil {
		return translateError(err)
	}
	t.modified = true
	return nil
}

// ColumnKeyword reads a per-column keyword.
func (t *Table) ColumnKeyword(col, name string) (any, error) {
	if err := t.ready("columnKeyword"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.cs.ColumnDesc(col)
	if err != nil {
		return nil, translateError(err)
	}
	if d.Keywords == nil {
		return nil, fmt.Errorf("%w: keyword %q on column %q", ErrNotFound, name, col)
	}
	v, ok := d.Keywords.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: keyword %q on column %q", ErrNotFound, name, col)
	}
	return v, nil
}

// TableInfo reads the user-visible table.info record.
func (t *Table) TableInfo() (Info, error) {
	if err := t.ready("tableInfo"); err != nil {
		return Info{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	info, err := header.ReadInfo(t.fsys, t.dir)
	if err != nil {
		return Info{}, translateError(err)
	}
	return Info{Type: info.Type, SubType: info.SubType, Readme: info.Readme}, nil
}

// SetTableInfo replaces the user-visible table.info record.
func (t *Table) SetTableInfo(info Info) error {
	if err := t.ready("setTableInfo"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.writable {
		return ErrReadOnly
	}
	return translateError(header.WriteInfo(t.fsys, t.dir, header.Info{
		Type:    info.Type,
		SubType: info.SubType,
		Readme:  append([]string(nil), info.Readme...),
	}))
}
