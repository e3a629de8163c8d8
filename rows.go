package colstore

import (
	"sort"
	"time"

	"github.com/hupe1980/colstore/internal/lock"
)

const autoLockWait = 5 * time.Second

// autoLock takes the operation-scoped lock under LockAuto and returns its
// release. Under the other modes locking is the caller's business and the
// release is a no-op.
func (t *Table) autoLock(write bool) (func(), error) {
	if t.opts.lockMode != LockAuto {
		return func() {}, nil
	}
	kind := lock.Read
	if write {
		kind = lock.Write
	}
	if t.lk.Has(kind) {
		return func() {}, nil
	}
	if err := t.lk.Acquire(kind, autoLockWait); err != nil {
		return nil, err
	}
	return func() { t.lk.Release() }, nil
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	if t.ready("rowCount") != nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cs.NRow()
}

// AddRow appends n rows to every storage manager. The operation is atomic
// across managers: a mid-sequence failure rewinds the managers already
// extended. initialize is accepted for interface parity and has no effect:
// incremental columns extend their last run, so new rows read its value;
// the other managers add zero-filled rows, and variable-shape array cells
// stay undefined until written.
func (t *Table) AddRow(n int, initialize bool) error {
	if err := t.ready("addRow"); err != nil {
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
	_ = initialize
	if err := t.cs.AddRows(n); err != nil {
		return translateError(err)
	}
	t.modified = true
	return nil
}

// RemoveRow removes the given rows. Row ids refer to the state before the
// call; they are removed from the highest id down so earlier removals do
// not shift later ones. Each row is checked against every manager just
// before it is removed; a refused row fails the call, and rows with higher
// ids removed earlier in the same call stay removed.
func (t *Table) RemoveRow(rows []int) error {
	if err := t.ready("removeRow"); err != nil {
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

	sorted := append([]int(nil), rows...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for i, r := range sorted {
		if i > 0 && r == sorted[i-1] {
			continue
		}
		if err := t.cs.RemoveRow(r); err != nil {
			return translateError(err)
		}
	}
	t.modified = true
	return nil
}
