package colstore

import (
	"time"

	"github.com/hupe1980/colstore/internal/lock"
)

// Lock acquires the table's file lock: shared for read, exclusive for
// write. A maxWait of zero makes a single non-blocking attempt, failing
// with ErrWouldBlock when the lock is held elsewhere.
func (t *Table) Lock(write bool, maxWait time.Duration) error {
	if err := t.ready("lock"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kind := lock.Read
	if write {
		kind = lock.Write
	}
	return translateError(t.lk.Acquire(kind, maxWait))
}

// Unlock releases the table's file lock. Under LockPermanent this is a
// no-op: the lock lives as long as the handle.
func (t *Table) Unlock() error {
	if err := t.ready("unlock"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opts.lockMode == LockPermanent {
		return nil
	}
	return translateError(t.lk.Release())
}

// HasLock reports whether this handle currently holds a lock of at least
// the given strength.
func (t *Table) HasLock(write bool) bool {
	if t.ready("hasLock") != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kind := lock.Read
	if write {
		kind = lock.Write
	}
	return t.lk.Has(kind)
}

// LockMode returns the locking discipline of this handle.
func (t *Table) LockMode() LockMode {
	if t.ready("lockMode") != nil {
		return LockAuto
	}
	return t.opts.lockMode
}
