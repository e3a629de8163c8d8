// Package lock bridges table locking onto OS advisory file locks. Read
// locks are shared, write locks exclusive. Acquisition with a wait budget is
// implemented as a paced non-blocking retry loop so a competing process can
// never leave us stuck past the caller's deadline.
package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Kind selects the lock flavor.
type Kind int

const (
	// Read is a shared lock.
	Read Kind = iota
	// Write is an exclusive lock.
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

// ErrWouldBlock is returned when the lock cannot be granted within the
// caller's wait budget.
var ErrWouldBlock = errors.New("lock: would block")

// retriesPerSecond paces the non-blocking fcntl retries while waiting.
const retriesPerSecond = 20

// FileLock is an advisory lock on a table's lock file. Its methods
// serialize on an internal mutex.
type FileLock struct {
	mu   sync.Mutex
	f    *os.File
	path string
	held Kind
	have bool
}

// Open opens (creating if needed) the lock file at path. The lock file is a
// plain file next to the table header; fcntl locks require a real file
// descriptor, so this bypasses the fs abstraction.
func Open(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLock{f: f, path: path}, nil
}

func fcntlType(k Kind) int16 {
	if k == Write {
		return unix.F_WRLCK
	}
	return unix.F_RDLCK
}

func (l *FileLock) try(k Kind) error {
	flk := unix.Flock_t{
		Type:   fcntlType(k),
		Whence: int16(unix.SEEK_SET),
		Start:  0,
		Len:    0,
	}
	return unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &flk)
}

// Acquire takes a lock of the given kind, waiting at most maxWait. A
// maxWait of zero means a single non-blocking attempt. Upgrading from read
// to write goes through the same path; the kernel resolves the conversion
// atomically. Asking for read while write is held keeps the write lock.
func (l *FileLock) Acquire(k Kind, maxWait time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.have && (l.held == k || (l.held == Write && k == Read)) {
		// Already held at sufficient strength.
		return nil
	}

	if err := l.try(k); err == nil {
		l.have, l.held = true, k
		return nil
	} else if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EACCES) {
		return err
	}
	if maxWait <= 0 {
		return ErrWouldBlock
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxWait)
	defer cancel()
	limiter := rate.NewLimiter(rate.Limit(retriesPerSecond), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return ErrWouldBlock
		}
		if err := l.try(k); err == nil {
			l.have, l.held = true, k
			return nil
		} else if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EACCES) {
			return err
		}
	}
}

// Release drops any held lock.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.have {
		return nil
	}
	flk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(unix.SEEK_SET),
	}
	if err := unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &flk); err != nil {
		return err
	}
	l.have = false
	return nil
}

// Has reports whether a lock of at least the given kind is currently held
// by this handle.
func (l *FileLock) Has(k Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.have {
		return false
	}
	return l.held == Write || k == Read
}

// Close releases the lock and closes the lock file.
func (l *FileLock) Close() error {
	if err := l.Release(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
