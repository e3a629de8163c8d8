package colstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colstore/internal/bucket"
	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/colset"
	"github.com/hupe1980/colstore/internal/header"
	"github.com/hupe1980/colstore/internal/lock"
	"github.com/hupe1980/colstore/internal/paged"
	"github.com/hupe1980/colstore/internal/sm"
)

// Error taxonomy surfaced at the API boundary. Every public operation
// returns one of these (possibly wrapped); nothing is recovered silently.
var (
	// ErrNotFound signals a missing table, column, storage manager or
	// keyword.
	ErrNotFound = errors.New("not found")
	// ErrTypeMismatch signals an element type that does not satisfy the
	// requested promotion, or scalar/array access on the wrong column kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrShapeMismatch signals an array or slice shape that does not fit.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrDuplicate signals a duplicate SM or column name.
	ErrDuplicate = errors.New("duplicate name")
	// ErrUnsupported signals an operation the storage manager does not
	// provide.
	ErrUnsupported = errors.New("operation not supported")
	// ErrOutOfRange signals a row id at or past the row count.
	ErrOutOfRange = errors.New("row out of range")
	// ErrWouldBlock signals a lock not granted within the wait budget.
	ErrWouldBlock = errors.New("lock would block")
	// ErrReadOnly signals a write through a read-only handle.
	ErrReadOnly = errors.New("table is not writable")
	// ErrCorrupt signals malformed on-disk data.
	ErrCorrupt = errors.New("corrupt table data")
	// ErrIO signals a failed underlying page read or write.
	ErrIO = errors.New("i/o error")
	// ErrNullTable signals an operation on a null table handle.
	ErrNullTable = errors.New("Table object is empty")
	// ErrTableExists signals a create in new-no-replace mode over an
	// existing table.
	ErrTableExists = errors.New("table already exists")
)

// nullError builds the null-handle error carrying the operation name.
func nullError(op string) error {
	return fmt.Errorf("%s: %w", op, ErrNullTable)
}

// translateError maps internal subsystem errors onto the public taxonomy.
// The original error stays reachable through errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrShapeMismatch),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrWouldBlock),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrCorrupt),
		errors.Is(err, ErrNullTable):
		return err

	case errors.Is(err, colset.ErrUnknownColumn),
		errors.Is(err, colset.ErrUnknownManager),
		errors.Is(err, sm.ErrUnknownColumn),
		errors.Is(err, sm.ErrUndefinedCell):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, colset.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)

	case errors.Is(err, sm.ErrTypeMismatch),
		errors.Is(err, codec.ErrNarrowing),
		errors.Is(err, codec.ErrUnsupportedType):
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)

	case errors.Is(err, sm.ErrShapeMismatch):
		return fmt.Errorf("%w: %w", ErrShapeMismatch, err)

	case errors.Is(err, sm.ErrUnsupported):
		return fmt.Errorf("%w: %w", ErrUnsupported, err)

	case errors.Is(err, sm.ErrRowOutOfRange):
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)

	case errors.Is(err, lock.ErrWouldBlock):
		return fmt.Errorf("%w: %w", ErrWouldBlock, err)

	case errors.Is(err, sm.ErrReadOnly),
		errors.Is(err, paged.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrReadOnly, err)

	case errors.Is(err, sm.ErrCorrupt),
		errors.Is(err, header.ErrBadMagic),
		errors.Is(err, header.ErrBadVersion),
		errors.Is(err, header.ErrChecksum),
		errors.Is(err, paged.ErrBadMagic),
		errors.Is(err, paged.ErrBadVersion),
		errors.Is(err, paged.ErrChecksum),
		errors.Is(err, codec.ErrShortBuffer),
		errors.Is(err, bucket.ErrNotAllocated):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)

	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}
