// Package sm defines the storage-manager capability surface: the common
// interface every SM family implements, the closed type enumeration, and
// the table-scoped registry used to reopen persisted instances.
package sm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/compress"
	"github.com/hupe1980/colstore/internal/fs"
	"github.com/hupe1980/colstore/internal/schema"
)

// Type enumerates the storage-manager families.
type Type uint8

const (
	// Standard is the row-oriented bucket SM.
	Standard Type = iota
	// Incremental is the run-length interval SM.
	Incremental
	// TiledCell stores one hypercube per row.
	TiledCell
	// TiledColumn stores one hypercube spanning all rows.
	TiledColumn
	// TiledShape stores one hypercube per distinct shape pair.
	TiledShape
)

var typeNames = [...]string{
	Standard:    "standard",
	Incremental: "incremental",
	TiledCell:   "tiled-cell",
	TiledColumn: "tiled-column",
	TiledShape:  "tiled-shape",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("sm(%d)", uint8(t))
}

// ParseType maps a persisted type name back to its tag.
func ParseType(s string) (Type, error) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("sm: unknown storage manager type %q", s)
}

// Shared error sentinels surfaced through the facade's taxonomy.
var (
	// ErrUnsupported flags an operation this SM does not provide.
	ErrUnsupported = errors.New("sm: operation not supported by this storage manager")
	// ErrUnknownColumn flags a column the SM does not own.
	ErrUnknownColumn = errors.New("sm: unknown column")
	// ErrRowOutOfRange flags a row id at or past the row count.
	ErrRowOutOfRange = errors.New("sm: row out of range")
	// ErrReadOnly flags a mutation on a read-only instance.
	ErrReadOnly = errors.New("sm: read-only")
	// ErrCorrupt flags an on-disk invariant violation.
	ErrCorrupt = errors.New("sm: corrupt data")
	// ErrTypeMismatch flags a value or access kind that does not fit the
	// column (scalar access on an array column and vice versa included).
	ErrTypeMismatch = errors.New("sm: type mismatch")
	// ErrShapeMismatch flags an array or slice whose shape does not fit.
	ErrShapeMismatch = errors.New("sm: shape mismatch")
	// ErrUndefinedCell flags a read of an array cell never written.
	ErrUndefinedCell = errors.New("sm: cell has no value")
)

// Context carries the table-level environment into SM constructors.
type Context struct {
	Dir           string
	FS            fs.FileSystem
	Eng           codec.Engine
	PageSize      int
	Logger        *slog.Logger
	Writable      bool
	MaxCacheBytes int64
	Compression   compress.Type
}

// Normalize fills context defaults: the local file system and the default
// page size.
func (c *Context) Normalize() {
	if c.FS == nil {
		c.FS = fs.Default
	}
	if c.PageSize <= 0 {
		c.PageSize = 4096
	}
}

// StorageManager is the capability surface of one SM instance. Operations
// an SM family does not support return ErrUnsupported rather than being
// absent; CanAddColumn is the capability query kept separate from the
// dispatch.
type StorageManager interface {
	Name() string
	Type() Type
	SeqNr() int
	Columns() []string
	HasColumn(name string) bool

	CanAddColumn() bool
	AddColumn(d schema.ColumnDesc) error
	RemoveColumn(name string) error
	RenameColumn(oldName, newName string) error

	NRow() int
	AddRows(n int) error
	// CanRemoveRow is the preflight for the coordinator's atomic multi-SM
	// row removal; RemoveRow on a row it rejects returns ErrUnsupported.
	CanRemoveRow(row int) bool
	RemoveRow(row int) error

	GetScalar(col string, row int) (any, error)
	PutScalar(col string, row int, v any) error
	GetArray(col string, row int) (*schema.Array, error)
	PutArray(col string, row int, a *schema.Array) error
	GetSlice(col string, row int, sl schema.Slicer) (*schema.Array, error)
	PutSlice(col string, row int, sl schema.Slicer, a *schema.Array) error

	// Spec reports the instance configuration for reflection output.
	Spec() *schema.Record
	// State serializes the instance for the table header; the registry's
	// OpenFunc restores it.
	State() ([]byte, error)

	Flush(sync bool) (bool, error)
	Close() error
	// DeleteFiles removes the instance's on-disk files after Close.
	DeleteFiles() error
}

// OpenFunc reopens a persisted SM instance from its state blob.
type OpenFunc func(ctx *Context, name string, seq int, cols []schema.ColumnDesc, nrow int, state []byte) (StorageManager, error)

// Registry maps SM types to their open functions. One registry is built per
// table at open and dies with it.
type Registry struct {
	open map[Type]OpenFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[Type]OpenFunc)}
}

// Register binds an open function to a type.
func (r *Registry) Register(t Type, f OpenFunc) {
	r.open[t] = f
}

// Open reopens an instance of the given type.
func (r *Registry) Open(t Type, ctx *Context, name string, seq int, cols []schema.ColumnDesc, nrow int, state []byte) (StorageManager, error) {
	f, ok := r.open[t]
	if !ok {
		return nil, fmt.Errorf("sm: no registered storage manager type %s", t)
	}
	return f(ctx, name, seq, cols, nrow, state)
}

// FileBase returns the base file name for an SM instance inside the table
// directory: "t<seq>_<name>" with the name sanitized for the file system.
func FileBase(seq int, name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('~')
		}
	}
	return fmt.Sprintf("t%d_%s", seq, b.String())
}
