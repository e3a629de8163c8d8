package colstore

import (
	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/compress"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

// DataType enumerates the scalar value universe of table columns.
type DataType uint8

const (
	TypeBool DataType = iota
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeComplex32
	TypeComplex64
	TypeString
	// TypeOther refuses any I/O; it exists as a structural check.
	TypeOther
)

func (t DataType) String() string { return codec.DataType(t).String() }

// ColumnKind classifies a column's cell layout.
type ColumnKind uint8

const (
	// KindScalar cells hold one element.
	KindScalar ColumnKind = iota
	// KindArrayFixed cells hold arrays of one fixed shape.
	KindArrayFixed
	// KindArrayVar cells hold arrays whose shape may vary per row.
	KindArrayVar
)

// ManagerType enumerates the storage-manager families.
type ManagerType uint8

const (
	ManagerStandard ManagerType = iota
	ManagerIncremental
	ManagerTiledCell
	ManagerTiledColumn
	ManagerTiledShape
)

func (t ManagerType) String() string { return sm.Type(t).String() }

// Endian selects the on-disk byte order.
type Endian uint8

const (
	// EndianNative resolves to the machine order at table creation.
	EndianNative Endian = iota
	EndianBig
	EndianLittle
)

// OpenMode selects how a table path is opened.
type OpenMode uint8

const (
	// OpenOld opens an existing table read-only.
	OpenOld OpenMode = iota
	// OpenUpdate opens an existing table read-write.
	OpenUpdate
	// OpenNew creates the table, replacing any existing one.
	OpenNew
	// OpenNewNoReplace creates the table, failing when one exists.
	OpenNewNoReplace
	// OpenScratch creates a table that is deleted again on close.
	OpenScratch
	// OpenDelete opens an existing table and destroys it on close.
	OpenDelete
)

// LockMode selects the locking discipline of a handle.
type LockMode uint8

const (
	// LockAuto acquires a lock around each data-touching operation.
	LockAuto LockMode = iota
	// LockUserNoRead leaves all locking to the caller, without even a read
	// lock on open.
	LockUserNoRead
	// LockUser leaves locking to the caller but bounds the open with a
	// read lock.
	LockUser
	// LockPermanent holds a write lock for the whole handle lifetime;
	// Unlock is a no-op.
	LockPermanent
)

// Compression selects the optional tile payload codec.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionS2
	CompressionLZ4
)

func (c Compression) String() string { return compress.Type(c).String() }

// Column describes one column of a table.
type Column struct {
	Name      string
	Type      DataType
	Kind      ColumnKind
	Shape     []int // fixed cell shape for KindArrayFixed
	MaxLength int   // optional hint for variable-length cells
	Manager   string
}

// ColumnSpec describes a column and its storage binding at creation time.
// Columns sharing a Manager name and type land in one SM instance.
type ColumnSpec struct {
	Column

	ManagerType ManagerType
	// BucketSize applies to standard and incremental instances created for
	// this binding; zero picks the default.
	BucketSize int
	// TileShape applies to tiled instances created for this binding.
	TileShape []int
}

// Array is a dense multi-dimensional value: a shape and a flat typed slice
// with the first axis varying fastest.
type Array struct {
	Shape []int
	Data  any
}

// DataManagerInfo reflects one live SM instance.
type DataManagerInfo struct {
	Name    string
	Type    string
	Columns []string
	Spec    map[string]any
}

// Info is the user-settable table description persisted in table.info.
type Info struct {
	Type    string
	SubType string
	Readme  []string
}

// Slicer selects a strided sub-rectangle of a cell.
type Slicer struct {
	Start  []int
	Length []int
	Stride []int // nil means unit stride
}

func (s Slicer) internal() schema.Slicer {
	return schema.Slicer{Start: s.Start, Length: s.Length, Stride: s.Stride}
}

func (c Column) desc() schema.ColumnDesc {
	return schema.ColumnDesc{
		Name:      c.Name,
		Type:      codec.DataType(c.Type),
		Kind:      schema.Kind(c.Kind),
		Shape:     append([]int(nil), c.Shape...),
		MaxLength: c.MaxLength,
		Manager:   c.Manager,
	}
}

func columnFromDesc(d schema.ColumnDesc) Column {
	return Column{
		Name:      d.Name,
		Type:      DataType(d.Type),
		Kind:      ColumnKind(d.Kind),
		Shape:     append([]int(nil), d.Shape...),
		MaxLength: d.MaxLength,
		Manager:   d.Manager,
	}
}

func arrayToInternal(a *Array) *schema.Array {
	if a == nil {
		return nil
	}
	return &schema.Array{Shape: a.Shape, Data: a.Data}
}

func arrayFromInternal(a *schema.Array) *Array {
	if a == nil {
		return nil
	}
	return &Array{Shape: a.Shape, Data: a.Data}
}

// recordToMap flattens a keyword record for reflection output.
func recordToMap(r *schema.Record) map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, r.Len())
	for _, n := range r.Names() {
		v, _ := r.Get(n)
		if sub, ok := v.(*schema.Record); ok {
			out[n] = recordToMap(sub)
			continue
		}
		out[n] = v
	}
	return out
}
