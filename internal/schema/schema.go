// Package schema defines the shared table vocabulary: column descriptors,
// keyword records, dense arrays and slicers. It carries no I/O of its own
// beyond the record codec.
package schema

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colstore/internal/codec"
)

// Kind classifies a column's cell layout.
type Kind uint8

const (
	// Scalar cells hold one element.
	Scalar Kind = iota
	// ArrayFixed cells hold a dense array of a fixed shape shared by all rows.
	ArrayFixed
	// ArrayVar cells hold dense arrays whose shape may vary per row.
	ArrayVar
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case ArrayFixed:
		return "array-fixed"
	case ArrayVar:
		return "array-variable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ColumnDesc describes one column of a table.
type ColumnDesc struct {
	Name      string
	Type      codec.DataType
	Kind      Kind
	Shape     []int // fixed cell shape for ArrayFixed
	MaxLength int   // optional hint for variable-length cells
	Manager   string
	Keywords  *Record
}

// Clone returns a deep copy of the descriptor.
func (d ColumnDesc) Clone() ColumnDesc {
	c := d
	c.Shape = append([]int(nil), d.Shape...)
	if d.Keywords != nil {
		c.Keywords = d.Keywords.Clone()
	}
	return c
}

// Array is a dense multi-dimensional value: a shape and a flat typed slice
// with the first axis varying fastest (the table convention).
type Array struct {
	Shape []int
	Data  any
}

// NewArray allocates a zeroed array of the given element type and shape.
func NewArray(t codec.DataType, shape []int) (*Array, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("schema: negative axis length %d", s)
		}
		n *= s
	}
	data := codec.MakeSlice(t, n)
	if data == nil {
		return nil, codec.ErrUnsupportedType
	}
	return &Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

// NumElements returns the product of the shape.
func (a *Array) NumElements() int {
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	return n
}

// ShapeEqual reports whether two shapes are identical.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Slicer selects a strided sub-rectangle of a cell: per-axis start, length
// and stride. A nil stride means unit stride on every axis.
type Slicer struct {
	Start  []int
	Length []int
	Stride []int
}

// Normalize fills in a unit stride and validates rank and bounds against
// the given cell shape.
func (s Slicer) Normalize(cellShape []int) (Slicer, error) {
	d := len(cellShape)
	if len(s.Start) != d || len(s.Length) != d {
		return Slicer{}, fmt.Errorf("schema: slicer rank %d vs cell rank %d", len(s.Start), d)
	}
	out := Slicer{
		Start:  append([]int(nil), s.Start...),
		Length: append([]int(nil), s.Length...),
		Stride: make([]int, d),
	}
	for i := 0; i < d; i++ {
		out.Stride[i] = 1
		if s.Stride != nil {
			if len(s.Stride) != d {
				return Slicer{}, fmt.Errorf("schema: slicer stride rank %d vs cell rank %d", len(s.Stride), d)
			}
			if s.Stride[i] > 0 {
				out.Stride[i] = s.Stride[i]
			}
		}
		if out.Start[i] < 0 || out.Length[i] < 0 {
			return Slicer{}, errors.New("schema: negative slicer bound")
		}
		last := out.Start[i]
		if out.Length[i] > 0 {
			last = out.Start[i] + (out.Length[i]-1)*out.Stride[i]
		}
		if last >= cellShape[i] && out.Length[i] > 0 {
			return Slicer{}, fmt.Errorf("schema: slicer exceeds cell shape on axis %d (%d >= %d)", i, last, cellShape[i])
		}
	}
	return out, nil
}

// NumElements returns the number of selected elements.
func (s Slicer) NumElements() int {
	n := 1
	for _, l := range s.Length {
		n *= l
	}
	return n
}
