package schema

import (
	"github.com/hupe1980/colstore/internal/codec"
)

// Cells linearize with the first axis varying fastest: the flat index of
// coordinate c is sum_i c[i]*stride[i] with stride[0]=1 and
// stride[i]=stride[i-1]*shape[i-1].

// Strides returns the flat strides for a cell shape.
func Strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := range shape {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// FlatIndex returns the flat index of coordinate c in shape.
func FlatIndex(shape, c []int) int {
	idx := 0
	acc := 1
	for i := range shape {
		idx += c[i] * acc
		acc *= shape[i]
	}
	return idx
}

// odometer advances coordinate c through the box lengths, first axis
// fastest. Returns false when the sweep is complete.
func odometer(c, lengths []int) bool {
	for i := range c {
		c[i]++
		if c[i] < lengths[i] {
			return true
		}
		c[i] = 0
	}
	return false
}

// ExtractSlice copies the strided sub-rectangle selected by sl out of a
// flat cell into a fresh array. sl must already be normalized.
func ExtractSlice(t codec.DataType, cellShape []int, cellData any, sl Slicer) (*Array, error) {
	out, err := NewArray(t, sl.Length)
	if err != nil {
		return nil, err
	}
	n := out.NumElements()
	if n == 0 {
		return out, nil
	}
	d := len(cellShape)
	cur := make([]int, d)
	src := make([]int, d)
	for i := 0; ; i++ {
		for ax := 0; ax < d; ax++ {
			src[ax] = sl.Start[ax] + cur[ax]*sl.Stride[ax]
		}
		v := codec.SliceElem(cellData, FlatIndex(cellShape, src))
		if err := codec.SetSliceElem(out.Data, i, v); err != nil {
			return nil, err
		}
		if !odometer(cur, sl.Length) {
			break
		}
	}
	return out, nil
}

// InjectSlice copies src into the strided sub-rectangle of a flat cell.
// sl must already be normalized and src's shape must equal sl.Length.
func InjectSlice(t codec.DataType, cellShape []int, cellData any, sl Slicer, src *Array) error {
	n := src.NumElements()
	if n == 0 {
		return nil
	}
	d := len(cellShape)
	cur := make([]int, d)
	dst := make([]int, d)
	for i := 0; ; i++ {
		for ax := 0; ax < d; ax++ {
			dst[ax] = sl.Start[ax] + cur[ax]*sl.Stride[ax]
		}
		v := codec.SliceElem(src.Data, i)
		if err := codec.SetSliceElem(cellData, FlatIndex(cellShape, dst), v); err != nil {
			return err
		}
		if !odometer(cur, sl.Length) {
			break
		}
	}
	return nil
}
