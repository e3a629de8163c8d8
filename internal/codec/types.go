package codec

import "fmt"

// DataType enumerates the scalar value universe of a table column.
type DataType uint8

const (
	Bool DataType = iota
	U8
	I16
	U16
	I32
	U32
	I64
	F32
	F64
	C32 // complex of two float32
	C64 // complex of two float64
	String
	// Other is a structural placeholder; any attempted I/O on it fails.
	Other
)

var typeNames = [...]string{
	Bool: "bool", U8: "uint8", I16: "int16", U16: "uint16",
	I32: "int32", U32: "uint32", I64: "int64", F32: "float32",
	F64: "float64", C32: "complex32", C64: "complex64",
	String: "string", Other: "other",
}

func (t DataType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("datatype(%d)", uint8(t))
}

// Valid reports whether t is a member of the closed enumeration.
func (t DataType) Valid() bool { return t <= Other }

// FixedSize returns the on-disk byte size of one element, or -1 for
// variable-size types (String) and 0 for Other.
func (t DataType) FixedSize() int {
	switch t {
	case Bool, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, F64, C32:
		return 8
	case C64:
		return 16
	case String:
		return -1
	default:
		return 0
	}
}

// IsInteger reports whether t is an integral type.
func (t DataType) IsInteger() bool {
	switch t {
	case U8, I16, U16, I32, U32, I64:
		return true
	}
	return false
}

// IsReal reports whether t is a real floating-point type.
func (t DataType) IsReal() bool { return t == F32 || t == F64 }

// IsComplex reports whether t is a complex type.
func (t DataType) IsComplex() bool { return t == C32 || t == C64 }

// IsNumeric reports whether t participates in promotion.
func (t DataType) IsNumeric() bool { return t.IsInteger() || t.IsReal() || t.IsComplex() }

// TypeOf maps a Go value to its DataType. Unknown dynamic types map to Other.
func TypeOf(v any) DataType {
	switch v.(type) {
	case bool:
		return Bool
	case uint8:
		return U8
	case int16:
		return I16
	case uint16:
		return U16
	case int32:
		return I32
	case uint32:
		return U32
	case int64:
		return I64
	case float32:
		return F32
	case float64:
		return F64
	case complex64:
		return C32
	case complex128:
		return C64
	case string:
		return String
	default:
		return Other
	}
}

// Zero returns the zero value of t as the dynamic Go type used for cells.
func Zero(t DataType) any {
	switch t {
	case Bool:
		return false
	case U8:
		return uint8(0)
	case I16:
		return int16(0)
	case U16:
		return uint16(0)
	case I32:
		return int32(0)
	case U32:
		return uint32(0)
	case I64:
		return int64(0)
	case F32:
		return float32(0)
	case F64:
		return float64(0)
	case C32:
		return complex64(0)
	case C64:
		return complex128(0)
	case String:
		return ""
	default:
		return nil
	}
}

// MakeSlice returns a typed slice of length n for element type t, or nil for
// Other.
func MakeSlice(t DataType, n int) any {
	switch t {
	case Bool:
		return make([]bool, n)
	case U8:
		return make([]uint8, n)
	case I16:
		return make([]int16, n)
	case U16:
		return make([]uint16, n)
	case I32:
		return make([]int32, n)
	case U32:
		return make([]uint32, n)
	case I64:
		return make([]int64, n)
	case F32:
		return make([]float32, n)
	case F64:
		return make([]float64, n)
	case C32:
		return make([]complex64, n)
	case C64:
		return make([]complex128, n)
	case String:
		return make([]string, n)
	default:
		return nil
	}
}

// SliceLen returns the length of a typed slice produced by MakeSlice.
func SliceLen(s any) int {
	switch v := s.(type) {
	case []bool:
		return len(v)
	case []uint8:
		return len(v)
	case []int16:
		return len(v)
	case []uint16:
		return len(v)
	case []int32:
		return len(v)
	case []uint32:
		return len(v)
	case []int64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []complex64:
		return len(v)
	case []complex128:
		return len(v)
	case []string:
		return len(v)
	default:
		return 0
	}
}

// SliceElem returns element i of a typed slice as a scalar value.
func SliceElem(s any, i int) any {
	switch v := s.(type) {
	case []bool:
		return v[i]
	case []uint8:
		return v[i]
	case []int16:
		return v[i]
	case []uint16:
		return v[i]
	case []int32:
		return v[i]
	case []uint32:
		return v[i]
	case []int64:
		return v[i]
	case []float32:
		return v[i]
	case []float64:
		return v[i]
	case []complex64:
		return v[i]
	case []complex128:
		return v[i]
	case []string:
		return v[i]
	default:
		return nil
	}
}

// SetSliceElem stores scalar value x into element i of a typed slice. The
// dynamic type of x must match the slice's element type.
func SetSliceElem(s any, i int, x any) error {
	switch v := s.(type) {
	case []bool:
		b, ok := x.(bool)
		if !ok {
			return typeError(Bool, x)
		}
		v[i] = b
	case []uint8:
		b, ok := x.(uint8)
		if !ok {
			return typeError(U8, x)
		}
		v[i] = b
	case []int16:
		b, ok := x.(int16)
		if !ok {
			return typeError(I16, x)
		}
		v[i] = b
	case []uint16:
		b, ok := x.(uint16)
		if !ok {
			return typeError(U16, x)
		}
		v[i] = b
	case []int32:
		b, ok := x.(int32)
		if !ok {
			return typeError(I32, x)
		}
		v[i] = b
	case []uint32:
		b, ok := x.(uint32)
		if !ok {
			return typeError(U32, x)
		}
		v[i] = b
	case []int64:
		b, ok := x.(int64)
		if !ok {
			return typeError(I64, x)
		}
		v[i] = b
	case []float32:
		b, ok := x.(float32)
		if !ok {
			return typeError(F32, x)
		}
		v[i] = b
	case []float64:
		b, ok := x.(float64)
		if !ok {
			return typeError(F64, x)
		}
		v[i] = b
	case []complex64:
		b, ok := x.(complex64)
		if !ok {
			return typeError(C32, x)
		}
		v[i] = b
	case []complex128:
		b, ok := x.(complex128)
		if !ok {
			return typeError(C64, x)
		}
		v[i] = b
	case []string:
		b, ok := x.(string)
		if !ok {
			return typeError(String, x)
		}
		v[i] = b
	default:
		return fmt.Errorf("codec: unsupported slice type %T", s)
	}
	return nil
}

func typeError(want DataType, got any) error {
	return fmt.Errorf("codec: value type %T does not match column type %s", got, want)
}
