package codec

import "errors"

// ErrNarrowing is returned when a requested promotion would narrow or cross
// incompatible type families.
var ErrNarrowing = errors.New("codec: promotion would narrow or mix incompatible types")

// widens reports whether a value of type from can be promoted to type to
// without narrowing; complex sits above real of the same width.
func widens(from, to DataType) bool {
	if from == to {
		return true
	}
	switch from {
	case U8:
		switch to {
		case I16, U16, I32, U32, I64, F32, F64, C32, C64:
			return true
		}
	case I16:
		switch to {
		case I32, I64, F32, F64, C32, C64:
			return true
		}
	case U16:
		switch to {
		case I32, U32, I64, F32, F64, C32, C64:
			return true
		}
	case I32:
		switch to {
		case I64, F32, F64, C32, C64:
			return true
		}
	case U32:
		switch to {
		case I64, F32, F64, C32, C64:
			return true
		}
	case I64:
		switch to {
		case F32, F64, C32, C64:
			return true
		}
	case F32:
		switch to {
		case F64, C32, C64:
			return true
		}
	case F64:
		return to == C64
	case C32:
		return to == C64
	}
	return false
}

// CanPromote reports whether a cell of type from may be read as type to.
func CanPromote(from, to DataType) bool { return widens(from, to) }

// Promote converts v (of the column's element type) to the requested wider
// type. Real values promote to complex with a zero imaginary part.
func Promote(v any, to DataType) (any, error) {
	from := TypeOf(v)
	if !widens(from, to) {
		return nil, ErrNarrowing
	}
	if from == to {
		return v, nil
	}

	// Everything integral or real funnels through float64 / int64; both are
	// wide enough for every legal source.
	var i int64
	var f float64
	switch x := v.(type) {
	case uint8:
		i, f = int64(x), float64(x)
	case int16:
		i, f = int64(x), float64(x)
	case uint16:
		i, f = int64(x), float64(x)
	case int32:
		i, f = int64(x), float64(x)
	case uint32:
		i, f = int64(x), float64(x)
	case int64:
		i, f = x, float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case complex64:
		if to == C64 {
			return complex128(x), nil
		}
		return nil, ErrNarrowing
	default:
		return nil, ErrNarrowing
	}

	switch to {
	case I16:
		return int16(i), nil
	case U16:
		return uint16(i), nil
	case I32:
		return int32(i), nil
	case U32:
		return uint32(i), nil
	case I64:
		return i, nil
	case F32:
		return float32(f), nil
	case F64:
		return f, nil
	case C32:
		return complex(float32(f), 0), nil
	case C64:
		return complex(f, 0), nil
	}
	return nil, ErrNarrowing
}
