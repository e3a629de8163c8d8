package codec

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnsupportedType is returned for any I/O attempted on the Other type.
	ErrUnsupportedType = errors.New("codec: unsupported element type")
	// ErrShortBuffer is returned when a decode runs off the end of its input.
	ErrShortBuffer = errors.New("codec: short buffer")
)

type scalarCodec struct {
	size int // fixed element size, -1 for variable
	enc  func(e Engine, buf []byte, v any) ([]byte, error)
	dec  func(e Engine, b []byte) (any, int, error)
}

// The dispatch table keeps every per-type function monomorphic; the Other
// slot is a first-class variant whose enc/dec always fail.
var codecs = [Other + 1]scalarCodec{
	Bool: {size: 1,
		enc: func(_ Engine, buf []byte, v any) ([]byte, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, typeError(Bool, v)
			}
			if b {
				return append(buf, 1), nil
			}
			return append(buf, 0), nil
		},
		dec: func(_ Engine, b []byte) (any, int, error) {
			if len(b) < 1 {
				return nil, 0, ErrShortBuffer
			}
			return b[0] != 0, 1, nil
		}},
	U8: {size: 1,
		enc: func(_ Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(uint8)
			if !ok {
				return nil, typeError(U8, v)
			}
			return append(buf, x), nil
		},
		dec: func(_ Engine, b []byte) (any, int, error) {
			if len(b) < 1 {
				return nil, 0, ErrShortBuffer
			}
			return b[0], 1, nil
		}},
	I16: {size: 2,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(int16)
			if !ok {
				return nil, typeError(I16, v)
			}
			return e.AppendUint16(buf, uint16(x)), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 2 {
				return nil, 0, ErrShortBuffer
			}
			return int16(e.Uint16(b)), 2, nil
		}},
	U16: {size: 2,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(uint16)
			if !ok {
				return nil, typeError(U16, v)
			}
			return e.AppendUint16(buf, x), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 2 {
				return nil, 0, ErrShortBuffer
			}
			return e.Uint16(b), 2, nil
		}},
	I32: {size: 4,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(int32)
			if !ok {
				return nil, typeError(I32, v)
			}
			return e.AppendUint32(buf, uint32(x)), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 4 {
				return nil, 0, ErrShortBuffer
			}
			return int32(e.Uint32(b)), 4, nil
		}},
	U32: {size: 4,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(uint32)
			if !ok {
				return nil, typeError(U32, v)
			}
			return e.AppendUint32(buf, x), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 4 {
				return nil, 0, ErrShortBuffer
			}
			return e.Uint32(b), 4, nil
		}},
	I64: {size: 8,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(int64)
			if !ok {
				return nil, typeError(I64, v)
			}
			return e.AppendUint64(buf, uint64(x)), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 8 {
				return nil, 0, ErrShortBuffer
			}
			return int64(e.Uint64(b)), 8, nil
		}},
	F32: {size: 4,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(float32)
			if !ok {
				return nil, typeError(F32, v)
			}
			return e.AppendUint32(buf, math.Float32bits(x)), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 4 {
				return nil, 0, ErrShortBuffer
			}
			return math.Float32frombits(e.Uint32(b)), 4, nil
		}},
	F64: {size: 8,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(float64)
			if !ok {
				return nil, typeError(F64, v)
			}
			return e.AppendUint64(buf, math.Float64bits(x)), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 8 {
				return nil, 0, ErrShortBuffer
			}
			return math.Float64frombits(e.Uint64(b)), 8, nil
		}},
	C32: {size: 8,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(complex64)
			if !ok {
				return nil, typeError(C32, v)
			}
			buf = e.AppendUint32(buf, math.Float32bits(real(x)))
			return e.AppendUint32(buf, math.Float32bits(imag(x))), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 8 {
				return nil, 0, ErrShortBuffer
			}
			re := math.Float32frombits(e.Uint32(b))
			im := math.Float32frombits(e.Uint32(b[4:]))
			return complex(re, im), 8, nil
		}},
	C64: {size: 16,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			x, ok := v.(complex128)
			if !ok {
				return nil, typeError(C64, v)
			}
			buf = e.AppendUint64(buf, math.Float64bits(real(x)))
			return e.AppendUint64(buf, math.Float64bits(imag(x))), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 16 {
				return nil, 0, ErrShortBuffer
			}
			re := math.Float64frombits(e.Uint64(b))
			im := math.Float64frombits(e.Uint64(b[8:]))
			return complex(re, im), 16, nil
		}},
	String: {size: -1,
		enc: func(e Engine, buf []byte, v any) ([]byte, error) {
			s, ok := v.(string)
			if !ok {
				return nil, typeError(String, v)
			}
			buf = e.AppendUint32(buf, uint32(len(s)))
			return append(buf, s...), nil
		},
		dec: func(e Engine, b []byte) (any, int, error) {
			if len(b) < 4 {
				return nil, 0, ErrShortBuffer
			}
			n := int(e.Uint32(b))
			if len(b) < 4+n {
				return nil, 0, ErrShortBuffer
			}
			return string(b[4 : 4+n]), 4 + n, nil
		}},
	Other: {size: 0,
		enc: func(_ Engine, _ []byte, _ any) ([]byte, error) {
			return nil, ErrUnsupportedType
		},
		dec: func(_ Engine, _ []byte) (any, int, error) {
			return nil, 0, ErrUnsupportedType
		}},
}

// AppendScalar encodes v as element type t and appends it to buf.
func AppendScalar(e Engine, buf []byte, t DataType, v any) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnsupportedType
	}
	return codecs[t].enc(e, buf, v)
}

// DecodeScalar decodes one element of type t from the front of b, returning
// the value and the number of bytes consumed.
func DecodeScalar(e Engine, t DataType, b []byte) (any, int, error) {
	if !t.Valid() {
		return nil, 0, ErrUnsupportedType
	}
	return codecs[t].dec(e, b)
}

// EncodedLen reports the encoded byte length of v as element type t.
func EncodedLen(t DataType, v any) (int, error) {
	if !t.Valid() || t == Other {
		return 0, ErrUnsupportedType
	}
	if sz := t.FixedSize(); sz > 0 {
		return sz, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, typeError(String, v)
	}
	return 4 + len(s), nil
}

// AppendSlice encodes a typed slice element by element.
func AppendSlice(e Engine, buf []byte, t DataType, s any) ([]byte, error) {
	n := SliceLen(s)
	for i := 0; i < n; i++ {
		var err error
		buf, err = AppendScalar(e, buf, t, SliceElem(s, i))
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// DecodeSlice decodes n elements of type t from b into a fresh typed slice,
// returning the slice and the bytes consumed.
func DecodeSlice(e Engine, t DataType, b []byte, n int) (any, int, error) {
	out := MakeSlice(t, n)
	if out == nil {
		return nil, 0, ErrUnsupportedType
	}
	off := 0
	for i := 0; i < n; i++ {
		v, k, err := DecodeScalar(e, t, b[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("codec: element %d: %w", i, err)
		}
		if err := SetSliceElem(out, i, v); err != nil {
			return nil, 0, err
		}
		off += k
	}
	return out, off, nil
}
