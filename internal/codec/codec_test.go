package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalarSamples() map[DataType]any {
	return map[DataType]any{
		Bool:   true,
		U8:     uint8(200),
		I16:    int16(-12345),
		U16:    uint16(54321),
		I32:    int32(-100000),
		U32:    uint32(4000000000),
		I64:    int64(-9000000000000000000),
		F32:    float32(1.5),
		F64:    float64(-2.25),
		C32:    complex(float32(1), float32(2)),
		C64:    complex(3.0, 4.0),
		String: "hello, table",
	}
}

func TestScalarRoundTrip(t *testing.T) {
	for _, eng := range []Engine{Little(), Big()} {
		for dt, v := range scalarSamples() {
			buf, err := AppendScalar(eng, nil, dt, v)
			require.NoError(t, err, dt.String())
			got, n, err := DecodeScalar(eng, dt, buf)
			require.NoError(t, err, dt.String())
			assert.Equal(t, len(buf), n, dt.String())
			assert.Equal(t, v, got, dt.String())
		}
	}
}

func TestFixedSizes(t *testing.T) {
	sizes := map[DataType]int{
		Bool: 1, U8: 1, I16: 2, U16: 2, I32: 4, U32: 4,
		I64: 8, F32: 4, F64: 8, C32: 8, C64: 16,
	}
	for dt, want := range sizes {
		assert.Equal(t, want, dt.FixedSize(), dt.String())
	}
	assert.Equal(t, -1, String.FixedSize())
}

func TestStringCodecLengthPrefix(t *testing.T) {
	eng := Little()
	buf, err := AppendScalar(eng, nil, String, "abc")
	require.NoError(t, err)
	require.Len(t, buf, 7)
	assert.Equal(t, uint32(3), eng.Uint32(buf))
	assert.Equal(t, "abc", string(buf[4:]))
}

func TestOtherTypeRefusesIO(t *testing.T) {
	_, err := AppendScalar(Little(), nil, Other, int32(1))
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, _, err = DecodeScalar(Little(), Other, []byte{0})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := DecodeScalar(Little(), I64, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, _, err = DecodeScalar(Little(), String, []byte{10, 0, 0, 0, 'a'})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestSliceRoundTrip(t *testing.T) {
	eng := Big()
	in := []int32{1, -2, 3, -4}
	buf, err := AppendSlice(eng, nil, I32, in)
	require.NoError(t, err)
	out, n, err := DecodeSlice(eng, I32, buf, 4)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, in, out)
}

func TestPromoteWidening(t *testing.T) {
	cases := []struct {
		in   any
		to   DataType
		want any
	}{
		{uint8(7), I16, int16(7)},
		{uint8(7), F64, float64(7)},
		{int16(-3), I32, int32(-3)},
		{int16(-3), C64, complex(-3.0, 0)},
		{uint16(9), U32, uint32(9)},
		{int32(100), I64, int64(100)},
		{int32(100), F32, float32(100)},
		{uint32(11), F64, float64(11)},
		{int64(-42), F64, float64(-42)},
		{float32(1.5), F64, float64(1.5)},
		{float32(1.5), C32, complex(float32(1.5), 0)},
		{float64(2.5), C64, complex(2.5, 0)},
		{complex(float32(1), float32(2)), C64, complex128(complex(float32(1), float32(2)))},
	}
	for _, c := range cases {
		got, err := Promote(c.in, c.to)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestPromoteNarrowingFails(t *testing.T) {
	cases := []struct {
		in any
		to DataType
	}{
		{int64(1), I32},
		{float64(1), F32},
		{complex(1.0, 2.0), F64},
		{true, I32},
		{"x", I32},
		{int16(1), U16},
	}
	for _, c := range cases {
		_, err := Promote(c.in, c.to)
		assert.ErrorIs(t, err, ErrNarrowing)
	}
}

func TestTypeOfAndZero(t *testing.T) {
	for dt, v := range scalarSamples() {
		assert.Equal(t, dt, TypeOf(v))
		assert.Equal(t, dt, TypeOf(Zero(dt)))
	}
	assert.Equal(t, Other, TypeOf(struct{}{}))
	assert.Nil(t, Zero(Other))
}
