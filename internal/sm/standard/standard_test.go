package standard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

func testCtx(t *testing.T) *sm.Context {
	t.Helper()
	return &sm.Context{
		Dir:      t.TempDir(),
		Eng:      codec.Little(),
		PageSize: 512,
		Writable: true,
	}
}

func scalarCol(name string, dt codec.DataType) schema.ColumnDesc {
	return schema.ColumnDesc{Name: name, Type: dt, Kind: schema.Scalar}
}

func TestAllScalarTypesRoundTrip(t *testing.T) {
	cols := []schema.ColumnDesc{
		scalarCol("b", codec.Bool),
		scalarCol("u8", codec.U8),
		scalarCol("i16", codec.I16),
		scalarCol("i32", codec.I32),
		scalarCol("i64", codec.I64),
		scalarCol("f32", codec.F32),
		scalarCol("f64", codec.F64),
		scalarCol("c32", codec.C32),
		scalarCol("c64", codec.C64),
		scalarCol("s", codec.String),
	}
	m, err := Create(testCtx(t), "ssm", 0, cols, 5, WithBucketSize(4096))
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.PutScalar("b", i, i%2 == 0))
		require.NoError(t, m.PutScalar("u8", i, uint8(10+i)))
		require.NoError(t, m.PutScalar("i16", i, int16(i-2)))
		require.NoError(t, m.PutScalar("i32", i, int32(100*i)))
		require.NoError(t, m.PutScalar("i64", i, int64(1000000000)*int64(i)))
		require.NoError(t, m.PutScalar("f32", i, float32(1.5)*float32(i)))
		require.NoError(t, m.PutScalar("f64", i, 2.5*float64(i)))
		require.NoError(t, m.PutScalar("c32", i, complex(float32(i), float32(i+1))))
		require.NoError(t, m.PutScalar("c64", i, complex(float64(3*i), float64(4*i))))
		require.NoError(t, m.PutScalar("s", i, "row_"+strings.Repeat("x", i)))
	}
	for i := 0; i < 5; i++ {
		v, err := m.GetScalar("b", i)
		require.NoError(t, err)
		assert.Equal(t, i%2 == 0, v)
		v, _ = m.GetScalar("u8", i)
		assert.Equal(t, uint8(10+i), v)
		v, _ = m.GetScalar("i16", i)
		assert.Equal(t, int16(i-2), v)
		v, _ = m.GetScalar("i32", i)
		assert.Equal(t, int32(100*i), v)
		v, _ = m.GetScalar("i64", i)
		assert.Equal(t, int64(1000000000)*int64(i), v)
		v, _ = m.GetScalar("f32", i)
		assert.Equal(t, float32(1.5)*float32(i), v)
		v, _ = m.GetScalar("f64", i)
		assert.Equal(t, 2.5*float64(i), v)
		v, _ = m.GetScalar("c32", i)
		assert.Equal(t, complex(float32(i), float32(i+1)), v)
		v, _ = m.GetScalar("c64", i)
		assert.Equal(t, complex(float64(3*i), float64(4*i)), v)
		v, _ = m.GetScalar("s", i)
		assert.Equal(t, "row_"+strings.Repeat("x", i), v)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := testCtx(t)
	cols := []schema.ColumnDesc{scalarCol("n", codec.I64), scalarCol("s", codec.String)}
	m, err := Create(ctx, "ssm", 0, cols, 100, WithBucketSize(512))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.PutScalar("n", i, int64(i*i)))
		require.NoError(t, m.PutScalar("s", i, strings.Repeat("v", i%20)))
	}
	_, err = m.Flush(true)
	require.NoError(t, err)
	state, err := m.State()
	require.NoError(t, err)
	require.NoError(t, m.Close())

	got, err := Open(ctx, "ssm", 0, cols, 100, state)
	require.NoError(t, err)
	defer got.Close()
	for i := 0; i < 100; i++ {
		v, err := got.GetScalar("n", i)
		require.NoError(t, err)
		assert.Equal(t, int64(i*i), v)
		s, err := got.GetScalar("s", i)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("v", i%20), s)
	}
}

func TestIndirectStoreBalance(t *testing.T) {
	m, err := Create(testCtx(t), "ssm", 0,
		[]schema.ColumnDesc{scalarCol("s", codec.String)}, 4, WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	long := strings.Repeat("long-", 50) // 250 bytes, indirect
	require.NoError(t, m.PutScalar("s", 0, long))
	assert.Equal(t, uint32(1), m.indirect.HighWater()-uint32(m.indirect.FreeCount()),
		"one oversize cell, one indirect record")

	// Shrinking back to inline frees exactly that record.
	require.NoError(t, m.PutScalar("s", 0, "tiny"))
	assert.Equal(t, m.indirect.FreeCount(), uint64(m.indirect.HighWater()),
		"indirect record released")
	v, err := m.GetScalar("s", 0)
	require.NoError(t, err)
	assert.Equal(t, "tiny", v)

	// A very long value chains across indirect buckets.
	huge := strings.Repeat("0123456789", 200) // 2000 bytes > bucket
	require.NoError(t, m.PutScalar("s", 1, huge))
	v, err = m.GetScalar("s", 1)
	require.NoError(t, err)
	assert.Equal(t, huge, v)
}

func TestCellLocateRecoverable(t *testing.T) {
	m, err := Create(testCtx(t), "ssm", 0,
		[]schema.ColumnDesc{scalarCol("a", codec.I32), scalarCol("b", codec.I32)}, 300,
		WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	// 512 / 8 = 64 rows per bucket; 300 rows span several buckets.
	require.Greater(t, len(m.buckets), 1)
	for _, r := range []int{0, 63, 64, 150, 299} {
		require.NoError(t, m.PutScalar("a", r, int32(r)))
		v, err := m.GetScalar("a", r)
		require.NoError(t, err)
		assert.Equal(t, int32(r), v)
	}
}

func TestRemoveRowCompacts(t *testing.T) {
	m, err := Create(testCtx(t), "ssm", 0,
		[]schema.ColumnDesc{scalarCol("n", codec.I32), scalarCol("s", codec.String)}, 10,
		WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, m.PutScalar("n", i, int32(i)))
		require.NoError(t, m.PutScalar("s", i, strings.Repeat("s", i+10))) // all indirect
	}
	require.NoError(t, m.RemoveRow(3))
	assert.Equal(t, 9, m.NRow())
	want := []int32{0, 1, 2, 4, 5, 6, 7, 8, 9}
	for r, w := range want {
		v, err := m.GetScalar("n", r)
		require.NoError(t, err)
		assert.Equal(t, w, v)
		s, err := m.GetScalar("s", r)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("s", int(w)+10), s)
	}
	_, err = m.GetScalar("n", 9)
	assert.ErrorIs(t, err, sm.ErrRowOutOfRange)
}

func TestTrailingBucketReleasedOnRemove(t *testing.T) {
	m, err := Create(testCtx(t), "ssm", 0,
		[]schema.ColumnDesc{scalarCol("n", codec.I64)}, 65, WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	// 64 rows per bucket: 65 rows need two buckets.
	require.Len(t, m.buckets, 2)
	require.NoError(t, m.RemoveRow(64))
	assert.Len(t, m.buckets, 1, "empty trailing bucket released")
}

func TestAddAndRemoveColumnRepack(t *testing.T) {
	m, err := Create(testCtx(t), "ssm", 0,
		[]schema.ColumnDesc{scalarCol("a", codec.I32)}, 20, WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, m.PutScalar("a", i, int32(i+1)))
	}
	require.True(t, m.CanAddColumn())
	require.NoError(t, m.AddColumn(scalarCol("b", codec.F64)))
	assert.Equal(t, []string{"a", "b"}, m.Columns())
	for i := 0; i < 20; i++ {
		v, err := m.GetScalar("a", i)
		require.NoError(t, err)
		assert.Equal(t, int32(i+1), v, "survives repack")
		b, err := m.GetScalar("b", i)
		require.NoError(t, err)
		assert.Equal(t, float64(0), b, "new column reads zero")
	}
	require.NoError(t, m.PutScalar("b", 5, 3.5))

	require.NoError(t, m.RemoveColumn("a"))
	assert.Equal(t, []string{"b"}, m.Columns())
	v, err := m.GetScalar("b", 5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
	_, err = m.GetScalar("a", 0)
	assert.ErrorIs(t, err, sm.ErrUnknownColumn)
}

func TestFixedArrayInline(t *testing.T) {
	cols := []schema.ColumnDesc{{
		Name: "arr", Type: codec.F32, Kind: schema.ArrayFixed, Shape: []int{3, 2},
	}}
	m, err := Create(testCtx(t), "ssm", 0, cols, 4, WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	in := &schema.Array{Shape: []int{3, 2}, Data: []float32{1, 2, 3, 4, 5, 6}}
	require.NoError(t, m.PutArray("arr", 1, in))
	out, err := m.GetArray("arr", 1)
	require.NoError(t, err)
	assert.Equal(t, in.Shape, out.Shape)
	assert.Equal(t, in.Data, out.Data)

	// Untouched rows read zeros.
	z, err := m.GetArray("arr", 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0}, z.Data)

	bad := &schema.Array{Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}
	assert.ErrorIs(t, m.PutArray("arr", 1, bad), sm.ErrShapeMismatch)

	sl := schema.Slicer{Start: []int{1, 0}, Length: []int{2, 2}}
	got, err := m.GetSlice("arr", 1, sl)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 5, 6}, got.Data)
}

func TestVarArrayIndirect(t *testing.T) {
	cols := []schema.ColumnDesc{{Name: "v", Type: codec.I32, Kind: schema.ArrayVar}}
	m, err := Create(testCtx(t), "ssm", 0, cols, 3, WithBucketSize(512))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.GetArray("v", 0)
	assert.ErrorIs(t, err, sm.ErrUndefinedCell)

	in := &schema.Array{Shape: []int{4}, Data: []int32{9, 8, 7, 6}}
	require.NoError(t, m.PutArray("v", 0, in))
	out, err := m.GetArray("v", 0)
	require.NoError(t, err)
	assert.Equal(t, in.Shape, out.Shape)
	assert.Equal(t, in.Data, out.Data)

	// Replacing with a different shape is fine for variable cells.
	in2 := &schema.Array{Shape: []int{2, 2}, Data: []int32{1, 2, 3, 4}}
	require.NoError(t, m.PutArray("v", 0, in2))
	out, err = m.GetArray("v", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape)
}

func TestTypeMismatch(t *testing.T) {
	m, err := Create(testCtx(t), "ssm", 0,
		[]schema.ColumnDesc{scalarCol("n", codec.I32)}, 2)
	require.NoError(t, err)
	defer m.Close()

	assert.ErrorIs(t, m.PutScalar("n", 0, int64(1)), sm.ErrTypeMismatch)
	_, err = m.GetArray("n", 0)
	assert.ErrorIs(t, err, sm.ErrTypeMismatch)
	_, err = m.GetScalar("missing", 0)
	assert.ErrorIs(t, err, sm.ErrUnknownColumn)
}
