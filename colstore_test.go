package colstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicSchema() []ColumnSpec {
	mk := func(name string, dt DataType) ColumnSpec {
		return ColumnSpec{
			Column:     Column{Name: name, Type: dt, Kind: KindScalar, Manager: "SSM1"},
			BucketSize: 4096,
		}
	}
	return []ColumnSpec{
		mk("b", TypeBool), mk("u8", TypeUint8), mk("i16", TypeInt16),
		mk("i32", TypeInt32), mk("i64", TypeInt64), mk("f32", TypeFloat32),
		mk("f64", TypeFloat64), mk("c32", TypeComplex32), mk("c64", TypeComplex64),
		mk("s", TypeString),
	}
}

func writeBasicRows(t *testing.T, tab *Table) {
	t.Helper()
	for i := 0; i < 5; i++ {
		require.NoError(t, tab.PutCell("b", i, i%2 == 0))
		require.NoError(t, tab.PutCell("u8", i, uint8(10+i)))
		require.NoError(t, tab.PutCell("i16", i, int16(i-2)))
		require.NoError(t, tab.PutCell("i32", i, int32(100*i)))
		require.NoError(t, tab.PutCell("i64", i, int64(1000000000)*int64(i)))
		require.NoError(t, tab.PutCell("f32", i, float32(1.5)*float32(i)))
		require.NoError(t, tab.PutCell("f64", i, 2.5*float64(i)))
		require.NoError(t, tab.PutCell("c32", i, complex(float32(i), float32(i+1))))
		require.NoError(t, tab.PutCell("c64", i, complex(float64(3*i), float64(4*i))))
		require.NoError(t, tab.PutCell("s", i, fmt.Sprintf("row_%d", i)))
	}
}

func checkBasicRows(t *testing.T, tab *Table) {
	t.Helper()
	require.Equal(t, 5, tab.RowCount())
	for i := 0; i < 5; i++ {
		v, err := tab.GetCell("b", i)
		require.NoError(t, err)
		assert.Equal(t, i%2 == 0, v)
		v, _ = tab.GetCell("u8", i)
		assert.Equal(t, uint8(10+i), v)
		v, _ = tab.GetCell("i16", i)
		assert.Equal(t, int16(i-2), v)
		v, _ = tab.GetCell("i32", i)
		assert.Equal(t, int32(100*i), v)
		v, _ = tab.GetCell("i64", i)
		assert.Equal(t, int64(1000000000)*int64(i), v)
		v, _ = tab.GetCell("f32", i)
		assert.Equal(t, float32(1.5)*float32(i), v)
		v, _ = tab.GetCell("f64", i)
		assert.Equal(t, 2.5*float64(i), v)
		v, _ = tab.GetCell("c32", i)
		assert.Equal(t, complex(float32(i), float32(i+1)), v)
		v, _ = tab.GetCell("c64", i)
		assert.Equal(t, complex(float64(3*i), float64(4*i)), v)
		v, _ = tab.GetCell("s", i)
		assert.Equal(t, fmt.Sprintf("row_%d", i), v)
	}
}

func TestStandardBasicReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "basic.tab")
	tab, err := CreateTable(dir, basicSchema(), 5)
	require.NoError(t, err)
	writeBasicRows(t, tab)
	require.NoError(t, tab.Close())

	ro, err := OpenTable(dir, OpenOld)
	require.NoError(t, err)
	defer ro.Close()
	assert.False(t, ro.IsWritable())
	checkBasicRows(t, ro)
	assert.ErrorIs(t, ro.PutCell("i32", 0, int32(1)), ErrReadOnly)
}

func TestEndiannessIndependence(t *testing.T) {
	base := t.TempDir()
	var tables []*Table
	for i, e := range []Endian{EndianBig, EndianLittle} {
		dir := filepath.Join(base, fmt.Sprintf("t%d.tab", i))
		tab, err := CreateTable(dir, basicSchema(), 5, WithEndian(e))
		require.NoError(t, err)
		writeBasicRows(t, tab)
		require.NoError(t, tab.Close())
		re, err := OpenTable(dir, OpenOld)
		require.NoError(t, err)
		defer re.Close()
		tables = append(tables, re)
	}
	for _, col := range []string{"b", "u8", "i16", "i32", "i64", "f32", "f64", "c32", "c64", "s"} {
		for r := 0; r < 5; r++ {
			vb, err := tables[0].GetCell(col, r)
			require.NoError(t, err)
			vl, err := tables[1].GetCell(col, r)
			require.NoError(t, err)
			assert.Equal(t, vb, vl, "column %s row %d", col, r)
		}
	}
}

func TestIncrementalCollapseThroughTable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ism.tab")
	tab, err := CreateTable(dir, []ColumnSpec{{
		Column:      Column{Name: "v", Type: TypeInt32, Kind: KindScalar, Manager: "ISM1"},
		ManagerType: ManagerIncremental,
		BucketSize:  256,
	}}, 30)
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		v := int32(100)
		if i%2 == 1 {
			v = 200
		}
		require.NoError(t, tab.PutCell("v", i, v))
	}
	for _, r := range []int{1, 5, 9} {
		require.NoError(t, tab.PutCell("v", r, int32(100)))
	}
	require.NoError(t, tab.Close())

	re, err := OpenTable(dir, OpenOld)
	require.NoError(t, err)
	defer re.Close()
	want := []int32{100, 100, 100, 200, 100, 100, 100, 200, 100, 100, 100, 200}
	for r, w := range want {
		v, err := re.GetCell("v", r)
		require.NoError(t, err)
		assert.Equal(t, w, v, "row %d", r)
	}
}

func TestIncrementalSplitReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ismsplit.tab")
	tab, err := CreateTable(dir, []ColumnSpec{{
		Column:      Column{Name: "v", Type: TypeInt32, Kind: KindScalar, Manager: "ISM1"},
		ManagerType: ManagerIncremental,
		BucketSize:  128,
	}}, 100)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, tab.PutCell("v", i, int32(7*i+3)))
	}
	for i := 0; i < 100; i++ {
		v, err := tab.GetCell("v", i)
		require.NoError(t, err)
		require.Equal(t, int32(7*i+3), v)
	}
	require.NoError(t, tab.Close())

	re, err := OpenTable(dir, OpenUpdate)
	require.NoError(t, err)
	defer re.Close()
	for i := 0; i < 100; i++ {
		v, err := re.GetCell("v", i)
		require.NoError(t, err)
		require.Equal(t, int32(7*i+3), v)
	}
	require.NoError(t, re.PutCell("v", 50, int32(999)))
	v, _ := re.GetCell("v", 50)
	assert.Equal(t, int32(999), v)
	v, _ = re.GetCell("v", 49)
	assert.Equal(t, int32(7*49+3), v)
	v, _ = re.GetCell("v", 51)
	assert.Equal(t, int32(7*51+3), v)
}

func TestTiledColumnSlice(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tsm.tab")
	tab, err := CreateTable(dir, []ColumnSpec{{
		Column:      Column{Name: "data", Type: TypeInt32, Kind: KindArrayFixed, Shape: []int{15, 21}, Manager: "TSM1"},
		ManagerType: ManagerTiledColumn,
		TileShape:   []int{4, 5},
	}}, 10)
	require.NoError(t, err)
	defer tab.Close()

	for r := 0; r < 10; r++ {
		data := make([]int32, 15*21)
		for i := range data {
			data[i] = int32(1000*r + i)
		}
		require.NoError(t, tab.PutArray("data", r, &Array{Shape: []int{15, 21}, Data: data}))
	}
	for r := 0; r < 10; r++ {
		got, err := tab.GetSlice("data", r, Slicer{Start: []int{2, 3}, Length: []int{10, 15}})
		require.NoError(t, err)
		data := got.Data.([]int32)
		for f := 0; f < 15; f++ {
			for c := 0; c < 10; c++ {
				want := int32(1000*r) + int32(c+2) + int32(f+3)*15
				require.Equal(t, want, data[c+f*10], "row %d c %d f %d", r, c, f)
			}
		}
	}

	// Cache statistics move; values survive a cache clear.
	before, err := tab.GetArray("data", 4)
	require.NoError(t, err)
	require.NoError(t, tab.ClearTileCaches("data"))
	after, err := tab.GetArray("data", 4)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	acc, _, _, _, err := tab.TileCacheStats("data")
	require.NoError(t, err)
	assert.Positive(t, acc)
}

func TestTileShapeChooser(t *testing.T) {
	tile := ChooseTileShape([]int{100, 200, 50}, []float64{1, 2, 0.5}, []float64{0.5, 0.5, 0.5}, 4096)
	for i, c := range []int{100, 200, 50} {
		assert.GreaterOrEqual(t, tile[i], 1)
		assert.LessOrEqual(t, tile[i], c)
	}
	assert.Equal(t, []int{2, 3}, ChooseTileShape([]int{2, 3}, nil, nil, 1<<30))
}

func TestCoordinatorLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "life.tab")
	specs := []ColumnSpec{
		{Column: Column{Name: "A", Type: TypeInt32, Kind: KindScalar, Manager: "SSM_Shared"}},
		{Column: Column{Name: "B", Type: TypeFloat64, Kind: KindScalar, Manager: "SSM_Shared"}},
		{Column: Column{Name: "C", Type: TypeInt32, Kind: KindScalar, Manager: "ISM_Solo"},
			ManagerType: ManagerIncremental},
	}
	tab, err := CreateTable(dir, specs, 4)
	require.NoError(t, err)
	defer tab.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, tab.PutCell("B", i, float64(i)*1.5))
	}

	info, err := tab.DataManagerInfo()
	require.NoError(t, err)
	require.Len(t, info, 2)

	require.NoError(t, tab.RemoveColumn("A"))
	info, err = tab.DataManagerInfo()
	require.NoError(t, err)
	require.Len(t, info, 2)
	for _, m := range info {
		if m.Name == "SSM_Shared" {
			assert.Equal(t, []string{"B"}, m.Columns)
		}
	}

	require.NoError(t, tab.RemoveColumn("C"))
	info, err = tab.DataManagerInfo()
	require.NoError(t, err)
	require.Len(t, info, 1, "sole-tenant manager destroyed")
	assert.Equal(t, "SSM_Shared", info[0].Name)

	require.NoError(t, tab.RenameColumn("B", "BB"))
	for i := 0; i < 4; i++ {
		v, err := tab.GetCell("BB", i)
		require.NoError(t, err)
		assert.Equal(t, float64(i)*1.5, v)
	}
	_, err = tab.GetCell("B", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueManagerNames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uniq.tab")
	tab, err := CreateTable(dir, []ColumnSpec{
		{Column: Column{Name: "a", Type: TypeInt32, Kind: KindScalar, Manager: "SM"}},
	}, 1)
	require.NoError(t, err)
	defer tab.Close()

	// The incremental manager refuses add-column, so each forced binding
	// creates a fresh instance; names pick up _1, _2 suffixes.
	require.NoError(t, tab.AddColumn(ColumnSpec{
		Column: Column{Name: "b", Type: TypeInt32, Kind: KindScalar}, ManagerType: ManagerIncremental,
	}))
	require.NoError(t, tab.AddColumn(ColumnSpec{
		Column: Column{Name: "c", Type: TypeInt32, Kind: KindScalar}, ManagerType: ManagerIncremental,
	}))
	info, err := tab.DataManagerInfo()
	require.NoError(t, err)
	require.Len(t, info, 3)
	names := map[string]bool{}
	for _, m := range info {
		require.False(t, names[m.Name], "duplicate SM name %q", m.Name)
		names[m.Name] = true
	}
	assert.True(t, names["incremental"])
	assert.True(t, names["incremental_1"])
}

func TestPromotions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "promo.tab")
	tab, err := CreateTable(dir, []ColumnSpec{
		{Column: Column{Name: "n", Type: TypeInt16, Kind: KindScalar}},
		{Column: Column{Name: "f", Type: TypeFloat32, Kind: KindScalar}},
	}, 1)
	require.NoError(t, err)
	defer tab.Close()

	require.NoError(t, tab.PutCell("n", 0, int16(-7)))
	require.NoError(t, tab.PutCell("f", 0, float32(1.5)))

	v, err := tab.GetCellAs("n", 0, TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v)
	v, err = tab.GetCellAs("n", 0, TypeFloat64)
	require.NoError(t, err)
	assert.Equal(t, float64(-7), v)
	v, err = tab.GetCellAs("f", 0, TypeComplex64)
	require.NoError(t, err)
	assert.Equal(t, complex(1.5, 0), v)

	_, err = tab.GetCellAs("f", 0, TypeInt32)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestAddRemoveRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rows.tab")
	tab, err := CreateTable(dir, []ColumnSpec{
		{Column: Column{Name: "n", Type: TypeInt32, Kind: KindScalar}},
	}, 0)
	require.NoError(t, err)
	defer tab.Close()

	require.NoError(t, tab.AddRow(5, true))
	assert.Equal(t, 5, tab.RowCount())
	for i := 0; i < 5; i++ {
		require.NoError(t, tab.PutCell("n", i, int32(i)))
	}
	require.NoError(t, tab.RemoveRow([]int{1, 3}))
	assert.Equal(t, 3, tab.RowCount())
	vals, err := tab.GetColumnRange("n", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(0), int32(2), int32(4)}, vals)

	assert.ErrorIs(t, tab.RemoveRow([]int{99}), ErrOutOfRange)
}

func TestColumnBulkOps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bulk.tab")
	tab, err := CreateTable(dir, []ColumnSpec{
		{Column: Column{Name: "n", Type: TypeInt32, Kind: KindScalar}},
	}, 6)
	require.NoError(t, err)
	defer tab.Close()

	require.NoError(t, tab.PutColumnRange("n", 0, []any{
		int32(0), int32(10), int32(20), int32(30), int32(40), int32(50),
	}))
	got, err := tab.GetColumnCells("n", []int{5, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{int32(50), int32(10), int32(30)}, got)
	require.NoError(t, tab.PutColumnCells("n", []int{0, 2}, []any{int32(-1), int32(-2)}))
	v, _ := tab.GetCell("n", 2)
	assert.Equal(t, int32(-2), v)
}

func TestNullTable(t *testing.T) {
	var tab *Table
	assert.Equal(t, 0, tab.RowCount())
	assert.False(t, tab.IsWritable())
	assert.True(t, tab.IsNull())

	err := tab.Flush(false, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNullTable)
	assert.Contains(t, err.Error(), "flush")
	assert.Contains(t, err.Error(), "Table object is empty")

	_, err = tab.GetCell("x", 0)
	assert.Contains(t, err.Error(), "getCell")
	assert.ErrorIs(t, tab.AddRow(1, false), ErrNullTable)
	assert.ErrorIs(t, tab.Close(), ErrNullTable)
}

func TestClosedTableIsNull(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "closed.tab")
	tab, err := CreateTable(dir, basicSchema(), 1)
	require.NoError(t, err)
	require.NoError(t, tab.Close())
	assert.True(t, tab.IsNull())
	_, err = tab.GetCell("b", 0)
	assert.ErrorIs(t, err, ErrNullTable)
}

func TestScratchTableDeletesOnClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scratch.tab")
	tab, err := CreateScratchTable(dir, basicSchema(), 2)
	require.NoError(t, err)
	require.NoError(t, tab.PutCell("i32", 0, int32(5)))
	require.NoError(t, tab.Close())
	_, err = OpenTable(dir, OpenOld)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewNoReplace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exists.tab")
	tab, err := CreateTable(dir, basicSchema(), 0)
	require.NoError(t, err)
	require.NoError(t, tab.Close())
	_, err = CreateTableNoReplace(dir, basicSchema(), 0)
	assert.ErrorIs(t, err, ErrTableExists)
}

func TestDeleteMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "doomed.tab")
	tab, err := CreateTable(dir, basicSchema(), 1)
	require.NoError(t, err)
	require.NoError(t, tab.Close())

	d, err := OpenTable(dir, OpenDelete)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	_, err = OpenTable(dir, OpenOld)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeywordsAndInfo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kw.tab")
	tab, err := CreateTable(dir, basicSchema(), 1)
	require.NoError(t, err)

	require.NoError(t, tab.SetKeyword("TELESCOPE", "WSRT"))
	require.NoError(t, tab.SetKeyword("NCHAN", int32(64)))
	require.NoError(t, tab.SetColumnKeyword("f64", "UNIT", "Jy"))
	require.NoError(t, tab.SetTableInfo(Info{
		Type:    "Measurement",
		SubType: "UVW",
		Readme:  []string{"first line", "second line"},
	}))
	require.NoError(t, tab.Close())

	re, err := OpenTable(dir, OpenOld)
	require.NoError(t, err)
	defer re.Close()
	v, err := re.Keyword("TELESCOPE")
	require.NoError(t, err)
	assert.Equal(t, "WSRT", v)
	v, err = re.Keyword("NCHAN")
	require.NoError(t, err)
	assert.Equal(t, int32(64), v)
	v, err = re.ColumnKeyword("f64", "UNIT")
	require.NoError(t, err)
	assert.Equal(t, "Jy", v)
	_, err = re.Keyword("MISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := re.TableInfo()
	require.NoError(t, err)
	assert.Equal(t, "Measurement", info.Type)
	assert.Equal(t, "UVW", info.SubType)
	assert.Equal(t, []string{"first line", "second line"}, info.Readme)
}

func TestLocking(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lock.tab")
	tab, err := CreateTable(dir, basicSchema(), 1, WithLockMode(LockUserNoRead))
	require.NoError(t, err)
	defer tab.Close()

	assert.False(t, tab.HasLock(false))
	require.NoError(t, tab.Lock(true, 0))
	assert.True(t, tab.HasLock(true))
	assert.True(t, tab.HasLock(false), "write implies read")
	require.NoError(t, tab.Unlock())
	assert.False(t, tab.HasLock(false))
}

func TestReopenRWAndResync(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rw.tab")
	tab, err := CreateTable(dir, basicSchema(), 5)
	require.NoError(t, err)
	writeBasicRows(t, tab)
	require.NoError(t, tab.Close())

	ro, err := OpenTable(dir, OpenOld)
	require.NoError(t, err)
	defer ro.Close()
	assert.False(t, ro.IsWritable())
	require.NoError(t, ro.ReopenRW())
	assert.True(t, ro.IsWritable())
	require.NoError(t, ro.PutCell("i32", 0, int32(-1)))
	require.NoError(t, ro.Flush(true, false))

	other, err := OpenTable(dir, OpenOld)
	require.NoError(t, err)
	defer other.Close()
	v, err := other.GetCell("i32", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)
}

func TestHasDataChanged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chg.tab")
	tab, err := CreateTable(dir, basicSchema(), 5)
	require.NoError(t, err)
	writeBasicRows(t, tab)
	require.NoError(t, tab.Close())

	ro, err := OpenTable(dir, OpenOld)
	require.NoError(t, err)
	defer ro.Close()
	_ = ro.HasDataChanged()

	w, err := OpenTable(dir, OpenUpdate)
	require.NoError(t, err)
	require.NoError(t, w.PutCell("i32", 1, int32(777)))
	require.NoError(t, w.Close())

	assert.True(t, ro.HasDataChanged())
	require.NoError(t, ro.Resync())
	v, err := ro.GetCell("i32", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(777), v)
}

func TestTableCacheSharesState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache.tab")
	tab, err := CreateTable(dir, basicSchema(), 5)
	require.NoError(t, err)
	writeBasicRows(t, tab)
	require.NoError(t, tab.Close())

	a, err := OpenTable(dir, OpenOld, WithTableCache())
	require.NoError(t, err)
	b, err := OpenTable(dir, OpenOld, WithTableCache())
	require.NoError(t, err)
	assert.Same(t, a, b, "one underlying state per path")
	require.NoError(t, a.Close())
	// Still usable through the second handle.
	_, err = b.GetCell("i32", 0)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestRenameTable(t *testing.T) {
	base := t.TempDir()
	oldDir := filepath.Join(base, "old.tab")
	newDir := filepath.Join(base, "new.tab")
	tab, err := CreateTable(oldDir, basicSchema(), 5)
	require.NoError(t, err)
	writeBasicRows(t, tab)
	require.NoError(t, tab.Close())

	require.NoError(t, RenameTable(oldDir, newDir))
	re, err := OpenTable(newDir, OpenOld)
	require.NoError(t, err)
	defer re.Close()
	checkBasicRows(t, re)
	_, err = OpenTable(oldDir, OpenOld)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddColumnOnOpenTable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "addcol.tab")
	tab, err := CreateTable(dir, []ColumnSpec{
		{Column: Column{Name: "a", Type: TypeInt32, Kind: KindScalar, Manager: "SSM1"}},
	}, 3)
	require.NoError(t, err)
	defer tab.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, tab.PutCell("a", i, int32(i)))
	}
	// Route into the existing standard manager by name.
	require.NoError(t, tab.AddColumn(ColumnSpec{
		Column: Column{Name: "b", Type: TypeString, Kind: KindScalar, Manager: "SSM1"},
	}))
	require.NoError(t, tab.PutCell("b", 1, strings.Repeat("z", 30)))
	v, err := tab.GetCell("b", 1)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("z", 30), v)
	v, err = tab.GetCell("a", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v, "existing data survives the repack")

	// Adding a column by name to an incremental manager is refused.
	require.NoError(t, tab.AddColumn(ColumnSpec{
		Column: Column{Name: "c", Type: TypeInt32, Kind: KindScalar}, ManagerType: ManagerIncremental,
	}))
	err = tab.AddColumn(ColumnSpec{
		Column: Column{Name: "d", Type: TypeInt32, Kind: KindScalar, Manager: "incremental"},
	})
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.ErrorIs(t, tab.AddColumn(ColumnSpec{
		Column: Column{Name: "a", Type: TypeInt32, Kind: KindScalar},
	}), ErrDuplicate)
}
