package colset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
	"github.com/hupe1980/colstore/internal/sm/incremental"
	"github.com/hupe1980/colstore/internal/sm/standard"
)

func testCtx(t *testing.T) *sm.Context {
	t.Helper()
	ctx := &sm.Context{
		Dir:      t.TempDir(),
		Eng:      codec.Little(),
		PageSize: 512,
		Writable: true,
	}
	ctx.Normalize()
	return ctx
}

func i32Col(name string) schema.ColumnDesc {
	return schema.ColumnDesc{Name: name, Type: codec.I32, Kind: schema.Scalar}
}

func newSet(t *testing.T, ctx *sm.Context, nrow int) *ColumnSet {
	t.Helper()
	cs := New(ctx, DefaultRegistry())
	cs.SetNRow(nrow)
	return cs
}

func TestUniqueNameSuffixes(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 2)

	m1, err := standard.Create(ctx, "SM", cs.NextSeq(), []schema.ColumnDesc{i32Col("a")}, 2)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(m1, []schema.ColumnDesc{i32Col("a")}))

	assert.Equal(t, "SM_1", cs.UniqueName("SM"))
	assert.Equal(t, "other", cs.UniqueName("other"))

	m2, err := standard.Create(ctx, "SM_1", cs.NextSeq(), []schema.ColumnDesc{i32Col("b")}, 2)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(m2, []schema.ColumnDesc{i32Col("b")}))
	assert.Equal(t, "SM_2", cs.UniqueName("SM"))
}

func TestAdoptRejectsDuplicates(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 1)

	m1, err := standard.Create(ctx, "SM", cs.NextSeq(), []schema.ColumnDesc{i32Col("a")}, 1)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(m1, []schema.ColumnDesc{i32Col("a")}))

	dupName, err := standard.Create(ctx, "SM", cs.NextSeq(), []schema.ColumnDesc{i32Col("x")}, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, cs.Adopt(dupName, []schema.ColumnDesc{i32Col("x")}), ErrDuplicate)

	dupCol, err := standard.Create(ctx, "SM2", cs.NextSeq(), []schema.ColumnDesc{i32Col("a")}, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, cs.Adopt(dupCol, []schema.ColumnDesc{i32Col("a")}), ErrDuplicate)
}

func TestAddRowsPropagatesToEverySM(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 0)

	ssm, err := standard.Create(ctx, "SSM", cs.NextSeq(), []schema.ColumnDesc{i32Col("a")}, 0)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(ssm, []schema.ColumnDesc{i32Col("a")}))
	ism, err := incremental.Create(ctx, "ISM", cs.NextSeq(), []schema.ColumnDesc{i32Col("b")}, 0)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(ism, []schema.ColumnDesc{i32Col("b")}))

	require.NoError(t, cs.AddRows(7))
	assert.Equal(t, 7, cs.NRow())
	for _, m := range cs.Managers() {
		assert.Equal(t, 7, m.NRow(), m.Name())
	}

	require.NoError(t, cs.RemoveRow(3))
	assert.Equal(t, 6, cs.NRow())
	for _, m := range cs.Managers() {
		assert.Equal(t, 6, m.NRow(), m.Name())
	}
}

func TestRemoveColumnDestroysSoleTenant(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 3)

	ssm, err := standard.Create(ctx, "Shared", cs.NextSeq(),
		[]schema.ColumnDesc{i32Col("A"), i32Col("B")}, 3)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(ssm, []schema.ColumnDesc{i32Col("A"), i32Col("B")}))
	ism, err := incremental.Create(ctx, "Solo", cs.NextSeq(), []schema.ColumnDesc{i32Col("C")}, 3)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(ism, []schema.ColumnDesc{i32Col("C")}))

	require.NoError(t, cs.RemoveColumn("A"))
	require.Len(t, cs.Managers(), 2, "shared manager survives")

	require.NoError(t, cs.RemoveColumn("C"))
	require.Len(t, cs.Managers(), 1, "sole tenant destroyed")
	assert.Equal(t, "Shared", cs.Managers()[0].Name())
	_, err = cs.Owner("C")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestRenameColumn(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 2)
	ssm, err := standard.Create(ctx, "SM", cs.NextSeq(), []schema.ColumnDesc{i32Col("B")}, 2)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(ssm, []schema.ColumnDesc{i32Col("B")}))

	m, _ := cs.Owner("B")
	require.NoError(t, m.PutScalar("B", 1, int32(5)))

	require.NoError(t, cs.RenameColumn("B", "BB"))
	owner, err := cs.Owner("BB")
	require.NoError(t, err)
	v, err := owner.GetScalar("BB", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)
	_, err = cs.Owner("B")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestAddColumnDefaultBindingCreatesStandard(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 2)

	require.NoError(t, cs.AddColumn(i32Col("fresh"), Binding{}))
	require.Len(t, cs.Managers(), 1)
	assert.Equal(t, sm.Standard, cs.Managers()[0].Type())
	assert.Equal(t, 2, cs.Managers()[0].NRow())
}

func TestAddColumnByTypeCreatesWhenNoneAccepts(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 2)
	typ := sm.Incremental
	require.NoError(t, cs.AddColumn(i32Col("x"), Binding{ManagerType: &typ}))
	require.NoError(t, cs.AddColumn(i32Col("y"), Binding{ManagerType: &typ}))
	require.Len(t, cs.Managers(), 2, "incremental never accepts add-column")
	assert.NotEqual(t, cs.Managers()[0].Name(), cs.Managers()[1].Name())
}

func TestRemoveRowRefusedUpFront(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 0)
	require.NoError(t, cs.AddColumn(i32Col("a"), Binding{}))
	assert.ErrorIs(t, cs.RemoveRow(0), sm.ErrRowOutOfRange)
}

func TestLoadPreservesColumnOrder(t *testing.T) {
	ctx := testCtx(t)
	cs := newSet(t, ctx, 2)
	ssm, err := standard.Create(ctx, "SM", cs.NextSeq(),
		[]schema.ColumnDesc{i32Col("z"), i32Col("a")}, 2)
	require.NoError(t, err)
	require.NoError(t, cs.Adopt(ssm, []schema.ColumnDesc{i32Col("z"), i32Col("a")}))
	require.NoError(t, ssm.PutScalar("z", 0, int32(1)))

	_, err = ssm.Flush(false)
	require.NoError(t, err)
	state, err := ssm.State()
	require.NoError(t, err)
	cols := cs.ActualColumns()
	require.NoError(t, cs.Close())

	loaded, err := Load(ctx, DefaultRegistry(), 2, cols, []LoadManager{
		{Name: "SM", Type: sm.Standard, Seq: 0, State: state},
	})
	require.NoError(t, err)
	defer loaded.Close()
	got := loaded.Columns()
	require.Len(t, got, 2)
	assert.Equal(t, "z", got[0].Name)
	assert.Equal(t, "a", got[1].Name)
	owner, err := loaded.Owner("z")
	require.NoError(t, err)
	v, err := owner.GetScalar("z", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
}
