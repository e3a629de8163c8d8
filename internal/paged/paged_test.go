package paged

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colstore/internal/codec"
)

func TestCreateWriteReadReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	eng := codec.Little()

	pf, err := Create(nil, path, eng, 512)
	require.NoError(t, err)

	ids := make([]uint32, 3)
	for i := range ids {
		ids[i], err = pf.Allocate()
		require.NoError(t, err)
		page := make([]byte, 512)
		for j := range page {
			page[j] = byte(i + 1)
		}
		require.NoError(t, pf.WritePage(ids[i], page))
	}
	require.NoError(t, pf.SaveMeta())
	require.NoError(t, pf.Sync())
	require.NoError(t, pf.Close())

	pf2, err := Open(nil, path, eng, false)
	require.NoError(t, err)
	defer pf2.Close()
	assert.Equal(t, 512, pf2.PageSize())
	for i, id := range ids {
		page, err := pf2.ReadPage(id)
		require.NoError(t, err)
		assert.Equal(t, byte(i+1), page[0])
		assert.Equal(t, byte(i+1), page[511])
	}
}

func TestFreeListReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	pf, err := Create(nil, path, codec.Little(), 512)
	require.NoError(t, err)
	defer pf.Close()

	a, err := pf.Allocate()
	require.NoError(t, err)
	b, err := pf.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	pf.Free(a)
	assert.True(t, pf.IsFree(a))
	c, err := pf.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, c, "freed page is recycled first")
	assert.False(t, pf.IsFree(a))
}

func TestAllocateRunContiguous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	pf, err := Create(nil, path, codec.Little(), 512)
	require.NoError(t, err)
	defer pf.Close()

	start, err := pf.AllocateRun(4)
	require.NoError(t, err)
	next, err := pf.Allocate()
	require.NoError(t, err)
	assert.Equal(t, start+4, next)

	pf.FreeRun(start, 4)
	again, err := pf.AllocateRun(4)
	require.NoError(t, err)
	assert.Equal(t, start, again, "freed run is recycled")
}

func TestFreeSetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	eng := codec.Big()
	pf, err := Create(nil, path, eng, 512)
	require.NoError(t, err)
	a, _ := pf.Allocate()
	b, _ := pf.Allocate()
	pf.Free(a)
	require.NoError(t, pf.Close())

	pf2, err := Open(nil, path, eng, true)
	require.NoError(t, err)
	defer pf2.Close()
	assert.True(t, pf2.IsFree(a))
	assert.False(t, pf2.IsFree(b))
	c, err := pf2.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestBadPageSizeRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(nil, filepath.Join(dir, "x"), codec.Little(), 1000)
	assert.Error(t, err, "not a power of two")
	_, err = Create(nil, filepath.Join(dir, "y"), codec.Little(), 256)
	assert.Error(t, err, "too small")
}

func TestBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	pf, err := Create(nil, path, codec.Little(), 512)
	require.NoError(t, err)
	require.NoError(t, pf.Close())

	_, err = Open(nil, path, codec.Big(), false)
	assert.Error(t, err, "wrong engine reads garbage magic")
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	pf, err := Create(nil, path, codec.Little(), 512)
	require.NoError(t, err)
	id, _ := pf.Allocate()
	require.NoError(t, pf.WritePage(id, make([]byte, 512)))
	require.NoError(t, pf.Close())

	pf2, err := Open(nil, path, codec.Little(), false)
	require.NoError(t, err)
	defer pf2.Close()
	assert.ErrorIs(t, pf2.WritePage(id, make([]byte, 512)), ErrReadOnly)
	_, err = pf2.Allocate()
	assert.ErrorIs(t, err, ErrReadOnly)
}
