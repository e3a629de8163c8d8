package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(tileBytes int, store map[uint32][]byte) (*Cache, *int, *int) {
	fetches, writes := 0, 0
	c := New(tileBytes, 0,
		func(id uint32) ([]byte, error) {
			fetches++
			if b, ok := store[id]; ok {
				out := make([]byte, tileBytes)
				copy(out, b)
				return out, nil
			}
			return make([]byte, tileBytes), nil
		},
		func(id uint32, data []byte) error {
			writes++
			out := make([]byte, tileBytes)
			copy(out, data)
			store[id] = out
			return nil
		})
	return c, &fetches, &writes
}

func TestAccessHitMiss(t *testing.T) {
	store := map[uint32][]byte{}
	c, fetches, _ := newTestCache(8, store)
	require.NoError(t, c.Resize(2))

	_, err := c.Access(1, false)
	require.NoError(t, err)
	_, err = c.Access(1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, *fetches)

	s := c.Stats()
	assert.Equal(t, int64(2), s.Accesses)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestDirtyWriteBackOnEviction(t *testing.T) {
	store := map[uint32][]byte{}
	c, _, writes := newTestCache(4, store)
	require.NoError(t, c.Resize(1))

	buf, err := c.Access(7, true)
	require.NoError(t, err)
	copy(buf, []byte{1, 2, 3, 4})

	// Touching another tile evicts tile 7, which must be written back.
	_, err = c.Access(8, false)
	require.NoError(t, err)
	assert.Equal(t, 1, *writes)
	assert.Equal(t, []byte{1, 2, 3, 4}, store[7])
}

func TestClearFlushesAndInvalidates(t *testing.T) {
	store := map[uint32][]byte{}
	c, fetches, _ := newTestCache(4, store)
	require.NoError(t, c.Resize(4))

	buf, err := c.Access(3, true)
	require.NoError(t, err)
	copy(buf, []byte{9, 9, 9, 9})
	require.NoError(t, c.Clear())
	assert.Equal(t, []byte{9, 9, 9, 9}, store[3])

	// Values after a clear are identical; only statistics differ.
	got, err := c.Access(3, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, got)
	assert.Equal(t, 2, *fetches)
}

func TestSizeForAccess(t *testing.T) {
	// Sweep of a 2-d slice touching 3x4 tiles, first axis fastest; the
	// slow axis visits more positions than tiles, so the whole fast row of
	// tiles must stay resident.
	n, err := SizeForAccess([]int{3, 4}, []int{12, 20}, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// One position per tile on the slow axis: no revisits, one slot does.
	n, err = SizeForAccess([]int{3, 4}, []int{12, 4}, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Reversed axis path swaps which extent must be cached.
	n, err = SizeForAccess([]int{3, 4}, []int{12, 20}, []int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = SizeForAccess([]int{3, 4}, []int{12, 20}, []int{0, 0})
	assert.Error(t, err, "not a permutation")
}
