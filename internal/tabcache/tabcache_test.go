package tabcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDeduplicates(t *testing.T) {
	c := New()
	opens := 0
	open := func() (any, error) {
		opens++
		return "state", nil
	}

	v1, shared, err := c.Acquire("/a", open)
	require.NoError(t, err)
	assert.False(t, shared)
	v2, shared, err := c.Acquire("/a", open)
	require.NoError(t, err)
	assert.True(t, shared)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, c.Len())

	assert.False(t, c.Release("/a"))
	assert.True(t, c.Release("/a"), "last reference")
	assert.Zero(t, c.Len())
}

func TestAcquireErrorNotCached(t *testing.T) {
	c := New()
	fail := errors.New("open failed")
	_, _, err := c.Acquire("/bad", func() (any, error) { return nil, fail })
	assert.ErrorIs(t, err, fail)
	assert.Zero(t, c.Len())

	v, _, err := c.Acquire("/bad", func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConcurrentAcquireOpensOnce(t *testing.T) {
	c := New()
	var opens atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.Acquire("/shared", func() (any, error) {
				opens.Add(1)
				return "v", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), opens.Load())
}

func TestReleaseUnknownKey(t *testing.T) {
	c := New()
	assert.True(t, c.Release("/nothing"))
}
