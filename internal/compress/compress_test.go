package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("small"),
		bytes.Repeat([]byte{0xAB}, 4096),
		bytes.Repeat([]byte("abcdefgh"), 512),
	}
	for _, typ := range []Type{None, Zstd, S2, LZ4} {
		c, err := New(typ)
		require.NoError(t, err, typ.String())
		assert.Equal(t, typ, c.Type())
		for _, p := range payloads {
			enc, err := c.Compress(p)
			require.NoError(t, err, typ.String())
			dec, err := c.Decompress(enc)
			require.NoError(t, err, typ.String())
			if len(p) == 0 {
				assert.Empty(t, dec, typ.String())
			} else {
				assert.Equal(t, p, dec, typ.String())
			}
		}
	}
}

func TestCompressibleDataShrinks(t *testing.T) {
	p := bytes.Repeat([]byte{0}, 1<<16)
	for _, typ := range []Type{Zstd, S2, LZ4} {
		c, err := New(typ)
		require.NoError(t, err)
		enc, err := c.Compress(p)
		require.NoError(t, err)
		assert.Less(t, len(enc), len(p), typ.String())
	}
}

func TestUnknownTag(t *testing.T) {
	_, err := New(Type(42))
	assert.Error(t, err)
}
