// Package compress provides the optional payload compression applied to
// the tile data of tiled storage managers. Codecs are identified by a
// one-byte tag persisted in the table header so a table is always read
// back with the codec it was written with.
package compress

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type tags a compression codec.
type Type uint8

const (
	// None stores payloads verbatim.
	None Type = iota
	// Zstd uses zstandard at the default level.
	Zstd
	// S2 uses the snappy-compatible s2 block format.
	S2
	// LZ4 uses lz4 block compression.
	LZ4
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compress(%d)", uint8(t))
	}
}

// Codec compresses and decompresses independent payload blocks. The input
// is never modified; returned slices are owned by the caller.
type Codec interface {
	Type() Type
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the codec for a persisted type tag.
func New(t Type) (Codec, error) {
	switch t {
	case None:
		return noopCodec{}, nil
	case Zstd:
		return newZstdCodec()
	case S2:
		return s2Codec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown codec tag %d", uint8(t))
	}
}

type noopCodec struct{}

func (noopCodec) Type() Type                              { return None }
func (noopCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noopCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Type() Type { return Zstd }

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCodec) Decompress(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

type s2Codec struct{}

func (s2Codec) Type() Type { return S2 }

func (s2Codec) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (s2Codec) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

// lz4 block compression does not self-describe its decompressed size, so
// the codec prepends it as a u32.
type lz4Codec struct{}

func (lz4Codec) Type() Type { return LZ4 }

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	buf := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf[4:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible; CompressBlock signals this with n == 0. Store raw
		// with a marker length of 0xFFFFFFFF.
		out := make([]byte, 4+len(data))
		binary.LittleEndian.PutUint32(out, 0xFFFFFFFF)
		copy(out[4:], data)
		return out, nil
	}
	return buf[:4+n], nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("compress: truncated lz4 block")
	}
	size := binary.LittleEndian.Uint32(data)
	if size == 0xFFFFFFFF {
		out := make([]byte, len(data)-4)
		copy(out, data[4:])
		return out, nil
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
