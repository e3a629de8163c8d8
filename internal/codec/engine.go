// Package codec implements the column value codec: a closed enumeration of
// element types, endian-aware encode/decode of scalar cells and dense
// arrays, and the widening-promotion matrix used by scalar getters.
package codec

import (
	"encoding/binary"
	"unsafe"
)

// Engine combines ByteOrder and AppendByteOrder from encoding/binary into a
// single interface. binary.LittleEndian and binary.BigEndian both satisfy it.
type Engine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// NativeOrder determines the host's byte order with a fixed probe value.
func NativeOrder() Engine {
	var i uint16 = 0x0100
	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Little returns the little-endian engine.
func Little() Engine { return binary.LittleEndian }

// Big returns the big-endian engine.
func Big() Engine { return binary.BigEndian }
