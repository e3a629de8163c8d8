// Package header reads and writes the self-describing table header: format
// magic and version, endianness tag, row count, the ordered schema, the SM
// layout record, the table keyword record and a lock-info block. The header
// is the root of trust for everything else in the table directory.
package header

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/colstore/internal/codec"
	"github.com/hupe1980/colstore/internal/fs"
	"github.com/hupe1980/colstore/internal/schema"
	"github.com/hupe1980/colstore/internal/sm"
)

const (
	// FileName is the header file inside the table directory.
	FileName = "table.dat"
	// LockFileName is the advisory lock file inside the table directory.
	LockFileName = "table.lock"

	version = 1

	endianBig    = 'B'
	endianLittle = 'L'
)

var magic = [8]byte{'C', 'o', 'l', 'T', 'a', 'b', '0', '1'}

var (
	// ErrBadMagic signals a file that is not a table header.
	ErrBadMagic = errors.New("header: bad magic")
	// ErrBadVersion signals an unreadable future format.
	ErrBadVersion = errors.New("header: unsupported version")
	// ErrChecksum signals header corruption.
	ErrChecksum = errors.New("header: checksum mismatch")
)

// ManagerRecord is one persisted SM instance.
type ManagerRecord struct {
	Name  string
	Type  sm.Type
	Seq   int
	State []byte
}

// LockInfo records the lock mode stored with the header. Opening a table
// does not consult it.
type LockInfo struct {
	Mode uint8
}

// Header is the decoded table header.
type Header struct {
	Eng         codec.Engine
	NRow        int
	PageSize    int
	Compression uint8
	Columns     []schema.ColumnDesc
	Managers    []ManagerRecord
	Keywords    *schema.Record
	Lock        LockInfo
}

func endianTag(eng codec.Engine) byte {
	if eng == codec.Big() {
		return endianBig
	}
	return endianLittle
}

// Write persists the header atomically into dir.
func (h *Header) Write(fsys fs.FileSystem, dir string) error {
	w := codec.NewWriter(h.Eng)
	w.Uint32(version)
	w.Uint64(uint64(h.NRow))
	w.Uint32(uint32(h.PageSize))
	w.Uint8(h.Compression)
	w.Uint8(h.Lock.Mode)

	w.Uint32(uint32(len(h.Columns)))
	for _, d := range h.Columns {
		w.String(d.Name)
		w.Uint8(uint8(d.Type))
		w.Uint8(uint8(d.Kind))
		w.Uint8(uint8(len(d.Shape)))
		for _, s := range d.Shape {
			w.Uint32(uint32(s))
		}
		w.Uint32(uint32(d.MaxLength))
		w.String(d.Manager)
		schema.AppendRecord(w, d.Keywords)
	}

	w.Uint32(uint32(len(h.Managers)))
	for _, m := range h.Managers {
		w.String(m.Name)
		w.Uint8(uint8(m.Type))
		w.Uint32(uint32(m.Seq))
		w.Blob(m.State)
	}

	schema.AppendRecord(w, h.Keywords)

	payload, err := w.Bytes()
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(payload)+17)
	buf = append(buf, magic[:]...)
	buf = append(buf, endianTag(h.Eng))
	buf = append(buf, payload...)
	sum := xxhash.Sum64(buf)
	buf = h.Eng.AppendUint64(buf, sum)
	return fs.WriteFileAtomic(fsys, filepath.Join(dir, FileName), buf, 0o644)
}

// Read loads and verifies the header from dir. The endianness tag inside
// the file selects the engine for everything that follows.
func Read(fsys fs.FileSystem, dir string) (*Header, error) {
	buf, err := fs.ReadFile(fsys, filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if len(buf) < 17 {
		return nil, ErrBadMagic
	}
	for i := range magic {
		if buf[i] != magic[i] {
			return nil, ErrBadMagic
		}
	}
	var eng codec.Engine
	switch buf[8] {
	case endianBig:
		eng = codec.Big()
	case endianLittle:
		eng = codec.Little()
	default:
		return nil, fmt.Errorf("%w: endian tag %q", ErrBadMagic, buf[8])
	}

	body := buf[:len(buf)-8]
	sum := eng.Uint64(buf[len(buf)-8:])
	if xxhash.Sum64(body) != sum {
		return nil, ErrChecksum
	}

	r := codec.NewReader(eng, buf[9:len(buf)-8])
	if v := r.Uint32(); v != version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	h := &Header{Eng: eng}
	h.NRow = int(r.Uint64())
	h.PageSize = int(r.Uint32())
	h.Compression = r.Uint8()
	h.Lock.Mode = r.Uint8()

	ncols := int(r.Uint32())
	h.Columns = make([]schema.ColumnDesc, ncols)
	for i := range h.Columns {
		d := schema.ColumnDesc{}
		d.Name = r.String()
		d.Type = codec.DataType(r.Uint8())
		d.Kind = schema.Kind(r.Uint8())
		nd := int(r.Uint8())
		if nd > 0 {
			d.Shape = make([]int, nd)
			for j := range d.Shape {
				d.Shape[j] = int(r.Uint32())
			}
		}
		d.MaxLength = int(r.Uint32())
		d.Manager = r.String()
		kw, err := schema.ReadRecord(r)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d keywords: %v", ErrChecksum, i, err)
		}
		d.Keywords = kw
		h.Columns[i] = d
	}

	nmgrs := int(r.Uint32())
	h.Managers = make([]ManagerRecord, nmgrs)
	for i := range h.Managers {
		h.Managers[i].Name = r.String()
		h.Managers[i].Type = sm.Type(r.Uint8())
		h.Managers[i].Seq = int(r.Uint32())
		h.Managers[i].State = r.Blob()
	}

	kw, err := schema.ReadRecord(r)
	if err != nil {
		return nil, fmt.Errorf("%w: table keywords: %v", ErrChecksum, err)
	}
	h.Keywords = kw
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChecksum, err)
	}
	return h, nil
}
