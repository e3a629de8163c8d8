package schema

import (
	"fmt"
	"sort"

	"github.com/hupe1980/colstore/internal/codec"
)

// Record is a keyword record: an insertion-ordered map from field names to
// scalar values, string lists, nested records, or sub-table references.
type Record struct {
	names  []string
	fields map[string]any
}

// SubTableRef marks a keyword value referencing a sub-table directory,
// stored as a path relative to the owning table.
type SubTableRef struct {
	Path string
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{fields: make(map[string]any)}
}

// Set stores a field, keeping first-insertion order. Accepted value types:
// the scalar cell universe, []string, *Record, and SubTableRef.
func (r *Record) Set(name string, v any) error {
	switch v.(type) {
	case bool, uint8, int16, uint16, int32, uint32, int64,
		float32, float64, complex64, complex128, string,
		[]string, *Record, SubTableRef:
	default:
		return fmt.Errorf("schema: unsupported keyword type %T", v)
	}
	if _, ok := r.fields[name]; !ok {
		r.names = append(r.names, name)
	}
	r.fields[name] = v
	return nil
}

// Get returns a field value.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Delete removes a field.
func (r *Record) Delete(name string) {
	if _, ok := r.fields[name]; !ok {
		return
	}
	delete(r.fields, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// Names returns the field names in insertion order.
func (r *Record) Names() []string { return append([]string(nil), r.names...) }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.names) }

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := NewRecord()
	for _, n := range r.names {
		v := r.fields[n]
		switch x := v.(type) {
		case *Record:
			out.Set(n, x.Clone())
		case []string:
			out.Set(n, append([]string(nil), x...))
		default:
			out.Set(n, x)
		}
	}
	return out
}

// Keyword record wire tags. The scalar tags reuse the DataType values;
// composite values follow above the scalar range.
const (
	tagStringList uint8 = 0x80
	tagRecord     uint8 = 0x81
	tagSubTable   uint8 = 0x82
)

// AppendRecord encodes r onto w.
func AppendRecord(w *codec.Writer, r *Record) {
	if r == nil {
		w.Uint32(0)
		return
	}
	w.Uint32(uint32(len(r.names)))
	for _, n := range r.names {
		w.String(n)
		v := r.fields[n]
		switch x := v.(type) {
		case []string:
			w.Uint8(tagStringList)
			w.Uint32(uint32(len(x)))
			for _, s := range x {
				w.String(s)
			}
		case *Record:
			w.Uint8(tagRecord)
			AppendRecord(w, x)
		case SubTableRef:
			w.Uint8(tagSubTable)
			w.String(x.Path)
		default:
			t := codec.TypeOf(v)
			w.Uint8(uint8(t))
			w.Scalar(t, v)
		}
	}
}

// ReadRecord decodes a record written by AppendRecord.
func ReadRecord(r *codec.Reader) (*Record, error) {
	n := int(r.Uint32())
	rec := NewRecord()
	for i := 0; i < n; i++ {
		name := r.String()
		tag := r.Uint8()
		if err := r.Err(); err != nil {
			return nil, err
		}
		switch tag {
		case tagStringList:
			m := int(r.Uint32())
			list := make([]string, 0, m)
			for j := 0; j < m; j++ {
				list = append(list, r.String())
			}
			rec.Set(name, list)
		case tagRecord:
			sub, err := ReadRecord(r)
			if err != nil {
				return nil, err
			}
			rec.Set(name, sub)
		case tagSubTable:
			rec.Set(name, SubTableRef{Path: r.String()})
		default:
			t := codec.DataType(tag)
			if !t.Valid() || t == codec.Other {
				return nil, fmt.Errorf("schema: bad keyword tag %d for %q", tag, name)
			}
			v := r.Scalar(t)
			if err := r.Err(); err != nil {
				return nil, err
			}
			rec.Set(name, v)
		}
	}
	return rec, r.Err()
}

// SortedNames returns field names sorted lexicographically (used by
// reflection output where a stable order independent of insertion is
// wanted).
func (r *Record) SortedNames() []string {
	out := append([]string(nil), r.names...)
	sort.Strings(out)
	return out
}
