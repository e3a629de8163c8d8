package codec

// Writer accumulates an endian-tagged binary payload. Errors latch: after
// the first failure all writes are no-ops and Bytes reports the error.
type Writer struct {
	eng Engine
	buf []byte
	err error
}

// NewWriter returns a Writer encoding with the given engine.
func NewWriter(eng Engine) *Writer {
	return &Writer{eng: eng}
}

func (w *Writer) Uint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = w.eng.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = w.eng.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = w.eng.AppendUint64(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

// String writes a length-prefixed string (u32 length, no terminator).
func (w *Writer) String(s string) {
	if w.err != nil {
		return
	}
	w.buf = w.eng.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Blob writes a length-prefixed byte blob.
func (w *Writer) Blob(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = w.eng.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Raw appends bytes without a length prefix.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// Scalar writes one cell value of the given element type.
func (w *Writer) Scalar(t DataType, v any) {
	if w.err != nil {
		return
	}
	w.buf, w.err = AppendScalar(w.eng, w.buf, t, v)
}

// Bytes returns the accumulated payload, or the first error encountered.
func (w *Writer) Bytes() ([]byte, error) { return w.buf, w.err }

// Len returns the current payload length.
func (w *Writer) Len() int { return len(w.buf) }

// Reader decodes a payload produced by Writer. Errors latch; zero values
// are returned after the first failure and Err reports it.
type Reader struct {
	eng Engine
	b   []byte
	off int
	err error
}

// NewReader returns a Reader decoding with the given engine.
func NewReader(eng Engine, b []byte) *Reader {
	return &Reader{eng: eng, b: b}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.b) {
		r.err = ErrShortBuffer
		return false
	}
	return true
}

func (r *Reader) Uint8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *Reader) Uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := r.eng.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := r.eng.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *Reader) Uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := r.eng.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) String() string {
	n := int(r.Uint32())
	if !r.need(n) {
		return ""
	}
	v := string(r.b[r.off : r.off+n])
	r.off += n
	return v
}

func (r *Reader) Blob() []byte {
	n := int(r.Uint32())
	if !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.b[r.off:r.off+n])
	r.off += n
	return v
}

// Scalar reads one cell value of the given element type.
func (r *Reader) Scalar(t DataType) any {
	if r.err != nil {
		return nil
	}
	v, n, err := DecodeScalar(r.eng, t, r.b[r.off:])
	if err != nil {
		r.err = err
		return nil
	}
	r.off += n
	return v
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.b) - r.off }

// Err returns the first decode error, if any.
func (r *Reader) Err() error { return r.err }
