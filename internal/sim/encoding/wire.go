package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxStringLen is the byte limit for length-prefixed strings.
const MaxStringLen = 32767

var (
	ErrShortBuffer   = errors.New("short buffer")
	ErrTrailingBytes = errors.New("trailing bytes")
	ErrStringTooLong = errors.New("string too long")
	ErrBadVarint     = errors.New("bad varint")
	ErrBadBool       = errors.New("bad bool")
	ErrBadUTF8       = errors.New("invalid utf-8")
)

// Writer appends fixed-order fields. The first failure sticks; later writes
// are no-ops and Err reports it.
type Writer struct {
	buf bytes.Buffer
	tmp [binary.MaxVarintLen64]byte
	err error
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Uvarint(v uint64) {
	if w.err != nil {
		return
	}
	n := binary.PutUvarint(w.tmp[:], v)
	w.buf.Write(w.tmp[:n])
}

// Count writes a non-negative int as a uvarint.
func (w *Writer) Count(v int) {
	if w.err != nil {
		return
	}
	if v < 0 {
		w.err = fmt.Errorf("negative count %d", v)
		return
	}
	w.Uvarint(uint64(v))
}

// Varint writes a signed value zig-zag encoded.
func (w *Writer) Varint(v int64) {
	if w.err != nil {
		return
	}
	n := binary.PutVarint(w.tmp[:], v)
	w.buf.Write(w.tmp[:n])
}

func (w *Writer) UTF(s string) {
	if w.err != nil {
		return
	}
	if len(s) > MaxStringLen {
		w.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return
	}
	w.Uvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Bool(b bool) {
	if w.err != nil {
		return
	}
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) Byte(b byte) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(b)
}

// Raw writes a uvarint length followed by b.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.Uvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) Err() error    { return w.err }
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Reader consumes fields written by Writer, in the same order.
type Reader struct {
	b   []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.err = fmt.Errorf("%w: uvarint at %d", ErrShortBuffer, r.off)
		return 0
	}
	v, n := binary.Uvarint(r.b[r.off:])
	if n == 0 {
		r.err = fmt.Errorf("%w: uvarint at %d", ErrShortBuffer, r.off)
		return 0
	}
	if n < 0 {
		r.err = fmt.Errorf("%w at %d", ErrBadVarint, r.off)
		return 0
	}
	r.off += n
	return v
}

// Count reads a uvarint bounded by limit.
func (r *Reader) Count(limit int) int {
	v := r.Uvarint()
	if r.err != nil {
		return 0
	}
	if v > uint64(limit) {
		r.err = fmt.Errorf("count %d exceeds %d", v, limit)
		return 0
	}
	return int(v)
}

func (r *Reader) Varint() int64 {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.err = fmt.Errorf("%w: varint at %d", ErrShortBuffer, r.off)
		return 0
	}
	v, n := binary.Varint(r.b[r.off:])
	if n == 0 {
		r.err = fmt.Errorf("%w: varint at %d", ErrShortBuffer, r.off)
		return 0
	}
	if n < 0 {
		r.err = fmt.Errorf("%w at %d", ErrBadVarint, r.off)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) UTF() string {
	n := r.Uvarint()
	if r.err != nil {
		return ""
	}
	if n > MaxStringLen {
		r.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
		return ""
	}
	b := r.take(int(n))
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = ErrBadUTF8
		return ""
	}
	return string(b)
}

func (r *Reader) Bool() bool {
	b := r.Byte()
	if r.err != nil {
		return false
	}
	switch b {
	case 0:
		return false
	case 1:
		return true
	default:
		r.err = fmt.Errorf("%w: %d", ErrBadBool, b)
		return false
	}
}

func (r *Reader) Byte() byte {
	b := r.take(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

// Raw reads a uvarint length prefixed byte slice. The result aliases the input.
func (r *Reader) Raw() []byte {
	n := r.Uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.off) {
		r.err = fmt.Errorf("%w: need %d bytes at %d", ErrShortBuffer, n, r.off)
		return nil
	}
	return r.take(int(n))
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.b)-r.off {
		r.err = fmt.Errorf("%w: need %d bytes at %d", ErrShortBuffer, n, r.off)
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.b) - r.off }

// Done returns the first read error, or ErrTrailingBytes when input is left over.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return fmt.Errorf("%w: %d left", ErrTrailingBytes, len(r.b)-r.off)
	}
	return nil
}
