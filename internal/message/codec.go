// Package message defines the wire format shared by every ring buffer
// packet and every on-disk byte sequence: a 2-byte type header followed
// by a typed payload, little-endian throughout.
package message

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var byteOrder = binary.LittleEndian

// Reader reads fixed-width fields out of a packet payload.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) CheckRemaining(n int) error {
	if r.Remaining() < n {
		return errors.Errorf("message: %d bytes remaining, %d needed", r.Remaining(), n)
	}
	return nil
}

func (r *Reader) ReadByte() byte {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *Reader) ReadUint16() uint16 {
	v := byteOrder.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *Reader) ReadUint32() uint32 {
	v := byteOrder.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *Reader) ReadUint64() uint64 {
	v := byteOrder.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadInt64() int64 {
	return int64(r.ReadUint64())
}

func (r *Reader) ReadFloat64() float64 {
	return float64frombits(r.ReadUint64())
}

// ReadSlice returns the next n bytes without copying.
func (r *Reader) ReadSlice(n int) []byte {
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

// ReadRemaining returns every remaining byte without copying.
func (r *Reader) ReadRemaining() []byte {
	v := r.buf[r.off:]
	r.off = len(r.buf)
	return v
}

// Writer appends fixed-width fields to a growable payload buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteByte(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	byteOrder.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	byteOrder.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(float64bits(v))
}

func (w *Writer) WriteSlice(p []byte) {
	w.buf = append(w.buf, p...)
}

func (w *Writer) WriteString(s string, size int) {
	b := make([]byte, size)
	copy(b, s)
	w.buf = append(w.buf, b...)
}
