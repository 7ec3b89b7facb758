package tars

import (
	"encoding/binary"
	"math"
)

// Writer appends Tars fields to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) head(tag byte, typ Type) {
	if tag < 15 {
		w.buf = append(w.buf, tag<<4|byte(typ))
		return
	}
	w.buf = append(w.buf, 0xf0|byte(typ), tag)
}

// WriteInt writes v in the narrowest integer type that holds it.
func (w *Writer) WriteInt(tag byte, v int64) {
	switch {
	case v == 0:
		w.head(tag, TypeZero)
	case v >= math.MinInt8 && v <= math.MaxInt8:
		w.head(tag, TypeInt1)
		w.buf = append(w.buf, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		w.head(tag, TypeInt2)
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(int16(v)))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		w.head(tag, TypeInt4)
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(int32(v)))
	default:
		w.head(tag, TypeInt8)
		w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
	}
}

// WriteString writes s as STRING1 when it fits in 255 bytes, else STRING4.
func (w *Writer) WriteString(tag byte, s string) {
	if len(s) <= 255 {
		w.head(tag, TypeString1)
		w.buf = append(w.buf, byte(len(s)))
	} else {
		w.head(tag, TypeString4)
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(s)))
	}
	w.buf = append(w.buf, s...)
}

// WriteBytes writes b as a SIMPLE_LIST of INT1.
func (w *Writer) WriteBytes(tag byte, b []byte) {
	w.head(tag, TypeSimpleList)
	w.head(0, TypeInt1)
	w.WriteInt(0, int64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteStrings writes a LIST of strings, each element under tag 0.
func (w *Writer) WriteStrings(tag byte, list []string) {
	w.head(tag, TypeList)
	w.WriteInt(0, int64(len(list)))
	for _, s := range list {
		w.WriteString(0, s)
	}
}

// WriteStruct writes a nested struct whose fields are produced by fn.
func (w *Writer) WriteStruct(tag byte, fn func(*Writer)) {
	w.head(tag, TypeStructBegin)
	fn(w)
	w.head(0, TypeStructEnd)
}
