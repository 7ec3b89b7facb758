package tars

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

type field struct {
	typ Type
	pos int // first byte after the head
}

// Reader indexes the fields of one Tars struct by tag. Absent tags yield the
// caller's default; truncated or mistyped fields yield an error.
type Reader struct {
	buf    []byte
	fields map[byte]field
}

// NewReader indexes the top-level fields of buf.
func NewReader(buf []byte) (*Reader, error) {
	r, _, err := scan(buf, 0, false)
	return r, err
}

func scan(buf []byte, pos int, inStruct bool) (*Reader, int, error) {
	r := &Reader{buf: buf, fields: make(map[byte]field)}
	for pos < len(buf) {
		tag, typ, next, err := readHead(buf, pos)
		if err != nil {
			return nil, next, err
		}
		if typ == TypeStructEnd {
			if inStruct {
				return r, next, nil
			}
			return nil, next, errors.Wrap(ErrMalformed, "unexpected struct end")
		}
		if _, dup := r.fields[tag]; !dup {
			r.fields[tag] = field{typ: typ, pos: next}
		}
		if pos, err = skip(buf, next, typ, 0); err != nil {
			return nil, pos, errors.Wrapf(err, "tag %d", tag)
		}
	}
	if inStruct {
		return nil, pos, errors.Wrap(ErrTruncated, "missing struct end")
	}
	return r, pos, nil
}

// Has reports whether tag is present.
func (r *Reader) Has(tag byte) bool {
	_, ok := r.fields[tag]
	return ok
}

// Int reads an integer field of any width.
func (r *Reader) Int(tag byte, def int64) (int64, error) {
	f, ok := r.fields[tag]
	if !ok {
		return def, nil
	}
	v, _, err := readInt(r.buf, f.pos, f.typ)
	if err != nil {
		return def, errors.Wrapf(err, "tag %d", tag)
	}
	return v, nil
}

// Float reads a float or double field.
func (r *Reader) Float(tag byte, def float64) (float64, error) {
	f, ok := r.fields[tag]
	if !ok {
		return def, nil
	}
	switch f.typ {
	case TypeZero:
		return 0, nil
	case TypeFloat:
		return float32From(binary.BigEndian.Uint32(r.buf[f.pos:])), nil
	case TypeDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(r.buf[f.pos:])), nil
	}
	return def, errors.Wrapf(ErrTypeMismatch, "tag %d float from type %d", tag, f.typ)
}

// String reads a STRING1 or STRING4 field.
func (r *Reader) String(tag byte, def string) (string, error) {
	f, ok := r.fields[tag]
	if !ok {
		return def, nil
	}
	b, _, err := readString(r.buf, f.pos, f.typ)
	if err != nil {
		return def, errors.Wrapf(err, "tag %d", tag)
	}
	return string(b), nil
}

// Bytes reads a SIMPLE_LIST field. An absent tag yields nil.
func (r *Reader) Bytes(tag byte) ([]byte, error) {
	f, ok := r.fields[tag]
	if !ok {
		return nil, nil
	}
	if f.typ != TypeSimpleList {
		return nil, errors.Wrapf(ErrTypeMismatch, "tag %d bytes from type %d", tag, f.typ)
	}
	_, _, p, err := readHead(r.buf, f.pos)
	if err != nil {
		return nil, err
	}
	n, p, err := readLength(r.buf, p)
	if err != nil {
		return nil, err
	}
	if err := need(r.buf, p, n); err != nil {
		return nil, err
	}
	return r.buf[p : p+n], nil
}

// Strings reads a LIST of strings.
func (r *Reader) Strings(tag byte) ([]string, error) {
	f, ok := r.fields[tag]
	if !ok {
		return nil, nil
	}
	if f.typ != TypeList {
		return nil, errors.Wrapf(ErrTypeMismatch, "tag %d list from type %d", tag, f.typ)
	}
	n, p, err := readLength(r.buf, f.pos)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		_, typ, next, err := readHead(r.buf, p)
		if err != nil {
			return nil, err
		}
		b, next, err := readString(r.buf, next, typ)
		if err != nil {
			return nil, errors.Wrapf(err, "tag %d element %d", tag, i)
		}
		out = append(out, string(b))
		p = next
	}
	return out, nil
}

// Struct returns a reader over a nested struct. ok is false when the tag is
// absent.
func (r *Reader) Struct(tag byte) (sub *Reader, ok bool, err error) {
	f, present := r.fields[tag]
	if !present {
		return nil, false, nil
	}
	if f.typ != TypeStructBegin {
		return nil, false, errors.Wrapf(ErrTypeMismatch, "tag %d struct from type %d", tag, f.typ)
	}
	sub, _, err = scan(r.buf, f.pos, true)
	if err != nil {
		return nil, false, errors.Wrapf(err, "tag %d", tag)
	}
	return sub, true, nil
}

func readString(buf []byte, pos int, typ Type) ([]byte, int, error) {
	var n int
	switch typ {
	case TypeString1:
		if err := need(buf, pos, 1); err != nil {
			return nil, pos, err
		}
		n = int(buf[pos])
		pos++
	case TypeString4:
		if err := need(buf, pos, 4); err != nil {
			return nil, pos, err
		}
		n = int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
	default:
		return nil, pos, errors.Wrapf(ErrTypeMismatch, "string from type %d", typ)
	}
	if err := need(buf, pos, n); err != nil {
		return nil, pos, err
	}
	return buf[pos : pos+n], pos + n, nil
}
