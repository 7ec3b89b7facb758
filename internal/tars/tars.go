// Package tars reads and writes the Tars (JCE) tag-length-value encoding huya
// uses on its danmaku socket.
//
// Every field starts with a head byte carrying a 4-bit tag and a 4-bit type.
// Tags of 15 or more spill into a second byte. Integers are big-endian and
// written in the narrowest width that holds them.
package tars

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Type is a Tars wire type.
type Type byte

const (
	TypeInt1 Type = iota
	TypeInt2
	TypeInt4
	TypeInt8
	TypeFloat
	TypeDouble
	TypeString1
	TypeString4
	TypeMap
	TypeList
	TypeStructBegin
	TypeStructEnd
	TypeZero
	TypeSimpleList
)

var (
	// ErrTruncated reports a field running past the end of the buffer.
	ErrTruncated = errors.New("tars: truncated buffer")
	// ErrMalformed reports an unknown type or an impossible length.
	ErrMalformed = errors.New("tars: malformed field")
	// ErrTypeMismatch reports a field whose wire type does not fit the
	// requested value.
	ErrTypeMismatch = errors.New("tars: type mismatch")
)

// maxDepth bounds struct/list nesting while skipping unknown fields.
const maxDepth = 32

func readHead(buf []byte, pos int) (tag byte, typ Type, next int, err error) {
	if pos >= len(buf) {
		return 0, 0, pos, ErrTruncated
	}
	h := buf[pos]
	typ = Type(h & 0x0f)
	tag = h >> 4
	pos++
	if tag == 15 {
		if pos >= len(buf) {
			return 0, 0, pos, ErrTruncated
		}
		tag = buf[pos]
		pos++
	}
	if typ > TypeSimpleList {
		return 0, 0, pos, errors.Wrapf(ErrMalformed, "type %d", typ)
	}
	return tag, typ, pos, nil
}

func need(buf []byte, pos, n int) error {
	if n < 0 || pos+n > len(buf) || pos+n < pos {
		return ErrTruncated
	}
	return nil
}

func readInt(buf []byte, pos int, typ Type) (int64, int, error) {
	switch typ {
	case TypeZero:
		return 0, pos, nil
	case TypeInt1:
		if err := need(buf, pos, 1); err != nil {
			return 0, pos, err
		}
		return int64(int8(buf[pos])), pos + 1, nil
	case TypeInt2:
		if err := need(buf, pos, 2); err != nil {
			return 0, pos, err
		}
		return int64(int16(binary.BigEndian.Uint16(buf[pos:]))), pos + 2, nil
	case TypeInt4:
		if err := need(buf, pos, 4); err != nil {
			return 0, pos, err
		}
		return int64(int32(binary.BigEndian.Uint32(buf[pos:]))), pos + 4, nil
	case TypeInt8:
		if err := need(buf, pos, 8); err != nil {
			return 0, pos, err
		}
		return int64(binary.BigEndian.Uint64(buf[pos:])), pos + 8, nil
	}
	return 0, pos, errors.Wrapf(ErrTypeMismatch, "int from type %d", typ)
}

// readLength reads the embedded integer field (tag 0) that prefixes lists,
// maps and simple lists.
func readLength(buf []byte, pos int) (int, int, error) {
	_, typ, pos, err := readHead(buf, pos)
	if err != nil {
		return 0, pos, err
	}
	n, pos, err := readInt(buf, pos, typ)
	if err != nil {
		return 0, pos, err
	}
	if n < 0 || n > int64(len(buf)) {
		return 0, pos, errors.Wrapf(ErrMalformed, "length %d", n)
	}
	return int(n), pos, nil
}

// skip advances past the value of a field of type typ starting at pos.
func skip(buf []byte, pos int, typ Type, depth int) (int, error) {
	if depth > maxDepth {
		return pos, errors.Wrap(ErrMalformed, "nesting too deep")
	}
	switch typ {
	case TypeZero, TypeStructEnd:
		return pos, nil
	case TypeInt1:
		return pos + 1, need(buf, pos, 1)
	case TypeInt2:
		return pos + 2, need(buf, pos, 2)
	case TypeInt4, TypeFloat:
		return pos + 4, need(buf, pos, 4)
	case TypeInt8, TypeDouble:
		return pos + 8, need(buf, pos, 8)
	case TypeString1:
		if err := need(buf, pos, 1); err != nil {
			return pos, err
		}
		n := int(buf[pos])
		return pos + 1 + n, need(buf, pos+1, n)
	case TypeString4:
		if err := need(buf, pos, 4); err != nil {
			return pos, err
		}
		n := int(binary.BigEndian.Uint32(buf[pos:]))
		return pos + 4 + n, need(buf, pos+4, n)
	case TypeMap, TypeList:
		n, next, err := readLength(buf, pos)
		if err != nil {
			return next, err
		}
		if typ == TypeMap {
			n *= 2
		}
		pos = next
		for i := 0; i < n; i++ {
			_, t, p, err := readHead(buf, pos)
			if err != nil {
				return p, err
			}
			if pos, err = skip(buf, p, t, depth+1); err != nil {
				return pos, err
			}
		}
		return pos, nil
	case TypeStructBegin:
		for {
			_, t, p, err := readHead(buf, pos)
			if err != nil {
				return p, err
			}
			if t == TypeStructEnd {
				return p, nil
			}
			if pos, err = skip(buf, p, t, depth+1); err != nil {
				return pos, err
			}
		}
	case TypeSimpleList:
		_, _, p, err := readHead(buf, pos)
		if err != nil {
			return p, err
		}
		n, p, err := readLength(buf, p)
		if err != nil {
			return p, err
		}
		return p + n, need(buf, p, n)
	}
	return pos, errors.Wrapf(ErrMalformed, "type %d", typ)
}

func float32From(bits uint32) float64 { return float64(math.Float32frombits(bits)) }
