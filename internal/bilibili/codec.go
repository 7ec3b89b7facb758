// Package bilibili speaks the bilibili live danmaku socket: 16 byte big
// endian headed packets whose bodies may themselves be zlib or brotli
// compressed packet streams.
package bilibili

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

const (
	headerSize      = 16
	maxInflatedSize = 8 << 20
	maxDepth        = 4
)

// Operations.
const (
	OpHeartbeat      uint32 = 2
	OpHeartbeatReply uint32 = 3
	OpMessage        uint32 = 5
	OpAuth           uint32 = 7
	OpAuthReply      uint32 = 8
)

// Body versions.
const (
	VerJSON   uint16 = 0
	VerInt    uint16 = 1
	VerZlib   uint16 = 2
	VerBrotli uint16 = 3
)

var (
	ErrTruncated = errors.New("bilibili: truncated packet")
	ErrMalformed = errors.New("bilibili: malformed packet")
	ErrTooLarge  = errors.New("bilibili: payload exceeds size limit")
)

// Packet is one decoded, uncompressed packet.
type Packet struct {
	Version uint16
	Op      uint32
	Seq     uint32
	Body    []byte
}

// Encode frames body with a 16 byte header.
func Encode(op uint32, ver uint16, seq uint32, body []byte) []byte {
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], headerSize)
	binary.BigEndian.PutUint16(buf[6:8], ver)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], seq)
	copy(buf[headerSize:], body)
	return buf
}

// Split decodes every packet in a websocket message, expanding compressed
// bodies in place. Packets decoded before an error are returned with it.
func Split(data []byte) ([]Packet, error) {
	return split(data, 0)
}

func split(data []byte, depth int) ([]Packet, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(ErrMalformed, "compressed packets nested too deep")
	}
	var out []Packet
	for len(data) > 0 {
		if len(data) < headerSize {
			return out, ErrTruncated
		}
		total := int(binary.BigEndian.Uint32(data[0:4]))
		hdr := int(binary.BigEndian.Uint16(data[4:6]))
		if total < headerSize || hdr < headerSize || hdr > total {
			return out, errors.Wrapf(ErrMalformed, "length %d header %d", total, hdr)
		}
		if total > len(data) {
			return out, ErrTruncated
		}
		p := Packet{
			Version: binary.BigEndian.Uint16(data[6:8]),
			Op:      binary.BigEndian.Uint32(data[8:12]),
			Seq:     binary.BigEndian.Uint32(data[12:16]),
			Body:    data[hdr:total],
		}
		data = data[total:]

		if p.Op != OpMessage || (p.Version != VerZlib && p.Version != VerBrotli) {
			out = append(out, p)
			continue
		}
		inflated, err := inflate(p.Version, p.Body)
		if err != nil {
			return out, err
		}
		nested, err := split(inflated, depth+1)
		out = append(out, nested...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func inflate(ver uint16, body []byte) ([]byte, error) {
	var r io.Reader
	switch ver {
	case VerZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "zlib header")
		}
		defer zr.Close()
		r = zr
	case VerBrotli:
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, nil
	}
	out, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "inflate version %d body", ver)
	}
	if len(out) > maxInflatedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}
