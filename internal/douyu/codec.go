// Package douyu speaks the douyu danmaku socket. Every packet carries a
// "key@=value/" serialized message behind a small little-endian header.
package douyu

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

const (
	// MarkerClient tags packets we send; the server uses MarkerServer.
	MarkerClient = 689
	MarkerServer = 690

	headerSize = 12
	// The length field counts the second length, marker, the two reserved
	// bytes, the payload and the trailing NUL.
	lengthOverhead = 9

	maxPacketSize = 1 << 20
)

var (
	ErrTruncated = errors.New("douyu: truncated packet")
	ErrMalformed = errors.New("douyu: malformed packet")
)

// Message is one decoded key/value message. Keys keep their wire order.
type Message struct {
	keys   []string
	values map[string]string
}

// NewMessage builds a message from alternating key, value arguments.
func NewMessage(kv ...string) *Message {
	m := &Message{values: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

// Set adds or replaces a field.
func (m *Message) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns a field or "".
func (m *Message) Get(key string) string { return m.values[key] }

// Lookup returns a field and whether it was present.
func (m *Message) Lookup(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Type is the "type" field.
func (m *Message) Type() string { return m.values["type"] }

// Keys returns the field names in order.
func (m *Message) Keys() []string { return m.keys }

// Serialize renders the "key@=value/" body with both sides escaped.
func (m *Message) Serialize() string {
	var sb strings.Builder
	for _, k := range m.keys {
		sb.WriteString(Escape(k))
		sb.WriteString("@=")
		sb.WriteString(Escape(m.values[k]))
		sb.WriteByte('/')
	}
	return sb.String()
}

var (
	escaper   = strings.NewReplacer("@", "@A", "/", "@S")
	unescaper = strings.NewReplacer("@S", "/", "@A", "@")
)

// Escape encodes "@" as "@A" and "/" as "@S".
func Escape(s string) string { return escaper.Replace(s) }

// Unescape reverses Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// Parse reads a serialized body. A non-empty segment without "@=" makes the
// whole body malformed.
func Parse(body string) (*Message, error) {
	m := &Message{values: make(map[string]string)}
	for _, seg := range strings.Split(body, "/") {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "@=")
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "segment %q", seg)
		}
		m.Set(Unescape(k), Unescape(v))
	}
	return m, nil
}

// Encode frames a serialized body as a client packet.
func Encode(body string) []byte {
	n := len(body) + lengthOverhead
	out := make([]byte, 0, 4+n)
	out = binary.LittleEndian.AppendUint32(out, uint32(n))
	out = binary.LittleEndian.AppendUint32(out, uint32(n))
	out = binary.LittleEndian.AppendUint16(out, MarkerClient)
	out = append(out, 0, 0)
	out = append(out, body...)
	return append(out, 0)
}

// EncodeMessage frames m as a client packet.
func EncodeMessage(m *Message) []byte { return Encode(m.Serialize()) }

// Packet is one framed body split from a websocket message.
type Packet struct {
	Marker uint16
	Body   string
}

// Split walks every packet concatenated in data. It stops at the first
// framing error and returns what it read so far together with the error.
func Split(data []byte) ([]Packet, error) {
	var out []Packet
	for pos := 0; pos < len(data); {
		if len(data)-pos < headerSize {
			return out, errors.Wrapf(ErrTruncated, "header at %d", pos)
		}
		n := int(binary.LittleEndian.Uint32(data[pos:]))
		if n != int(binary.LittleEndian.Uint32(data[pos+4:])) {
			return out, errors.Wrapf(ErrMalformed, "length mismatch at %d", pos)
		}
		if n < lengthOverhead || n > maxPacketSize {
			return out, errors.Wrapf(ErrMalformed, "length %d at %d", n, pos)
		}
		end := pos + 4 + n
		if end > len(data) {
			return out, errors.Wrapf(ErrTruncated, "packet at %d wants %d bytes", pos, n)
		}
		body := data[pos+headerSize : end]
		if body[len(body)-1] != 0 {
			return out, errors.Wrapf(ErrMalformed, "packet at %d is not NUL terminated", pos)
		}
		body = body[:len(body)-1]
		out = append(out, Packet{
			Marker: binary.LittleEndian.Uint16(data[pos+8:]),
			Body:   string(body),
		})
		pos = end
	}
	return out, nil
}
