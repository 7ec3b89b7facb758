// Package douyin speaks the douyin webcast push socket: protobuf PushFrames
// carrying gzip compressed Response batches that must be acknowledged.
package douyin

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	PayloadTypeMessage   = "msg"
	PayloadTypeAck       = "ack"
	PayloadTypeHeartbeat = "hb"

	MethodChat = "WebcastChatMessage"

	maxInflatedSize = 8 << 20
)

var (
	ErrMalformed = errors.New("douyin: malformed protobuf")
	ErrTooLarge  = errors.New("douyin: payload exceeds size limit")
)

// PushFrame is the outermost message on the socket.
type PushFrame struct {
	SeqID           uint64
	LogID           uint64
	Service         uint64
	Method          uint64
	Headers         map[string]string
	PayloadEncoding string
	PayloadType     string
	Payload         []byte
}

// Marshal encodes f, omitting zero fields.
func (f *PushFrame) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, f.SeqID)
	b = appendVarint(b, 2, f.LogID)
	b = appendVarint(b, 3, f.Service)
	b = appendVarint(b, 4, f.Method)
	for k, v := range f.Headers {
		var h []byte
		h = appendString(h, 1, k)
		h = appendString(h, 2, v)
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, h)
	}
	b = appendString(b, 6, f.PayloadEncoding)
	b = appendString(b, 7, f.PayloadType)
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

// DecodePushFrame parses a PushFrame.
func DecodePushFrame(data []byte) (*PushFrame, error) {
	f := &PushFrame{}
	err := walk(data, func(fd field) error {
		switch fd.num {
		case 1:
			f.SeqID = fd.varint
		case 2:
			f.LogID = fd.varint
		case 3:
			f.Service = fd.varint
		case 4:
			f.Method = fd.varint
		case 5:
			var k, v string
			if err := walk(fd.bytes, func(h field) error {
				switch h.num {
				case 1:
					k = string(h.bytes)
				case 2:
					v = string(h.bytes)
				}
				return nil
			}); err != nil {
				return errors.Wrap(err, "header")
			}
			if f.Headers == nil {
				f.Headers = make(map[string]string)
			}
			f.Headers[k] = v
		case 6:
			f.PayloadEncoding = string(fd.bytes)
		case 7:
			f.PayloadType = string(fd.bytes)
		case 8:
			f.Payload = fd.bytes
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "push frame")
	}
	return f, nil
}

// Inflate returns the decompressed payload. Payloads are gzip when the
// compress_type header says so or when they carry the gzip magic.
func (f *PushFrame) Inflate() ([]byte, error) {
	p := f.Payload
	gz := f.Headers["compress_type"] == "gzip" || (len(p) >= 2 && p[0] == 0x1f && p[1] == 0x8b)
	if !gz {
		return p, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, errors.Wrap(err, "gzip header")
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "gzip body")
	}
	if len(out) > maxInflatedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// Response is the batch carried by a "msg" frame.
type Response struct {
	Messages          []Message
	Cursor            string
	FetchInterval     uint64
	Now               uint64
	InternalExt       string
	HeartbeatDuration uint64
	NeedAck           bool
}

// Message is one entry of a Response.
type Message struct {
	Method  string
	Payload []byte
	MsgID   int64
}

// DecodeResponse parses a decompressed Response. Messages are kept even
// when their payload is never decoded.
func DecodeResponse(data []byte) (*Response, error) {
	r := &Response{}
	err := walk(data, func(fd field) error {
		switch fd.num {
		case 1:
			var m Message
			if err := walk(fd.bytes, func(mf field) error {
				switch mf.num {
				case 1:
					m.Method = string(mf.bytes)
				case 2:
					m.Payload = mf.bytes
				case 3:
					m.MsgID = int64(mf.varint)
				}
				return nil
			}); err != nil {
				return errors.Wrap(err, "message")
			}
			r.Messages = append(r.Messages, m)
		case 2:
			r.Cursor = string(fd.bytes)
		case 3:
			r.FetchInterval = fd.varint
		case 4:
			r.Now = fd.varint
		case 5:
			r.InternalExt = string(fd.bytes)
		case 8:
			r.HeartbeatDuration = fd.varint
		case 9:
			r.NeedAck = fd.varint != 0
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "response")
	}
	return r, nil
}

// User is the sender block of a chat message.
type User struct {
	ID            uint64
	Nickname      string
	PayLevel      int
	FansClubName  string
	FansClubLevel int
}

// ChatMessage is a WebcastChatMessage payload.
type ChatMessage struct {
	User    User
	Content string
}

// DecodeChat parses a WebcastChatMessage payload.
func DecodeChat(data []byte) (*ChatMessage, error) {
	c := &ChatMessage{}
	err := walk(data, func(fd field) error {
		switch fd.num {
		case 2:
			u, err := decodeUser(fd.bytes)
			if err != nil {
				return err
			}
			c.User = u
		case 3:
			c.Content = string(fd.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat message")
	}
	return c, nil
}

func decodeUser(data []byte) (User, error) {
	var u User
	err := walk(data, func(fd field) error {
		switch fd.num {
		case 1:
			u.ID = fd.varint
		case 3:
			u.Nickname = string(fd.bytes)
		case 21:
			return walk(fd.bytes, func(g field) error {
				if g.num == 6 {
					u.PayLevel = int(g.varint)
				}
				return nil
			})
		case 22:
			return walk(fd.bytes, func(club field) error {
				if club.num != 1 {
					return nil
				}
				return walk(club.bytes, func(d field) error {
					switch d.num {
					case 1:
						u.FansClubName = string(d.bytes)
					case 2:
						u.FansClubLevel = int(d.varint)
					}
					return nil
				})
			})
		}
		return nil
	})
	if err != nil {
		return User{}, errors.Wrap(err, "user")
	}
	return u, nil
}

// field is one decoded protobuf field. Only varint and length-delimited
// values are captured; other wire types are skipped.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
