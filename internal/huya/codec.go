// Package huya speaks the huya danmaku socket: Tars encoded pushes wrapped in
// a websocket command envelope.
package huya

import (
	"github.com/pkg/errors"

	"github.com/chen-zeong/dtv/internal/tars"
)

const (
	cmdRegister = 16
	cmdPush     = 7

	uriChat = 1400

	defaultColor = 16777215
)

// ErrNotPush is returned for envelopes that do not carry a push message.
var ErrNotPush = errors.New("huya: not a push envelope")

// heartbeat is the keep-alive frame the web player sends. It is opaque to
// us: cmd 3 wrapping a serialized OnUserHeartBeat request.
var heartbeat = []byte{
	0x00, 0x03, 0x1d, 0x00, 0x00, 0x69, 0x00, 0x00, 0x00, 0x69, 0x10, 0x03,
	0x2c, 0x3c, 0x4c, 0x56, 0x08, 0x6f, 0x6e, 0x6c, 0x69, 0x6e, 0x65, 0x75,
	0x69, 0x66, 0x0f, 0x4f, 0x6e, 0x55, 0x73, 0x65, 0x72, 0x48, 0x65, 0x61,
	0x72, 0x74, 0x42, 0x65, 0x61, 0x74, 0x7d, 0x00, 0x00, 0x3c, 0x08, 0x00,
	0x01, 0x06, 0x04, 0x74, 0x52, 0x65, 0x71, 0x1d, 0x00, 0x00, 0x2f, 0x0a,
	0x0a, 0x0c, 0x16, 0x00, 0x26, 0x00, 0x36, 0x07, 0x61, 0x64, 0x72, 0x5f,
	0x77, 0x61, 0x70, 0x46, 0x00, 0x0b, 0x12, 0x03, 0xae, 0xf0, 0x0f, 0x22,
	0x03, 0xae, 0xf0, 0x0f, 0x3c, 0x42, 0x6d, 0x52, 0x02, 0x60, 0x5c, 0x60,
	0x01, 0x7c, 0x82, 0x00, 0x0b, 0xb0, 0x1f, 0x9c, 0xac, 0x0b, 0x8c, 0x98,
	0x0c, 0xa8, 0x0c,
}

// Heartbeat returns a copy of the keep-alive frame.
func Heartbeat() []byte {
	out := make([]byte, len(heartbeat))
	copy(out, heartbeat)
	return out
}

// EncodeRegister builds the command that subscribes to the live and chat
// groups of a presenter uid.
func EncodeRegister(uid string) []byte {
	inner := tars.NewWriter()
	inner.WriteStrings(0, []string{"live:" + uid, "chat:" + uid})
	inner.WriteString(1, "")

	cmd := tars.NewWriter()
	cmd.WriteInt(0, cmdRegister)
	cmd.WriteBytes(1, inner.Bytes())
	return cmd.Bytes()
}

// DecodePush unwraps a cmd 7 envelope into its uri and payload.
func DecodePush(data []byte) (uri int64, payload []byte, err error) {
	top, err := tars.NewReader(data)
	if err != nil {
		return 0, nil, errors.Wrap(err, "envelope")
	}
	cmd, err := top.Int(0, -1)
	if err != nil {
		return 0, nil, errors.Wrap(err, "envelope cmd")
	}
	if cmd != cmdPush {
		return cmd, nil, ErrNotPush
	}
	body, err := top.Bytes(1)
	if err != nil {
		return 0, nil, errors.Wrap(err, "push body")
	}
	push, err := tars.NewReader(body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "push")
	}
	if uri, err = push.Int(1, -1); err != nil {
		return 0, nil, errors.Wrap(err, "push uri")
	}
	if payload, err = push.Bytes(2); err != nil {
		return 0, nil, errors.Wrap(err, "push payload")
	}
	return uri, payload, nil
}

// Sender is the user block of a chat push.
type Sender struct {
	UID    int64
	IMID   int64
	Name   string
	Gender int64
}

// ChatMessage is a decoded uri 1400 payload.
type ChatMessage struct {
	Sender Sender
	Text   string
	Color  int64
}

var anonymousSender = Sender{UID: -1, IMID: -1, Gender: 1}

// DecodeChat reads a uri 1400 payload. A damaged sender or format block
// falls back to defaults; only the outer struct must be well formed.
func DecodeChat(payload []byte) (ChatMessage, error) {
	msg := ChatMessage{Sender: anonymousSender, Color: defaultColor}
	r, err := tars.NewReader(payload)
	if err != nil {
		return msg, errors.Wrap(err, "chat")
	}

	if user, ok, err := r.Struct(0); err == nil && ok {
		if s, err := decodeSender(user); err == nil {
			msg.Sender = s
		}
	}
	if msg.Text, err = r.String(3, ""); err != nil {
		return msg, errors.Wrap(err, "chat text")
	}
	if format, ok, err := r.Struct(6); err == nil && ok {
		if c, err := format.Int(0, defaultColor); err == nil {
			msg.Color = c
		}
	}
	return msg, nil
}

func decodeSender(r *tars.Reader) (s Sender, err error) {
	if s.UID, err = r.Int(0, -1); err != nil {
		return s, err
	}
	if s.IMID, err = r.Int(1, -1); err != nil {
		return s, err
	}
	if s.Name, err = r.String(2, ""); err != nil {
		return s, err
	}
	s.Gender, err = r.Int(3, -1)
	return s, err
}
