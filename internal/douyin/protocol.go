package douyin

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/chen-zeong/dtv/internal/listener"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/signature"
	"github.com/chen-zeong/dtv/internal/transport"
)

// Session tokens set by the Bootstrapper.
const (
	TokenRoomID       = "room_id"
	TokenTTWID        = "ttwid"
	TokenUserUniqueID = "user_unique_id"
)

const HeartbeatInterval = 5 * time.Second

// Protocol implements listener.Protocol for douyin.
type Protocol struct {
	Now    func() time.Time
	Random func() float64
}

var _ listener.Protocol = (*Protocol)(nil)

func (p *Protocol) Platform() message.Platform { return message.Douyin }

// Connect signs a fresh push URL. Douyin needs no registration frame; the
// room is part of the URL.
func (p *Protocol) Connect(s *session.RoomSession) (transport.Options, error) {
	roomID := s.Token(TokenRoomID)
	if roomID == "" {
		return transport.Options{}, errors.Wrap(signature.ErrMissingField, "douyin: session has no numeric room id")
	}
	ua := s.UserAgent
	if ua == "" {
		ua = session.DefaultUserAgent
	}

	signer := signature.NewABogus(ua)
	signer.Now = p.Now
	signer.Random = p.Random
	endpoint := PushURL(PushQuery{RoomID: roomID, UserAgent: ua, Now: p.now()}, signer.Sign)

	header := http.Header{}
	header.Set("User-Agent", ua)
	if ttwid := s.Token(TokenTTWID); ttwid != "" {
		header.Set("Cookie", "ttwid="+ttwid)
	} else if s.Cookies != "" {
		header.Set("Cookie", s.Cookies)
	}
	return transport.Options{URL: endpoint, Header: header}, nil
}

// Heartbeat is an "hb" PushFrame carried in a websocket ping.
func (p *Protocol) Heartbeat(*session.RoomSession) listener.Heartbeat {
	hb := &PushFrame{PayloadType: PayloadTypeHeartbeat}
	return listener.Heartbeat{
		Frame:    transport.Frame{Kind: transport.Ping, Data: hb.Marshal()},
		Interval: HeartbeatInterval,
	}
}

// Decode acknowledges the batch when asked to, whatever it contains, and
// turns every chat message in it into an event. A damaged chat message is
// skipped and reported; the rest of the batch still decodes.
func (p *Protocol) Decode(s *session.RoomSession, data []byte) (listener.Result, error) {
	var res listener.Result
	frame, err := DecodePushFrame(data)
	if err != nil {
		return res, err
	}
	if frame.PayloadType != "" && frame.PayloadType != PayloadTypeMessage {
		return res, nil
	}
	payload, err := frame.Inflate()
	if err != nil {
		return res, err
	}
	resp, err := DecodeResponse(payload)
	if err != nil {
		return res, err
	}

	if resp.NeedAck {
		ack := &PushFrame{LogID: frame.LogID, PayloadType: PayloadTypeAck, Payload: []byte(resp.InternalExt)}
		res.Control = append(res.Control, transport.Frame{Kind: transport.Binary, Data: ack.Marshal()})
	}

	var firstErr error
	at := p.now()
	for _, m := range resp.Messages {
		if m.Method != MethodChat {
			continue
		}
		chat, err := DecodeChat(m.Payload)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "message %d", m.MsgID)
			}
			continue
		}
		if ev, ok := ToEvent(s.RoomID, chat, at); ok {
			res.Events = append(res.Events, ev)
		}
	}
	return res, firstErr
}

func (p *Protocol) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
