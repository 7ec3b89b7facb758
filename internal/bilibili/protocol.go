package bilibili

import (
	"encoding/json"
	"net/http"
	"strconv"
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
	TokenRoomID = "room_id" // real (long) room id
	TokenKey    = "token"   // getDanmuInfo auth key
	TokenUID    = "uid"
	TokenBuvid  = "buvid3"
)

const (
	Endpoint          = "wss://broadcastlv.chat.bilibili.com/sub"
	HeartbeatInterval = 30 * time.Second

	protoVersion = 3
	origin       = "https://live.bilibili.com"
)

// ErrAuthRejected is returned when the op 8 reply carries a non-zero code.
var ErrAuthRejected = errors.New("bilibili: auth rejected")

type authBody struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Buvid    string `json:"buvid,omitempty"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key,omitempty"`
}

// Protocol implements listener.Protocol for bilibili.
type Protocol struct {
	Now func() time.Time
}

var _ listener.Protocol = (*Protocol)(nil)

func (p *Protocol) Platform() message.Platform { return message.Bilibili }

// Connect registers with an op 7 auth packet naming the real room id.
func (p *Protocol) Connect(s *session.RoomSession) (transport.Options, error) {
	roomID, err := strconv.ParseInt(s.Token(TokenRoomID), 10, 64)
	if err != nil || roomID <= 0 {
		return transport.Options{}, errors.Wrap(signature.ErrMissingField, "bilibili: session has no numeric room id")
	}
	uid, _ := strconv.ParseInt(s.Token(TokenUID), 10, 64)

	body, err := json.Marshal(authBody{
		UID:      uid,
		RoomID:   roomID,
		ProtoVer: protoVersion,
		Buvid:    s.Token(TokenBuvid),
		Platform: "web",
		Type:     2,
		Key:      s.Token(TokenKey),
	})
	if err != nil {
		return transport.Options{}, errors.Wrap(err, "encode auth body")
	}

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = Endpoint
	}
	ua := s.UserAgent
	if ua == "" {
		ua = session.DefaultUserAgent
	}
	header := http.Header{}
	header.Set("User-Agent", ua)
	header.Set("Origin", origin)
	if s.Cookies != "" {
		header.Set("Cookie", s.Cookies)
	}
	return transport.Options{
		URL:      endpoint,
		Header:   header,
		Register: []transport.Frame{{Kind: transport.Binary, Data: Encode(OpAuth, VerInt, 1, body)}},
	}, nil
}

// Heartbeat is the op 2 packet the web player sends.
func (p *Protocol) Heartbeat(*session.RoomSession) listener.Heartbeat {
	return listener.Heartbeat{
		Frame:    transport.Frame{Kind: transport.Binary, Data: Encode(OpHeartbeat, VerInt, 1, []byte("[object Object]"))},
		Interval: HeartbeatInterval,
	}
}

// Decode expands the message and converts every op 5 command. The first
// error is returned once the remaining packets have been decoded.
func (p *Protocol) Decode(s *session.RoomSession, data []byte) (listener.Result, error) {
	var res listener.Result
	packets, firstErr := Split(data)
	at := p.now()
	for _, pk := range packets {
		switch pk.Op {
		case OpAuthReply:
			if err := checkAuthReply(pk.Body); err != nil && firstErr == nil {
				firstErr = err
			}
		case OpMessage:
			ev, ok, err := ToEvent(s.RoomID, pk.Body, at)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				res.Events = append(res.Events, ev)
			}
		}
	}
	return res, firstErr
}

func checkAuthReply(body []byte) error {
	var reply struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return errors.Wrap(err, "decode auth reply")
	}
	if reply.Code != 0 {
		return errors.Wrapf(ErrAuthRejected, "code %d", reply.Code)
	}
	return nil
}

func (p *Protocol) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
