package douyu

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/chen-zeong/dtv/internal/listener"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/transport"
)

const (
	Endpoint = "wss://danmuproxy.douyu.com:8506/"

	// TokenRoomID holds the canonical numeric room id when the public id is
	// a vanity alias.
	TokenRoomID = "room_id"

	HeartbeatInterval = 45 * time.Second
)

// Protocol implements listener.Protocol for douyu.
type Protocol struct {
	Now func() time.Time
}

var _ listener.Protocol = (*Protocol)(nil)

func (p *Protocol) Platform() message.Platform { return message.Douyu }

func (p *Protocol) Connect(s *session.RoomSession) (transport.Options, error) {
	rid := s.Token(TokenRoomID)
	if rid == "" {
		rid = s.RoomID
	}
	if rid == "" {
		return transport.Options{}, errors.New("douyu: session has no room id")
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = Endpoint
	}
	header := http.Header{}
	if s.UserAgent != "" {
		header.Set("User-Agent", s.UserAgent)
	}
	return transport.Options{
		URL:          endpoint,
		Header:       header,
		Subprotocols: []string{"binary"},
		Register: []transport.Frame{
			{Kind: transport.Binary, Data: EncodeMessage(NewMessage("type", "loginreq", "roomid", rid))},
			{Kind: transport.Binary, Data: EncodeMessage(NewMessage("type", "joingroup", "rid", rid, "gid", "1"))},
		},
	}, nil
}

func (p *Protocol) Heartbeat(*session.RoomSession) listener.Heartbeat {
	return listener.Heartbeat{
		Frame:    transport.Frame{Kind: transport.Binary, Data: EncodeMessage(NewMessage("type", "mrkl"))},
		Interval: HeartbeatInterval,
	}
}

// Decode walks every packet in data. A malformed body is skipped and
// reported, the packets after it still decode.
func (p *Protocol) Decode(s *session.RoomSession, data []byte) (listener.Result, error) {
	packets, splitErr := Split(data)
	var (
		res      listener.Result
		firstErr = splitErr
		at       = p.now()
	)
	for i, pkt := range packets {
		m, err := Parse(pkt.Body)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "packet %d", i)
			}
			continue
		}
		if ev, ok := ToEvent(s.RoomID, m, at); ok {
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
