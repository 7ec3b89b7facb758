package huya

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
	// Endpoint is the public danmaku socket.
	Endpoint = "wss://cdnws.api.huya.com"

	// TokenPresenterUID is the session token holding the presenter uid the
	// registration subscribes to.
	TokenPresenterUID = "ayyuid"

	HeartbeatInterval = 20 * time.Second
)

// Protocol implements listener.Protocol for huya.
type Protocol struct {
	Now func() time.Time
}

var _ listener.Protocol = (*Protocol)(nil)

func (p *Protocol) Platform() message.Platform { return message.Huya }

func (p *Protocol) Connect(s *session.RoomSession) (transport.Options, error) {
	uid := s.Token(TokenPresenterUID)
	if uid == "" {
		uid = s.RoomID
	}
	if uid == "" {
		return transport.Options{}, errors.New("huya: session has neither presenter uid nor room id")
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
		URL:      endpoint,
		Header:   header,
		Register: []transport.Frame{{Kind: transport.Binary, Data: EncodeRegister(uid)}},
	}, nil
}

func (p *Protocol) Heartbeat(*session.RoomSession) listener.Heartbeat {
	return listener.Heartbeat{
		Frame:    transport.Frame{Kind: transport.Binary, Data: Heartbeat()},
		Interval: HeartbeatInterval,
	}
}

// Decode yields at most one chat event per message. Envelopes other than
// chat pushes decode to an empty result.
func (p *Protocol) Decode(s *session.RoomSession, data []byte) (listener.Result, error) {
	uri, payload, err := DecodePush(data)
	if errors.Is(err, ErrNotPush) {
		return listener.Result{}, nil
	}
	if err != nil {
		return listener.Result{}, err
	}
	if uri != uriChat {
		return listener.Result{}, nil
	}
	msg, err := DecodeChat(payload)
	if err != nil {
		return listener.Result{}, err
	}
	ev, ok := ToEvent(s.RoomID, msg, p.now())
	if !ok {
		return listener.Result{}, nil
	}
	return listener.Result{Events: []message.Event{ev}}, nil
}

func (p *Protocol) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
