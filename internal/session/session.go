// Package session describes what a listener needs to open a room socket and
// how each platform obtains it.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/chen-zeong/dtv/internal/message"
)

// DefaultUserAgent is sent when the configuration names none.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

// ErrRoomNotFound is returned when a platform reports no such room.
var ErrRoomNotFound = errors.New("room not found")

// RoomSession is the bootstrap result for one room: where to connect and the
// opaque tokens the platform protocol needs to register.
type RoomSession struct {
	Platform  message.Platform
	RoomID    string            // the id events are tagged with
	Endpoint  string            // websocket URL, may be empty when the protocol builds it
	Cookies   string            // Cookie header value
	Tokens    map[string]string // platform specific: ttwid, user_unique_id, token, buvid3, ayyuid...
	UserAgent string
}

// Token returns a token or "".
func (s *RoomSession) Token(name string) string {
	if s.Tokens == nil {
		return ""
	}
	return s.Tokens[name]
}

// SetToken stores a token, allocating the map on first use.
func (s *RoomSession) SetToken(name, value string) {
	if s.Tokens == nil {
		s.Tokens = make(map[string]string)
	}
	s.Tokens[name] = value
}

// Bootstrapper resolves a user-facing room id into a RoomSession.
type Bootstrapper interface {
	// ResolveRoom maps a public room id (web rid, short id...) to the ids the
	// socket expects.
	ResolveRoom(ctx context.Context, roomID string) (*RoomSession, error)
	// HarvestCookies fills the anonymous cookies the socket checks.
	HarvestCookies(ctx context.Context, s *RoomSession) error
}

// Bootstrap runs ResolveRoom then HarvestCookies.
func Bootstrap(ctx context.Context, b Bootstrapper, roomID string) (*RoomSession, error) {
	s, err := b.ResolveRoom(ctx, roomID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve room %s", roomID)
	}
	if err := b.HarvestCookies(ctx, s); err != nil {
		return nil, errors.Wrapf(err, "harvest cookies for room %s", roomID)
	}
	return s, nil
}

// Static is a Bootstrapper returning a pre-resolved session, for platforms or
// deployments where everything is known up front.
type Static struct {
	Session RoomSession
}

// ResolveRoom returns a copy of the static session.
func (s *Static) ResolveRoom(_ context.Context, roomID string) (*RoomSession, error) {
	out := s.Session
	if out.RoomID == "" {
		out.RoomID = roomID
	}
	out.Tokens = make(map[string]string, len(s.Session.Tokens))
	for k, v := range s.Session.Tokens {
		out.Tokens[k] = v
	}
	return &out, nil
}

// HarvestCookies is a no-op.
func (s *Static) HarvestCookies(context.Context, *RoomSession) error { return nil }

// HTTPClient returns the client bootstrappers share when none is configured.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
