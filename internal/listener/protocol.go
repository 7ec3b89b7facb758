package listener

import (
	"time"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/transport"
)

// Heartbeat is the keep-alive a platform expects. The frame is queued once
// right after registration and then every Interval. A zero Interval disables
// it.
type Heartbeat struct {
	Frame    transport.Frame
	Interval time.Duration
}

// Result is what one inbound WebSocket message decodes into.
type Result struct {
	Events  []message.Event
	Control []transport.Frame // replies such as acks, queued before the events are delivered
}

// Protocol binds a platform's wire format to the generic listener loop.
// Implementations are stateless; all per-room data lives in the session.
type Protocol interface {
	Platform() message.Platform

	// Connect returns the endpoint, headers and registration frames for s.
	Connect(s *session.RoomSession) (transport.Options, error)

	Heartbeat(s *session.RoomSession) Heartbeat

	// Decode turns one inbound message into events and control frames. It
	// may return a partial Result together with an error when only some of
	// the packets in the message were malformed. It must not panic.
	Decode(s *session.RoomSession, data []byte) (Result, error)
}
