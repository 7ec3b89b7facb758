package listener

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/chen-zeong/dtv/internal/message"
)

// State is the lifecycle position of a listener.
type State int32

const (
	Connecting State = iota
	Registered
	Streaming
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Registered:
		return "registered"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Key identifies a listener. At most one live listener exists per key.
type Key struct {
	Platform message.Platform
	RoomID   string
}

func (k Key) String() string { return string(k.Platform) + "/" + k.RoomID }

// Handle is the caller's view of one listener.
type Handle struct {
	key       Key
	connID    string
	startedAt time.Time

	state  atomic.Int32
	events atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
	err    error // written once before done is closed
}

func newHandle(key Key, cancel context.CancelFunc) *Handle {
	return &Handle{
		key:       key,
		connID:    uuid.NewString(),
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Key returns the platform and room of the listener.
func (h *Handle) Key() Key { return h.key }

// ConnID is a unique id for this connection attempt.
func (h *Handle) ConnID() string { return h.connID }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Events is the number of events delivered to the sink so far.
func (h *Handle) Events() uint64 { return h.events.Load() }

// Done is closed when the listener reaches Closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal error once Done is closed: ErrStopped after a
// cancellation, the failure cause otherwise. It returns nil before that.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop cancels the listener and waits for it to close.
func (h *Handle) Stop() error {
	h.cancel()
	<-h.done
	return h.err
}

func (h *Handle) setState(s State) { h.state.Store(int32(s)) }

func (h *Handle) finish(err error) {
	h.err = err
	h.setState(Closed)
	close(h.done)
}
