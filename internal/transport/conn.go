// Package transport owns the WebSocket of one room listener. All writes go
// through a single writer goroutine fed by a bounded queue, so heartbeat and
// ack producers never touch the socket directly.
package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Kind selects the WebSocket message type of an outbound frame.
type Kind int

const (
	Binary Kind = iota
	Text
	Ping
)

func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Text:
		return "text"
	case Ping:
		return "ping"
	}
	return "unknown"
}

// Frame is one outbound message.
type Frame struct {
	Kind Kind
	Data []byte
}

var (
	// ErrClosed is returned by Send and Read once the connection is torn down.
	ErrClosed = errors.New("transport: connection closed")
	// ErrDial wraps handshake failures.
	ErrDial = errors.New("transport: dial failed")
)

const (
	DefaultQueueSize        = 16
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Options configures Dial.
type Options struct {
	URL              string
	Header           http.Header
	Subprotocols     []string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	QueueSize        int
	// Register frames are written in order right after the handshake, before
	// Dial returns.
	Register []Frame
}

// Conn is a dialed WebSocket with a bounded outbound queue.
type Conn struct {
	ws           *websocket.Conn
	queue        chan Frame
	done         chan struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
}

// Dial opens the socket and writes the registration frames. Any failure is
// returned as is; retrying is the caller's decision.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  hs,
		Subprotocols:      opts.Subprotocols,
		EnableCompression: false,
	}
	ws, resp, err := dialer.DialContext(ctx, opts.URL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(ErrDial, "%s: status %d: %v", redact(opts.URL), resp.StatusCode, err)
		}
		return nil, errors.Wrapf(ErrDial, "%s: %v", redact(opts.URL), err)
	}

	qs := opts.QueueSize
	if qs <= 0 {
		qs = DefaultQueueSize
	}
	wt := opts.WriteTimeout
	if wt <= 0 {
		wt = DefaultWriteTimeout
	}
	c := &Conn{
		ws:           ws,
		queue:        make(chan Frame, qs),
		done:         make(chan struct{}),
		writeTimeout: wt,
	}
	for i, f := range opts.Register {
		if err := c.write(f); err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "write registration frame %d", i)
		}
	}
	return c, nil
}

// Send queues f for the writer. It blocks while the queue is full and fails
// fast with ErrClosed once the connection is closed.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.queue <- f:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunWriter drains the queue until ctx ends, the connection closes, or a
// write fails. Exactly one RunWriter may run per Conn.
func (c *Conn) RunWriter(ctx context.Context) error {
	for {
		select {
		case f := <-c.queue:
			if err := c.write(f); err != nil {
				return errors.Wrapf(err, "write %s frame", f.Kind)
			}
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Read returns the next data message. Control frames are handled by the
// underlying library.
func (c *Conn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return nil, errors.Wrap(err, "read message")
	}
	return data, nil
}

// Close tears the socket down. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) write(f Frame) error {
	deadline := time.Now().Add(c.writeTimeout)
	switch f.Kind {
	case Ping:
		return c.ws.WriteControl(websocket.PingMessage, f.Data, deadline)
	case Text:
		_ = c.ws.SetWriteDeadline(deadline)
		return c.ws.WriteMessage(websocket.TextMessage, f.Data)
	default:
		_ = c.ws.SetWriteDeadline(deadline)
		return c.ws.WriteMessage(websocket.BinaryMessage, f.Data)
	}
}

// redact drops the query string, which carries signatures and cookies.
func redact(raw string) string {
	base, _, _ := strings.Cut(raw, "?")
	return base
}
