package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer replies to every data message with the same bytes and reports
// pings on the returned channel.
func echoServer(t *testing.T) (string, <-chan string, <-chan http.Header) {
	t.Helper()
	pings := make(chan string, 8)
	headers := make(chan http.Header, 1)
	up := websocket.Upgrader{Subprotocols: []string{"binary"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.SetPingHandler(func(data string) error {
			pings <- data
			return nil
		})
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), pings, headers
}

func TestDialWritesRegistrationFirst(t *testing.T) {
	url, _, headers := echoServer(t)
	h := http.Header{}
	h.Set("Cookie", "ttwid=abc")

	c, err := Dial(context.Background(), Options{
		URL:          url,
		Header:       h,
		Subprotocols: []string{"binary"},
		Register: []Frame{
			{Kind: Binary, Data: []byte("login")},
			{Kind: Binary, Data: []byte("join")},
		},
	})
	require.NoError(t, err)
	defer c.Close()

	got := <-headers
	assert.Equal(t, "ttwid=abc", got.Get("Cookie"))

	first, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "login", string(first))
	second, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "join", string(second))
}

func TestSendGoesThroughWriter(t *testing.T) {
	url, pings, _ := echoServer(t)
	c, err := Dial(context.Background(), Options{URL: url, QueueSize: 2})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writerDone := make(chan error, 1)
	go func() { writerDone <- c.RunWriter(ctx) }()

	require.NoError(t, c.Send(ctx, Frame{Kind: Ping, Data: []byte("hb")}))
	require.NoError(t, c.Send(ctx, Frame{Kind: Binary, Data: []byte("ack")}))

	select {
	case p := <-pings:
		assert.Equal(t, "hb", p)
	case <-time.After(5 * time.Second):
		t.Fatal("ping not received")
	}
	data, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "ack", string(data))

	cancel()
	assert.ErrorIs(t, <-writerDone, context.Canceled)
}

func TestSendAfterClose(t *testing.T) {
	url, _, _ := echoServer(t)
	c, err := Dial(context.Background(), Options{URL: url})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.Closed())

	err = c.Send(context.Background(), Frame{Kind: Binary, Data: []byte("x")})
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = c.Read()
	assert.True(t, errors.Is(err, ErrClosed))

	assert.True(t, errors.Is(c.RunWriter(context.Background()), ErrClosed))
}

func TestSendBlocksOnFullQueue(t *testing.T) {
	url, _, _ := echoServer(t)
	c, err := Dial(context.Background(), Options{URL: url, QueueSize: 1})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), Frame{Data: []byte("1")}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Send(ctx, Frame{Data: []byte("2")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?signature=secret"
	defer srv.Close()

	_, err := Dial(context.Background(), Options{URL: url, HandshakeTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDial))
	assert.NotContains(t, err.Error(), "secret")
}
