package douyu

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
)

// serverPacket frames body the way the server does, with marker 690.
func serverPacket(body string) []byte {
	b := Encode(body)
	binary.LittleEndian.PutUint16(b[8:], MarkerServer)
	return b
}

func TestEncodeLayout(t *testing.T) {
	b := Encode("type@=mrkl/")
	require.Len(t, b, 4+11+9)
	assert.Equal(t, uint32(20), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(20), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, uint16(689), binary.LittleEndian.Uint16(b[8:]))
	assert.Equal(t, []byte{0, 0}, b[10:12])
	assert.Equal(t, "type@=mrkl/", string(b[12:len(b)-1]))
	assert.Equal(t, byte(0), b[len(b)-1])
}

func TestRoundTrip(t *testing.T) {
	in := NewMessage(
		"type", "chatmsg",
		"nn", "a/b@c",
		"txt", "hello @S world/",
		"k@y", "",
	)
	packets, err := Split(EncodeMessage(in))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, uint16(MarkerClient), packets[0].Marker)

	out, err := Parse(packets[0].Body)
	require.NoError(t, err)
	assert.Equal(t, in.Keys(), out.Keys())
	for _, k := range in.Keys() {
		assert.Equal(t, in.Get(k), out.Get(k), k)
	}
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a@Sb@Ac", Escape("a/b@c"))
	assert.Equal(t, "@AS", Escape("@S"))
	assert.Equal(t, "@S", Unescape("@AS"))
	assert.Equal(t, "a/b@c", Unescape("a@Sb@Ac"))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("type@=chatmsg/garbage/")
	assert.ErrorIs(t, err, ErrMalformed)

	m, err := Parse("type@=mrkl//")
	require.NoError(t, err)
	assert.Equal(t, "mrkl", m.Type())
}

func TestSplitConcatenated(t *testing.T) {
	var data []byte
	data = append(data, serverPacket("type@=uenter/uid@=1/")...)
	data = append(data, serverPacket("type@=chatmsg/txt@=hi/")...)
	packets, err := Split(data)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, uint16(MarkerServer), packets[1].Marker)
	assert.Equal(t, "type@=chatmsg/txt@=hi/", packets[1].Body)

	packets, err = Split(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Len(t, packets, 1)
}

func TestSplitLengthMismatch(t *testing.T) {
	b := Encode("type@=mrkl/")
	binary.LittleEndian.PutUint32(b[4:], 99)
	_, err := Split(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSplitMissingTerminator(t *testing.T) {
	good := serverPacket("type@=mrkl/")
	bad := serverPacket("type@=chatmsg/txt@=hi/")
	bad[len(bad)-1] = '/'
	packets, err := Split(append(good, bad...))
	assert.ErrorIs(t, err, ErrMalformed)
	require.Len(t, packets, 1)
	assert.Equal(t, "type@=mrkl/", packets[0].Body)
}

func TestMalformedPacketDoesNotStopLaterOnes(t *testing.T) {
	var data []byte
	data = append(data, serverPacket("type@=chatmsg/broken-segment/")...)
	data = append(data, serverPacket("type@=chatmsg/nn@=viewer/txt@=second/col@=2/level@=12/bnn@=fans/bl@=7/uid@=99/")...)

	p := &Protocol{Now: func() time.Time { return time.Unix(0, 0) }}
	res, err := p.Decode(&session.RoomSession{RoomID: "9999"}, data)
	assert.ErrorIs(t, err, ErrMalformed)
	require.Len(t, res.Events, 1)

	ev := res.Events[0].(*message.ChatEvent)
	assert.Equal(t, "second", ev.Text)
	assert.Equal(t, "viewer", ev.Author)
	assert.Equal(t, "1e87f0", ev.Color)
	assert.Equal(t, 12, ev.Level)
	assert.Equal(t, "fans", ev.BadgeName)
	assert.Equal(t, 7, ev.BadgeLevel)
	assert.Equal(t, "99", ev.UserID)
	assert.Equal(t, "9999", ev.RoomID)
}

func TestToEvent(t *testing.T) {
	at := time.Unix(0, 0)

	ev, ok := ToEvent("1", NewMessage("type", "chatmsg", "txt", "x"), at)
	require.True(t, ok)
	chat := ev.(*message.ChatEvent)
	assert.Equal(t, message.DefaultColor, chat.Color)
	assert.Equal(t, message.Anonymous, chat.Author)
	assert.Equal(t, 0, chat.Level)

	_, ok = ToEvent("1", NewMessage("type", "chatmsg", "nn", "a"), at)
	assert.False(t, ok)

	ev, ok = ToEvent("1", NewMessage("type", "uenter", "uid", "5", "nn", "b", "level", "3"), at)
	require.True(t, ok)
	presence := ev.(*message.PresenceEvent)
	assert.Equal(t, message.KindPresence, presence.Kind())
	assert.Equal(t, "5", presence.UserID)
	assert.Equal(t, 3, presence.Level)

	_, ok = ToEvent("1", NewMessage("type", "dgb"), at)
	assert.False(t, ok)
}

func TestToEventInvalidUTF8(t *testing.T) {
	at := time.Unix(0, 0)
	_, ok := ToEvent("1", NewMessage("type", "chatmsg", "nn", "a", "txt", "\xff\xfehi"), at)
	assert.False(t, ok)

	data := serverPacket("type@=chatmsg/nn@=a/txt@=\xc3(bad/")
	res, err := (&Protocol{}).Decode(&session.RoomSession{RoomID: "1"}, data)
	require.NoError(t, err)
	assert.Empty(t, res.Events)

	ev, ok := ToEvent("1", NewMessage("type", "chatmsg", "nn", "\xff", "txt", "hi"), at)
	require.True(t, ok)
	assert.Equal(t, message.Anonymous, ev.(*message.ChatEvent).Author)
}

func TestConnectAndHeartbeat(t *testing.T) {
	p := &Protocol{}
	s := &session.RoomSession{RoomID: "alias"}
	s.SetToken(TokenRoomID, "288016")

	opts, err := p.Connect(s)
	require.NoError(t, err)
	assert.Equal(t, Endpoint, opts.URL)
	assert.Equal(t, []string{"binary"}, opts.Subprotocols)
	require.Len(t, opts.Register, 2)
	assert.Equal(t, Encode("type@=loginreq/roomid@=288016/"), opts.Register[0].Data)
	assert.Equal(t, Encode("type@=joingroup/rid@=288016/gid@=1/"), opts.Register[1].Data)

	hb := p.Heartbeat(s)
	assert.Equal(t, 45*time.Second, hb.Interval)
	assert.Equal(t, Encode("type@=mrkl/"), hb.Frame.Data)
}

func TestResolveRoom(t *testing.T) {
	cases := map[string]string{
		`{"room":{"room_id":288016,"room_name":"x"}}`: "288016",
		`{"data":{"room":{"room_id":"74751"}}}`:       "74751",
		`{"error":0}`:                                 "alias",
	}
	for body, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/betard/alias", r.URL.Path)
			assert.Equal(t, "https://www.douyu.com/alias", r.Header.Get("Referer"))
			fmt.Fprint(w, body)
		}))
		b := &Bootstrapper{Client: srv.Client(), BetardURL: srv.URL + "/betard/"}
		s, err := session.Bootstrap(context.Background(), b, "alias")
		srv.Close()
		require.NoError(t, err, body)
		assert.Equal(t, want, s.Token(TokenRoomID), body)
		assert.Equal(t, "alias", s.RoomID)
	}
}

func TestResolveRoomNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	b := &Bootstrapper{Client: srv.Client(), BetardURL: srv.URL + "/"}
	_, err := b.ResolveRoom(context.Background(), "1")
	assert.True(t, errors.Is(err, session.ErrRoomNotFound))
}
