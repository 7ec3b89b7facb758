package main

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/config"
	"github.com/chen-zeong/dtv/internal/listener"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/transport"
)

type flakyBoot struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (b *flakyBoot) ResolveRoom(_ context.Context, roomID string) (*session.RoomSession, error) {
	if n := b.calls.Inc(); n <= b.failures {
		return nil, b.err
	}
	return &session.RoomSession{Platform: message.Huya, RoomID: roomID}, nil
}

func (b *flakyBoot) HarvestCookies(context.Context, *session.RoomSession) error { return nil }

// refusedProtocol points every connection at a port nobody listens on.
type refusedProtocol struct {
	connects atomic.Int32
}

func (p *refusedProtocol) Platform() message.Platform { return message.Huya }

func (p *refusedProtocol) Connect(*session.RoomSession) (transport.Options, error) {
	p.connects.Inc()
	return transport.Options{URL: "ws://127.0.0.1:1/", HandshakeTimeout: time.Second}, nil
}

func (p *refusedProtocol) Heartbeat(*session.RoomSession) listener.Heartbeat {
	return listener.Heartbeat{}
}

func (p *refusedProtocol) Decode(*session.RoomSession, []byte) (listener.Result, error) {
	return listener.Result{}, nil
}

func newTestManager(boot session.Bootstrapper, proto listener.Protocol) (*roomManager, *listener.Registry) {
	reg := listener.NewRegistry(make(chan message.Event, 8), nil, listener.Config{})
	m := newRoomManager(reg, map[message.Platform]platform{
		message.Huya: {boot: boot, proto: proto},
	}, zap.NewNop())
	m.initial = 5 * time.Millisecond
	m.max = 10 * time.Millisecond
	return m, reg
}

var huyaRoom = config.RoomConfig{Platform: message.Huya, Room: "11342412"}

func TestStartRetriesBootstrap(t *testing.T) {
	boot := &flakyBoot{failures: 2, err: errors.New("upstream hiccup")}
	proto := &refusedProtocol{}
	m, reg := newTestManager(boot, proto)
	defer reg.StopAll()

	require.NoError(t, m.start(context.Background(), huyaRoom))
	assert.Equal(t, int32(3), boot.calls.Load())
	assert.Eventually(t, func() bool { return proto.connects.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMissingRoomIsNotRetried(t *testing.T) {
	boot := &flakyBoot{failures: 100, err: session.ErrRoomNotFound}
	m, _ := newTestManager(boot, &refusedProtocol{})

	err := m.start(context.Background(), huyaRoom)
	assert.True(t, errors.Is(err, session.ErrRoomNotFound))
	assert.Equal(t, int32(1), boot.calls.Load())
}

func TestUnknownPlatform(t *testing.T) {
	m, _ := newTestManager(&flakyBoot{}, &refusedProtocol{})
	err := m.start(context.Background(), config.RoomConfig{Platform: message.Douyu, Room: "1"})
	assert.True(t, errors.Is(err, message.ErrUnknownPlatform))
}

func TestFailedListenerIsRestarted(t *testing.T) {
	boot := &flakyBoot{}
	proto := &refusedProtocol{}
	m, reg := newTestManager(boot, proto)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.watch(ctx)
	}()
	m.startAll(ctx, []config.RoomConfig{huyaRoom})

	assert.Eventually(t, func() bool { return proto.connects.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, boot.calls.Load(), int32(3), "every restart bootstraps again")

	cancel()
	<-done
	m.wait()
	reg.StopAll()
}

func TestReconnectDisabled(t *testing.T) {
	proto := &refusedProtocol{}
	m, reg := newTestManager(&flakyBoot{}, proto)
	m.reconnect = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.watch(ctx)
	m.startAll(ctx, []config.RoomConfig{huyaRoom})

	require.Eventually(t, func() bool { return proto.connects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), proto.connects.Load())
	m.wait()
	reg.StopAll()
}

func TestRestartDelayGrowsAndResets(t *testing.T) {
	m, _ := newTestManager(&flakyBoot{}, &refusedProtocol{})
	m.initial = 100 * time.Millisecond
	m.max = time.Second
	clock := time.Unix(1700000000, 0)
	m.now = func() time.Time { return clock }

	key := listener.Key{Platform: message.Huya, RoomID: huyaRoom.Room}
	m.joined(key, huyaRoom)

	room, d, ok := m.retryDelay(key)
	require.True(t, ok)
	assert.Equal(t, huyaRoom, room)
	assert.LessOrEqual(t, d, 150*time.Millisecond)

	for i := 0; i < 10; i++ {
		m.joined(key, huyaRoom)
		_, d, _ = m.retryDelay(key)
	}
	assert.GreaterOrEqual(t, d, 500*time.Millisecond, "consecutive failures back off")
	assert.LessOrEqual(t, d, 1500*time.Millisecond)

	m.joined(key, huyaRoom)
	clock = clock.Add(2 * stableAfter)
	_, d, _ = m.retryDelay(key)
	assert.LessOrEqual(t, d, 150*time.Millisecond, "a stable room starts over")

	_, _, ok = m.retryDelay(listener.Key{Platform: message.Huya, RoomID: "other"})
	assert.False(t, ok)
}
