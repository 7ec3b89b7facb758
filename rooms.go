package main

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/bilibili"
	"github.com/chen-zeong/dtv/internal/config"
	"github.com/chen-zeong/dtv/internal/douyin"
	"github.com/chen-zeong/dtv/internal/douyu"
	"github.com/chen-zeong/dtv/internal/huya"
	"github.com/chen-zeong/dtv/internal/listener"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
)

// platform pairs how a room is bootstrapped with how its socket is spoken.
type platform struct {
	boot  session.Bootstrapper
	proto listener.Protocol
}

func newPlatforms(cfg *config.Config, logger *zap.Logger) map[message.Platform]platform {
	client := session.HTTPClient(cfg.HTTPTimeout())
	ua := cfg.HTTP.UserAgent
	return map[message.Platform]platform{
		message.Douyu: {
			boot:  &douyu.Bootstrapper{Client: client, UserAgent: ua},
			proto: &douyu.Protocol{},
		},
		message.Huya: {
			boot:  &huya.Bootstrapper{Client: client, UserAgent: ua, Logger: logger},
			proto: &huya.Protocol{},
		},
		message.Douyin: {
			boot:  &douyin.Bootstrapper{Client: client, UserAgent: ua, Cookie: cfg.Cookies.Douyin, Logger: logger},
			proto: &douyin.Protocol{},
		},
		message.Bilibili: {
			boot:  &bilibili.Bootstrapper{Client: client, UserAgent: ua, Cookie: cfg.Cookies.Bilibili, Logger: logger},
			proto: &bilibili.Protocol{},
		},
	}
}

// stableAfter is how long a room must stay joined for its next failure to
// restart from the initial backoff interval.
const stableAfter = time.Minute

// roomManager starts the configured rooms and restarts them with
// exponential backoff when their listener fails.
type roomManager struct {
	registry  *listener.Registry
	platforms map[message.Platform]platform
	logger    *zap.Logger
	now       func() time.Time

	reconnect bool
	initial   time.Duration
	max       time.Duration

	mu    sync.Mutex
	rooms map[listener.Key]*roomState
	wg    sync.WaitGroup
}

// roomState carries a room's restart backoff across consecutive failures.
type roomState struct {
	room   config.RoomConfig
	joined time.Time
	retry  *backoff.ExponentialBackOff
}

func newRoomManager(reg *listener.Registry, platforms map[message.Platform]platform, logger *zap.Logger) *roomManager {
	return &roomManager{
		registry:  reg,
		platforms: platforms,
		logger:    logger,
		now:       time.Now,
		reconnect: true,
		initial:   2 * time.Second,
		max:       2 * time.Minute,
		rooms:     make(map[listener.Key]*roomState),
	}
}

func (m *roomManager) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initial
	b.MaxInterval = m.max
	b.Reset()
	return b
}

// startAll launches every room in the background. Rooms whose bootstrap
// keeps failing are retried until ctx is done.
func (m *roomManager) startAll(ctx context.Context, rooms []config.RoomConfig) {
	for _, room := range rooms {
		m.spawn(ctx, room, 0)
	}
}

func (m *roomManager) spawn(ctx context.Context, room config.RoomConfig, delay time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if err := m.start(ctx, room); err != nil && ctx.Err() == nil {
			m.logger.Error("Giving up on room",
				zap.String("platform", string(room.Platform)), zap.String("room", room.Room), zap.Error(err))
		}
	}()
}

// start bootstraps room and hands it to the registry, retrying bootstrap
// failures with backoff. A room that does not exist is not retried.
func (m *roomManager) start(ctx context.Context, room config.RoomConfig) error {
	p, ok := m.platforms[room.Platform]
	if !ok {
		return errors.Wrapf(message.ErrUnknownPlatform, "%q", room.Platform)
	}
	log := m.logger.With(zap.String("platform", string(room.Platform)), zap.String("room", room.Room))

	op := func() (*session.RoomSession, error) {
		s, err := session.Bootstrap(ctx, p.boot, room.Room)
		if errors.Is(err, session.ErrRoomNotFound) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(m.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("Bootstrap failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
		}),
	}
	if !m.reconnect {
		opts = append(opts, backoff.WithMaxTries(1))
	}
	s, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		return err
	}

	m.joined(listener.Key{Platform: p.proto.Platform(), RoomID: s.RoomID}, room)
	if _, err := m.registry.Start(ctx, listener.Spec{Protocol: p.proto, Session: s}); err != nil {
		return errors.Wrap(err, "start listener")
	}
	log.Info("Joined room", zap.String("room_id", s.RoomID))
	return nil
}

// watch restarts rooms reported on the registry's failure channel until ctx
// is done. Every restart bootstraps again so signatures and cookies are fresh.
func (m *roomManager) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-m.registry.Failures():
			key := listener.Key{Platform: f.Platform, RoomID: f.RoomID}
			room, delay, ok := m.retryDelay(key)
			if !ok {
				continue
			}
			if !m.reconnect {
				m.logger.Warn("Listener failed, reconnect disabled",
					zap.Stringer("room", key), zap.Error(f.Cause))
				continue
			}
			m.logger.Warn("Listener failed, reconnecting",
				zap.Stringer("room", key), zap.String("conn_id", f.ConnID), zap.Error(f.Cause),
				zap.Duration("retry_in", delay))
			m.spawn(ctx, room, delay)
		}
	}
}

// joined records that the listener for key was handed to the registry. The
// room's restart backoff carries over from earlier failures.
func (m *roomManager) joined(key listener.Key, room config.RoomConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rooms[key]
	if !ok {
		st = &roomState{room: room, retry: m.backOff()}
		m.rooms[key] = st
	}
	st.joined = m.now()
}

// retryDelay returns how long to wait before restarting key. The backoff
// starts over when the failed listener had been up for stableAfter.
func (m *roomManager) retryDelay(key listener.Key) (config.RoomConfig, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rooms[key]
	if !ok {
		return config.RoomConfig{}, 0, false
	}
	if m.now().Sub(st.joined) >= stableAfter {
		st.retry.Reset()
	}
	return st.room, st.retry.NextBackOff(), true
}

// wait blocks until every pending start has returned.
func (m *roomManager) wait() { m.wg.Wait() }

