// Package listener supervises one WebSocket connection per room. It dials,
// registers, keeps the connection alive and races the receive loop against
// cancellation. Reconnecting after a failure is left to the owner of the
// Registry, which learns about failures through Failures.
package listener

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/metrics"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/transport"
)

var (
	// ErrStopped is the terminal error of a listener that was cancelled.
	ErrStopped = errors.New("listener stopped")
	// ErrInvalidSpec is returned by Start for a spec without protocol or session.
	ErrInvalidSpec = errors.New("listener: protocol and session are required")
)

const defaultFailureBuffer = 64

// Spec is everything needed to start one listener.
type Spec struct {
	Protocol Protocol
	Session  *session.RoomSession
}

// Failure reports a listener that ended for any reason other than Stop.
type Failure struct {
	Platform message.Platform
	RoomID   string
	ConnID   string
	Cause    error
}

// Status is a point-in-time view of a listener.
type Status struct {
	Platform  message.Platform `json:"platform"`
	RoomID    string           `json:"room_id"`
	ConnID    string           `json:"conn_id"`
	State     string           `json:"state"`
	StartedAt time.Time        `json:"started_at"`
	Events    uint64           `json:"events"`
}

// Config tunes a Registry. Zero values pick the transport defaults.
type Config struct {
	QueueSize        int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	FailureBuffer    int
}

// Registry owns the live listeners, keyed by platform and room.
type Registry struct {
	sink     chan<- message.Event
	logger   *zap.Logger
	cfg      Config
	failures chan Failure

	mu      sync.Mutex
	handles map[Key]*Handle
	busy    map[Key]chan struct{} // keys with a Start or Stop in progress
}

// NewRegistry creates a Registry delivering events to sink. Delivery blocks
// while sink is full.
func NewRegistry(sink chan<- message.Event, logger *zap.Logger, cfg Config) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureBuffer <= 0 {
		cfg.FailureBuffer = defaultFailureBuffer
	}
	return &Registry{
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		failures: make(chan Failure, cfg.FailureBuffer),
		handles:  make(map[Key]*Handle),
		busy:     make(map[Key]chan struct{}),
	}
}

// Failures delivers one Failure per listener that ended on its own. When the
// buffer is full further failures are logged and dropped.
func (r *Registry) Failures() <-chan Failure { return r.failures }

// Start launches a listener for spec. An existing listener for the same room
// is stopped first and has reached Closed before the new one dials. ctx bounds
// the lifetime of the new listener.
func (r *Registry) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Protocol == nil || spec.Session == nil {
		return nil, ErrInvalidSpec
	}
	key := Key{Platform: spec.Protocol.Platform(), RoomID: spec.Session.RoomID}

	old, busy := r.claim(key)
	if old != nil {
		r.logger.Info("Replacing listener",
			zap.Stringer("room", key), zap.String("conn_id", old.connID))
		old.cancel()
		<-old.done
	}

	lctx, cancel := context.WithCancel(ctx)
	h := newHandle(key, cancel)
	r.release(key, busy, h)
	go r.run(lctx, h, spec)
	return h, nil
}

// Stop cancels the listener for key and waits until it is closed. It reports
// whether a listener was running.
func (r *Registry) Stop(key Key) bool {
	h, busy := r.claim(key)
	if h != nil {
		h.cancel()
		<-h.done
	}
	r.release(key, busy, nil)
	return h != nil
}

// StopAll stops every listener and waits for all of them.
func (r *Registry) StopAll() {
	r.mu.Lock()
	keys := make([]Key, 0, len(r.handles))
	for key, h := range r.handles {
		h.cancel()
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.Stop(key)
	}
}

// claim waits for any Start or Stop already working on key, then marks key
// busy and returns its current handle. Readers are not blocked while the
// caller tears that handle down. Every claim must be paired with release.
func (r *Registry) claim(key Key) (*Handle, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		wait, ok := r.busy[key]
		if !ok {
			break
		}
		r.mu.Unlock()
		<-wait
		r.mu.Lock()
	}
	busy := make(chan struct{})
	r.busy[key] = busy
	return r.handles[key], busy
}

// release installs next as the handle for key, or removes the entry when next
// is nil, and lets the next claim on key proceed.
func (r *Registry) release(key Key, busy chan struct{}, next *Handle) {
	r.mu.Lock()
	if next != nil {
		r.handles[key] = next
	} else {
		delete(r.handles, key)
	}
	delete(r.busy, key)
	r.mu.Unlock()
	close(busy)
}

// Get returns the live handle for key.
func (r *Registry) Get(key Key) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[key]
	return h, ok
}

// Snapshot lists the registered listeners ordered by platform and room.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	out := make([]Status, 0, len(r.handles))
	for key, h := range r.handles {
		out = append(out, Status{
			Platform:  key.Platform,
			RoomID:    key.RoomID,
			ConnID:    h.connID,
			State:     h.State().String(),
			StartedAt: h.startedAt,
			Events:    h.Events(),
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

func (r *Registry) run(ctx context.Context, h *Handle, spec Spec) {
	platform := string(h.key.Platform)
	log := r.logger.With(
		zap.String("platform", platform),
		zap.String("room_id", h.key.RoomID),
		zap.String("conn_id", h.connID),
	)
	metrics.ListenerStarted()
	defer metrics.ListenerStopped()

	err := r.serve(ctx, h, spec, log)
	h.setState(Closing)

	stopped := ctx.Err() != nil
	if stopped {
		log.Info("Listener stopped")
		metrics.ConnectionOutcome(platform, metrics.OutcomeStopped)
		err = ErrStopped
	} else {
		if err == nil {
			err = transport.ErrClosed
		}
		log.Warn("Listener failed", zap.Error(err))
		metrics.ConnectionOutcome(platform, metrics.OutcomeFailed)
	}

	h.finish(err)
	r.forget(h)

	if !stopped {
		r.report(Failure{Platform: h.key.Platform, RoomID: h.key.RoomID, ConnID: h.connID, Cause: err})
	}
}

func (r *Registry) serve(ctx context.Context, h *Handle, spec Spec, log *zap.Logger) error {
	opts, err := spec.Protocol.Connect(spec.Session)
	if err != nil {
		return errors.Wrap(err, "build connect options")
	}
	if r.cfg.QueueSize > 0 {
		opts.QueueSize = r.cfg.QueueSize
	}
	if r.cfg.HandshakeTimeout > 0 {
		opts.HandshakeTimeout = r.cfg.HandshakeTimeout
	}
	if r.cfg.WriteTimeout > 0 {
		opts.WriteTimeout = r.cfg.WriteTimeout
	}

	conn, err := transport.Dial(ctx, opts)
	if err != nil {
		metrics.ConnectionOutcome(string(h.key.Platform), metrics.OutcomeDialError)
		return err
	}
	defer conn.Close()

	h.setState(Registered)
	metrics.ConnectionOutcome(string(h.key.Platform), metrics.OutcomeConnected)
	log.Info("Connected", zap.Int("register_frames", len(opts.Register)))

	hb := spec.Protocol.Heartbeat(spec.Session)
	g, gctx := errgroup.WithContext(ctx)
	h.setState(Streaming)

	g.Go(func() error { return conn.RunWriter(gctx) })
	g.Go(func() error { return heartbeat(gctx, conn, hb) })
	g.Go(func() error { return r.receive(gctx, conn, h, spec, log) })
	g.Go(func() error {
		// Read has no context; closing the socket is what unblocks it.
		<-gctx.Done()
		conn.Close()
		return gctx.Err()
	})
	return g.Wait()
}

func (r *Registry) receive(ctx context.Context, conn *transport.Conn, h *Handle, spec Spec, log *zap.Logger) error {
	platform := string(h.key.Platform)
	for {
		data, err := conn.Read()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		metrics.FrameReceived(platform)

		res, err := spec.Protocol.Decode(spec.Session, data)
		if err != nil {
			metrics.DecodeFailed(platform)
			log.Debug("Skipping undecodable frame", zap.Int("bytes", len(data)), zap.Error(err))
		}

		for _, f := range res.Control {
			if err := conn.Send(ctx, f); err != nil {
				return errors.Wrap(err, "queue control frame")
			}
		}
		for _, ev := range res.Events {
			select {
			case r.sink <- ev:
				h.events.Inc()
				metrics.EventDelivered(platform, ev.Kind())
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func heartbeat(ctx context.Context, conn *transport.Conn, hb Heartbeat) error {
	if hb.Interval <= 0 {
		return nil
	}
	if err := conn.Send(ctx, hb.Frame); err != nil {
		return errors.Wrap(err, "queue heartbeat")
	}
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.Send(ctx, hb.Frame); err != nil {
				return errors.Wrap(err, "queue heartbeat")
			}
		}
	}
}

// forget removes h from the registry unless it was already replaced.
func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.key]; ok && cur == h {
		delete(r.handles, h.key)
	}
}

func (r *Registry) report(f Failure) {
	select {
	case r.failures <- f:
	default:
		r.logger.Warn("Failure channel full, dropping failure",
			zap.String("platform", string(f.Platform)),
			zap.String("room_id", f.RoomID),
			zap.Error(f.Cause))
	}
}
