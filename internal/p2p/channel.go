package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/taskqueue"
)

// DefaultReconnectTimeout is how long a connected session may stay ICE
// disconnected before it is torn down.
const DefaultReconnectTimeout = 10 * time.Second

// SignalingSender delivers an encoded envelope to a remote peer. It may block
// until the signaling service acknowledges the message.
type SignalingSender interface {
	SendSignalingMessage(ctx context.Context, remoteID, message string) error
}

type ChannelConfig struct {
	LocalID  string
	RemoteID string

	Sender    SignalingSender
	NewEngine EngineFactory

	// EventQueue runs observer callbacks. When nil the channel owns a
	// dedicated queue; a shared queue is never closed by the channel.
	EventQueue *taskqueue.Queue

	ReconnectTimeout time.Duration

	// UserAgent overrides LocalUserAgent().
	UserAgent *signaling.UserAgent

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Channel is the session with a single remote peer.
type Channel struct {
	localID  string
	remoteID string

	sender           SignalingSender
	newEngine        EngineFactory
	localUA          signaling.UserAgent
	reconnectTimeout time.Duration

	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	work       *taskqueue.Queue
	sendQueue  *taskqueue.Queue
	events     *taskqueue.Queue
	ownsEvents bool

	observers observerList

	pendingPublish   streamQueue
	pendingUnpublish streamQueue
	pendingMessages  messageQueue
	published        *streamSet

	closed    atomic.Bool
	inflightM sync.Mutex
	inflight  map[canceler]struct{}

	// Everything below is owned by the work queue.
	shutdown   bool
	state      *fsm.FSM
	generation uint64
	sessionID  string
	isCaller   bool
	engine     Engine
	remoteCaps Capabilities
	started    bool

	localDescSet   bool
	remoteDescSet  bool
	iceConnected   bool
	signalingState SignalingState
	neg            negotiator

	dataChannelCreated bool
	dataChannelOpen    bool

	remote remoteStreams
	live   liveness
}

func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	if cfg.NewEngine == nil {
		return nil, errMissingEngine
	}
	if cfg.RemoteID == "" {
		return nil, errMissingRemoteID
	}
	if cfg.RemoteID == cfg.LocalID {
		return nil, errRemoteIsLocal
	}
	reconnectTimeout := cfg.ReconnectTimeout
	if reconnectTimeout <= 0 {
		reconnectTimeout = DefaultReconnectTimeout
	}
	ua := LocalUserAgent()
	if cfg.UserAgent != nil {
		ua = *cfg.UserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("local_id", cfg.LocalID, "remote_id", cfg.RemoteID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		localID:          cfg.LocalID,
		remoteID:         cfg.RemoteID,
		sender:           cfg.Sender,
		newEngine:        cfg.NewEngine,
		localUA:          ua,
		reconnectTimeout: reconnectTimeout,
		log:              logger,
		metrics:          cfg.Metrics,
		ctx:              ctx,
		cancel:           cancel,
		work:             taskqueue.New("p2p-work:" + cfg.RemoteID),
		sendQueue:        taskqueue.New("p2p-send:" + cfg.RemoteID),
		events:           cfg.EventQueue,
		published:        newStreamSet(),
		inflight:         make(map[canceler]struct{}),
		remote:           newRemoteStreams(),
	}
	if c.events == nil {
		c.events = taskqueue.New("p2p-events:" + cfg.RemoteID)
		c.ownsEvents = true
	}
	c.state = newSessionFSM(logger)
	return c, nil
}

func (c *Channel) LocalID() string  { return c.localID }
func (c *Channel) RemoteID() string { return c.remoteID }

// State returns the current session state. It is meant for diagnostics; the
// value may be stale by the time it is inspected.
func (c *Channel) State() SessionState {
	f := newFuture[SessionState]()
	if !c.work.Post(func() { f.resolve(c.current()) }) {
		return StateReady
	}
	<-f.Done()
	return f.val
}

func (c *Channel) AddObserver(o Observer)    { c.observers.add(o) }
func (c *Channel) RemoveObserver(o Observer) { c.observers.remove(o) }

// Invite asks the remote peer to start a session. The future settles once
// the invitation has been handed to the signaling service.
func (c *Channel) Invite() *Future[struct{}] {
	f := track(c, newFuture[struct{}]())
	c.run(f, func() { c.invite(f) })
	return f
}

// Accept accepts a pending invitation.
func (c *Channel) Accept() *Future[struct{}] {
	f := track(c, newFuture[struct{}]())
	c.run(f, func() { c.accept(f) })
	return f
}

// Deny declines a pending invitation.
func (c *Channel) Deny() *Future[struct{}] {
	f := track(c, newFuture[struct{}]())
	c.run(f, func() { c.deny(f) })
	return f
}

// Stop ends the current session. The stop envelope is sent best-effort; the
// future settles once local teardown completes.
func (c *Channel) Stop() *Future[struct{}] {
	f := track(c, newFuture[struct{}]())
	c.run(f, func() {
		if c.current() == StateReady {
			f.reject(fmt.Errorf("stop: %w: no active session", ErrInvalidState))
			return
		}
		c.teardown(true, nil)
		f.resolve(struct{}{})
	})
	return f
}

// Publish sends a local stream to the remote peer. Streams published before
// the session is connected are queued.
func (c *Channel) Publish(stream LocalStream) *Future[struct{}] {
	if stream == nil || stream.ID() == "" {
		return rejectedFuture[struct{}](fmt.Errorf("publish: %w: missing stream", ErrInvalidArgument))
	}
	if c.closed.Load() {
		return rejectedFuture[struct{}](ErrChannelClosed)
	}
	f := track(c, newFuture[struct{}]())
	// Membership is only stable on the work queue: a drain may be between
	// taking a request and recording its outcome.
	c.run(f, func() {
		if c.published.has(stream.ID()) {
			f.resolve(struct{}{})
			return
		}
		c.pendingPublish.push(streamRequest{stream: stream, result: f})
		c.drainPendingStreams()
	})
	return f
}

// Unpublish stops sending a previously published stream.
func (c *Channel) Unpublish(stream LocalStream) *Future[struct{}] {
	if stream == nil || stream.ID() == "" {
		return rejectedFuture[struct{}](fmt.Errorf("unpublish: %w: missing stream", ErrInvalidArgument))
	}
	if c.closed.Load() {
		return rejectedFuture[struct{}](ErrChannelClosed)
	}
	f := track(c, newFuture[struct{}]())
	c.run(f, func() {
		id := stream.ID()
		if !c.published.has(id) && !c.pendingPublish.contains(id) {
			f.resolve(struct{}{})
			return
		}
		c.pendingUnpublish.push(streamRequest{stream: stream, result: f})
		c.drainPendingStreams()
	})
	return f
}

// Send queues a text message for the data channel. Messages are delivered in
// order once the channel opens.
func (c *Channel) Send(message string) *Future[struct{}] {
	if c.closed.Load() {
		return rejectedFuture[struct{}](ErrChannelClosed)
	}
	f := track(c, newFuture[struct{}]())
	c.pendingMessages.push(messageRequest{text: message, result: f})
	c.run(f, c.drainPendingMessages)
	return f
}

func (c *Channel) GetConnectionStats() *Future[ConnectionStats] {
	f := track(c, newFuture[ConnectionStats]())
	c.run(f, func() {
		st := c.current()
		if c.engine == nil || (st != StateMatched && st != StateConnected) {
			f.reject(fmt.Errorf("stats: %w: no active session", ErrInvalidState))
			return
		}
		c.engine.GetStats(func(stats ConnectionStats, err error) {
			if err != nil {
				f.reject(fmt.Errorf("stats: %w", err))
				return
			}
			f.resolve(stats)
		})
	})
	return f
}

// OnIncomingSignalingMessage hands an envelope received from the remote peer
// to the channel.
func (c *Channel) OnIncomingSignalingMessage(message string) {
	if c.closed.Load() {
		return
	}
	c.work.Post(func() {
		if c.shutdown {
			return
		}
		c.handleEnvelope(message)
	})
}

// Close tears down any active session and fails every outstanding operation
// with ErrChannelClosed. Later calls fail with ErrChannelClosed.
func (c *Channel) Close() {
	if c.closed.Swap(true) {
		return
	}
	posted := c.work.Post(func() {
		c.shutdown = true
		c.rejectInflight(ErrChannelClosed)
		if c.current() != StateReady {
			c.teardown(true, ErrChannelClosed)
		}
		c.sendQueue.Post(c.cancel)
		c.sendQueue.Close()
		if c.ownsEvents {
			c.events.Close()
		}
	})
	c.work.Close()
	if !posted {
		c.cancel()
	}
}

// Done is closed once Close has finished tearing the channel down.
func (c *Channel) Done() <-chan struct{} {
	return c.work.Done()
}

func (c *Channel) run(f canceler, task func()) {
	if c.closed.Load() {
		f.reject(ErrChannelClosed)
		return
	}
	ok := c.work.Post(func() {
		if c.shutdown {
			f.reject(ErrChannelClosed)
			return
		}
		task()
	})
	if !ok {
		f.reject(ErrChannelClosed)
	}
}

func track[T any](c *Channel, f *Future[T]) *Future[T] {
	c.inflightM.Lock()
	c.inflight[f] = struct{}{}
	c.inflightM.Unlock()
	f.onSettle = func() {
		c.inflightM.Lock()
		delete(c.inflight, f)
		c.inflightM.Unlock()
	}
	return f
}

func (c *Channel) rejectInflight(err error) {
	c.inflightM.Lock()
	pending := make([]canceler, 0, len(c.inflight))
	for f := range c.inflight {
		pending = append(pending, f)
	}
	c.inflightM.Unlock()
	for _, f := range pending {
		f.reject(err)
	}
}

// postSession runs fn on the work queue only if the session generation is
// still gen. Engine callbacks and timers go through here.
func (c *Channel) postSession(gen uint64, fn func()) {
	c.work.Post(func() {
		if c.shutdown || gen != c.generation {
			return
		}
		fn()
	})
}

func (c *Channel) notify(fn func(Observer)) {
	c.events.Post(func() {
		for _, o := range c.observers.snapshot() {
			fn(o)
		}
	})
}

func (c *Channel) incMetric(name string) {
	c.metrics.Inc(name)
}

// sendEnvelope encodes and queues an envelope for the remote peer. done, if
// non-nil, runs on the work queue with the send result.
func (c *Channel) sendEnvelope(t signaling.EnvelopeType, payload any, done func(error)) {
	msg, err := signaling.Encode(t, payload)
	if err != nil {
		c.log.Error("failed to encode envelope", "type", t, "err", err)
		if done != nil {
			done(err)
		}
		return
	}
	ok := c.sendQueue.Post(func() {
		err := c.sender.SendSignalingMessage(c.ctx, c.remoteID, msg)
		if err != nil {
			c.incMetric(metrics.SignalingSendFailed)
			c.log.Warn("signaling send failed", "type", t, "err", err)
		}
		if done != nil {
			c.work.Post(func() { done(err) })
		}
	})
	if !ok && done != nil {
		done(ErrChannelClosed)
	}
}

// newSession starts a fresh session generation. Callbacks belonging to an
// earlier generation are dropped from here on.
func (c *Channel) newSession(isCaller bool) {
	c.generation++
	c.sessionID = uuid.NewString()
	c.isCaller = isCaller
	c.log.Debug("session created", "session_id", c.sessionID, "caller", isCaller)
}

func (c *Channel) invite(f *Future[struct{}]) {
	if st := c.current(); st != StateReady {
		f.reject(fmt.Errorf("invite: %w: session is %s", ErrInvalidState, st))
		return
	}
	if err := c.transition(eventInvite); err != nil {
		f.reject(fmt.Errorf("invite: %w", err))
		return
	}
	c.newSession(true)
	gen := c.generation
	c.incMetric(metrics.SessionInvitesSent)
	c.sendEnvelope(signaling.TypeInvite, signaling.Invitation{UA: &c.localUA}, func(err error) {
		if err == nil {
			f.resolve(struct{}{})
			return
		}
		if gen == c.generation && c.current() == StateOffered {
			c.resetSession()
		}
		f.reject(fmt.Errorf("invite: %w: %v", ErrSignalingSend, err))
	})
}

func (c *Channel) accept(f *Future[struct{}]) {
	if st := c.current(); st != StatePending {
		f.reject(fmt.Errorf("accept: %w: session is %s", ErrInvalidState, st))
		return
	}
	if err := c.startEngine(); err != nil {
		f.reject(fmt.Errorf("accept: %w: %v", ErrNegotiation, err))
		return
	}
	if err := c.transition(eventAccept); err != nil {
		c.closeEngine()
		c.generation++
		f.reject(fmt.Errorf("accept: %w", err))
		return
	}
	gen := c.generation
	c.sendEnvelope(signaling.TypeAccept, signaling.Invitation{UA: &c.localUA}, func(err error) {
		if err == nil {
			f.resolve(struct{}{})
			return
		}
		if gen == c.generation && c.current() == StateMatched && !c.localDescSet && !c.remoteDescSet {
			// The remote never saw the acceptance; let the application retry.
			c.closeEngine()
			c.generation++
			c.state.SetState(string(StatePending))
		}
		f.reject(fmt.Errorf("accept: %w: %v", ErrSignalingSend, err))
	})
}

func (c *Channel) deny(f *Future[struct{}]) {
	if st := c.current(); st != StatePending {
		f.reject(fmt.Errorf("deny: %w: session is %s", ErrInvalidState, st))
		return
	}
	c.resetSession()
	c.sendEnvelope(signaling.TypeDeny, nil, func(err error) {
		if err != nil {
			f.reject(fmt.Errorf("deny: %w: %v", ErrSignalingSend, err))
			return
		}
		f.resolve(struct{}{})
	})
}

// startEngine builds the engine for the current session generation.
func (c *Channel) startEngine() error {
	if c.engine != nil {
		return nil
	}
	engine, err := c.newEngine(&engineEvents{c: c, gen: c.generation})
	if err != nil {
		return err
	}
	c.engine = engine
	c.signalingState = SignalingStateStable
	return nil
}

func (c *Channel) closeEngine() {
	if c.engine == nil {
		return
	}
	if err := c.engine.Close(); err != nil {
		c.log.Debug("engine close failed", "session_id", c.sessionID, "err", err)
	}
	c.engine = nil
	c.localDescSet = false
	c.remoteDescSet = false
	c.iceConnected = false
	c.dataChannelCreated = false
	c.dataChannelOpen = false
	c.neg.reset()
	c.live.stop()
}

// teardown ends the active session. sendStop notifies the remote; reason is
// logged and is nil for a local Stop.
func (c *Channel) teardown(sendStop bool, reason error) {
	if c.current() == StateReady {
		return
	}
	if sendStop {
		c.sendEnvelope(signaling.TypeStop, nil, nil)
	}
	sessionID := c.sessionID
	c.closeEngine()

	for _, rs := range c.remote.clear() {
		rs := rs
		c.notify(func(o Observer) { o.OnStreamRemoved(rs) })
	}

	var stopped error = ErrSessionStopped
	if reason != nil {
		stopped = fmt.Errorf("%w: %v", ErrSessionStopped, reason)
	}
	for _, r := range c.pendingPublish.take() {
		r.result.reject(stopped)
	}
	for _, r := range c.pendingUnpublish.take() {
		r.result.reject(stopped)
	}
	for _, r := range c.pendingMessages.take() {
		r.result.reject(stopped)
	}
	c.published.clear()

	c.resetSession()
	c.incMetric(metrics.SessionStopped)
	if reason != nil {
		c.log.Info("session stopped", "session_id", sessionID, "reason", reason)
	} else {
		c.log.Info("session stopped", "session_id", sessionID)
	}
	remoteID := c.remoteID
	c.notify(func(o Observer) { o.OnStopped(remoteID) })
}

// resetSession returns the channel to Ready and invalidates callbacks that
// belong to the session just ended.
func (c *Channel) resetSession() {
	c.closeEngine()
	c.generation++
	c.sessionID = ""
	c.isCaller = false
	c.started = false
	c.remoteCaps = Capabilities{}
	if c.current() != StateReady {
		if err := c.transition(eventReset); err != nil {
			c.log.Error("session reset failed", "err", err)
			c.state.SetState(string(StateReady))
		}
	}
}
