package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/taskqueue"
)

type EngineConfig struct {
	// API is shared by every engine of a process; see NewAPI. Nil uses pion's
	// defaults.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	// MaxMessageBytes bounds text messages on the message data channel in
	// both directions. Zero disables the check.
	MaxMessageBytes int

	// OnRemoteTrack receives every remote media track. When nil the engine
	// drains and discards incoming RTP.
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	Logger *slog.Logger
}

// NewEngineFactory returns a p2p.EngineFactory that builds one Engine (and
// one PeerConnection) per session.
func NewEngineFactory(cfg EngineConfig) p2p.EngineFactory {
	return func(obs p2p.EngineObserver) (p2p.Engine, error) {
		return NewEngine(cfg, obs)
	}
}

// Engine adapts a pion PeerConnection to p2p.Engine.
//
// Offer/answer and description operations run one at a time on a private
// queue so their completion callbacks never run on the caller's goroutine.
type Engine struct {
	pc  *webrtc.PeerConnection
	obs p2p.EngineObserver
	cfg EngineConfig
	log *slog.Logger
	ops *taskqueue.Queue

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	channels map[string]*webrtc.DataChannel
	senders  map[string][]*webrtc.RTPSender
	remote   map[string]p2p.TransportStream
}

var _ p2p.Engine = (*Engine)(nil)

func NewEngine(cfg EngineConfig, obs p2p.EngineObserver) (*Engine, error) {
	if obs == nil {
		return nil, fmt.Errorf("%w: nil engine observer", p2p.ErrInvalidArgument)
	}
	api := cfg.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	e := &Engine{
		pc:       pc,
		obs:      obs,
		cfg:      cfg,
		log:      log,
		ops:      taskqueue.New("webrtcpeer"),
		channels: make(map[string]*webrtc.DataChannel),
		senders:  make(map[string][]*webrtc.RTPSender),
		remote:   make(map[string]p2p.TransportStream),
	}

	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		if s, ok := signalingState(state); ok && !e.closed.Load() {
			e.obs.OnSignalingStateChange(s)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if s, ok := iceConnectionState(state); ok && !e.closed.Load() {
			e.obs.OnICEConnectionStateChange(s)
		}
	})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if s, ok := iceGatheringState(state); ok && !e.closed.Load() {
			e.obs.OnICEGatheringStateChange(s)
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering, which the gathering state covers.
		if c == nil || e.closed.Load() {
			return
		}
		init := c.ToJSON()
		e.obs.OnICECandidate(p2p.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
	pc.OnNegotiationNeeded(func() {
		if !e.closed.Load() {
			e.obs.OnRenegotiationNeeded()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if err := validateMessageDataChannel(dc); err != nil {
			e.log.Warn("rejecting datachannel",
				"reason", rejectReason(dc),
				"label", dc.Label(),
				"ordered", dc.Ordered(),
				"err", err,
			)
			_ = dc.Close()
			return
		}
		e.attachDataChannel(dc)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		e.log.Debug("remote track",
			"stream_id", track.StreamID(),
			"track_id", track.ID(),
			"kind", track.Kind().String(),
		)
		if e.cfg.OnRemoteTrack != nil {
			e.cfg.OnRemoteTrack(track, recv)
			return
		}
		go drainTrack(track)
	})

	return e, nil
}

func (e *Engine) PeerConnection() *webrtc.PeerConnection {
	return e.pc
}

// do runs task on the ops queue, or reports ErrEngineClosed through fail.
func (e *Engine) do(task func(), fail func(error)) {
	ok := e.ops.Post(func() {
		if e.closed.Load() {
			fail(ErrEngineClosed)
			return
		}
		task()
	})
	if !ok {
		fail(ErrEngineClosed)
	}
}

func (e *Engine) CreateOffer(done func(p2p.SessionDescription, error)) {
	e.do(func() {
		offer, err := e.pc.CreateOffer(nil)
		if err != nil {
			done(p2p.SessionDescription{}, fmt.Errorf("create offer: %w", err))
			return
		}
		done(fromPionDescription(offer), nil)
	}, func(err error) { done(p2p.SessionDescription{}, err) })
}

func (e *Engine) CreateAnswer(done func(p2p.SessionDescription, error)) {
	e.do(func() {
		answer, err := e.pc.CreateAnswer(nil)
		if err != nil {
			done(p2p.SessionDescription{}, fmt.Errorf("create answer: %w", err))
			return
		}
		done(fromPionDescription(answer), nil)
	}, func(err error) { done(p2p.SessionDescription{}, err) })
}

func (e *Engine) SetLocalDescription(desc p2p.SessionDescription, done func(error)) {
	e.do(func() {
		sd, err := toPionDescription(desc)
		if err != nil {
			done(err)
			return
		}
		if err := e.pc.SetLocalDescription(sd); err != nil {
			done(fmt.Errorf("set local description: %w", err))
			return
		}
		done(nil)
	}, done)
}

func (e *Engine) SetRemoteDescription(desc p2p.SessionDescription, done func(error)) {
	e.do(func() {
		sd, err := toPionDescription(desc)
		if err != nil {
			done(err)
			return
		}
		if err := e.pc.SetRemoteDescription(sd); err != nil {
			done(fmt.Errorf("set remote description: %w", err))
			return
		}
		streams, err := remoteStreamsFromSDP(desc.SDP)
		if err != nil {
			e.log.Warn("cannot infer remote streams", "err", err)
		} else {
			e.syncRemoteStreams(streams)
		}
		done(nil)
	}, done)
}

// syncRemoteStreams reports streams that appeared in or vanished from the
// latest remote description.
func (e *Engine) syncRemoteStreams(current map[string]p2p.TransportStream) {
	var added []p2p.TransportStream
	var removed []string

	e.mu.Lock()
	for id, s := range current {
		if _, ok := e.remote[id]; !ok {
			added = append(added, s)
		}
		e.remote[id] = s
	}
	for id := range e.remote {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
			delete(e.remote, id)
		}
	}
	e.mu.Unlock()

	for _, s := range added {
		e.obs.OnStreamAdded(s)
	}
	for _, id := range removed {
		e.obs.OnStreamRemoved(id)
	}
}

func (e *Engine) AddICECandidate(c p2p.ICECandidate) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (e *Engine) AddStream(s p2p.LocalStream) error {
	st, ok := s.(*Stream)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedStream, s)
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.senders[st.ID()]; ok {
		return fmt.Errorf("%w: %q", errDuplicateStreamAdded, st.ID())
	}

	senders := make([]*webrtc.RTPSender, 0, len(st.tracks))
	for _, t := range st.tracks {
		sender, err := e.pc.AddTrack(t)
		if err != nil {
			for _, added := range senders {
				_ = e.pc.RemoveTrack(added)
			}
			return fmt.Errorf("add track %q: %w", t.ID(), err)
		}
		senders = append(senders, sender)
		go drainRTCP(sender)
	}
	e.senders[st.ID()] = senders
	return nil
}

func (e *Engine) RemoveStream(s p2p.LocalStream) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	senders, ok := e.senders[s.ID()]
	if !ok {
		return nil
	}
	delete(e.senders, s.ID())

	var errs []error
	for _, sender := range senders {
		if err := e.pc.RemoveTrack(sender); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) CreateDataChannel(label string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	dc, err := e.pc.CreateDataChannel(label, nil)
	if err != nil {
		return fmt.Errorf("create datachannel %q: %w", label, err)
	}
	e.attachDataChannel(dc)
	return nil
}

func (e *Engine) attachDataChannel(dc *webrtc.DataChannel) {
	label := dc.Label()

	e.mu.Lock()
	if prev, ok := e.channels[label]; ok && prev != dc {
		_ = prev.Close()
	}
	e.channels[label] = dc
	e.mu.Unlock()

	dc.OnOpen(func() {
		if !e.closed.Load() {
			e.obs.OnDataChannelOpen(label)
		}
	})
	dc.OnClose(func() {
		e.mu.Lock()
		if e.channels[label] == dc {
			delete(e.channels, label)
		}
		e.mu.Unlock()
		if !e.closed.Load() {
			e.obs.OnDataChannelClose(label)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			e.log.Debug("dropping binary datachannel message", "label", label, "bytes", len(msg.Data))
			return
		}
		if max := e.cfg.MaxMessageBytes; max > 0 && len(msg.Data) > max {
			e.log.Warn("dropping oversized datachannel message", "label", label, "bytes", len(msg.Data), "max_bytes", max)
			return
		}
		e.obs.OnDataChannelMessage(label, string(msg.Data))
	})
}

func (e *Engine) SendData(label, message string) error {
	if max := e.cfg.MaxMessageBytes; max > 0 && len(message) > max {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(message), max)
	}

	e.mu.Lock()
	dc, ok := e.channels[label]
	e.mu.Unlock()
	if !ok || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("%w: %q", ErrDataChannelNotOpen, label)
	}
	return dc.SendText(message)
}

func (e *Engine) GetStats(done func(p2p.ConnectionStats, error)) {
	e.do(func() {
		done(summarizeStats(e.pc.GetStats(), time.Now()), nil)
	}, func(err error) { done(p2p.ConnectionStats{}, err) })
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.closeErr = e.pc.Close()
		e.ops.Close()
	})
	return e.closeErr
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// drainRTCP keeps interceptors (NACK, reports) running for sender.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func toPionDescription(desc p2p.SessionDescription) (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch desc.Type {
	case p2p.SDPTypeOffer:
		t = webrtc.SDPTypeOffer
	case p2p.SDPTypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", errUnsupportedSDPType, desc.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: desc.SDP}, nil
}

func fromPionDescription(sd webrtc.SessionDescription) p2p.SessionDescription {
	t := p2p.SDPTypeOffer
	if sd.Type == webrtc.SDPTypeAnswer {
		t = p2p.SDPTypeAnswer
	}
	return p2p.SessionDescription{Type: t, SDP: sd.SDP}
}

func signalingState(s webrtc.SignalingState) (p2p.SignalingState, bool) {
	switch s {
	case webrtc.SignalingStateStable:
		return p2p.SignalingStateStable, true
	case webrtc.SignalingStateHaveLocalOffer:
		return p2p.SignalingStateHaveLocalOffer, true
	case webrtc.SignalingStateHaveRemoteOffer:
		return p2p.SignalingStateHaveRemoteOffer, true
	case webrtc.SignalingStateClosed:
		return p2p.SignalingStateClosed, true
	default:
		return 0, false
	}
}

func iceConnectionState(s webrtc.ICEConnectionState) (p2p.ICEConnectionState, bool) {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return p2p.ICEConnectionStateNew, true
	case webrtc.ICEConnectionStateChecking:
		return p2p.ICEConnectionStateChecking, true
	case webrtc.ICEConnectionStateConnected:
		return p2p.ICEConnectionStateConnected, true
	case webrtc.ICEConnectionStateCompleted:
		return p2p.ICEConnectionStateCompleted, true
	case webrtc.ICEConnectionStateDisconnected:
		return p2p.ICEConnectionStateDisconnected, true
	case webrtc.ICEConnectionStateFailed:
		return p2p.ICEConnectionStateFailed, true
	case webrtc.ICEConnectionStateClosed:
		return p2p.ICEConnectionStateClosed, true
	default:
		return 0, false
	}
}

func iceGatheringState(s webrtc.ICEGatheringState) (p2p.ICEGatheringState, bool) {
	switch s {
	case webrtc.ICEGatheringStateNew:
		return p2p.ICEGatheringStateNew, true
	case webrtc.ICEGatheringStateGathering:
		return p2p.ICEGatheringStateGathering, true
	case webrtc.ICEGatheringStateComplete:
		return p2p.ICEGatheringStateComplete, true
	default:
		return 0, false
	}
}
