package p2p

import (
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

// negotiator tracks offer/answer progress for the current session.
//
// Only the caller creates offers. Renegotiation requests that arrive while an
// exchange is in flight are latched in needed and re-checked once the
// exchange settles, so any number of requests collapse into one offer.
type negotiator struct {
	needed         bool
	creatingOffer  bool
	awaitingAnswer bool
	applyingRemote bool

	// pending holds remote signals in arrival order until they can be applied.
	pending []signaling.Signal
}

func (n *negotiator) reset() {
	*n = negotiator{}
}

func (n *negotiator) stable() bool {
	return !n.creatingOffer && !n.awaitingAnswer && !n.applyingRemote
}

func (c *Channel) requestNegotiation() {
	c.neg.needed = true
	c.maybeCreateOffer()
}

func (c *Channel) maybeCreateOffer() {
	if !c.neg.needed || c.engine == nil {
		return
	}
	if st := c.current(); st != StateMatched && st != StateConnected {
		return
	}
	if !c.isCaller {
		if c.neg.applyingRemote {
			return
		}
		c.neg.needed = false
		c.sendEnvelope(signaling.TypeNegotiationNeeded, nil, nil)
		return
	}
	if !c.neg.stable() {
		return
	}
	c.neg.needed = false
	c.neg.creatingOffer = true
	gen := c.generation
	c.engine.CreateOffer(func(desc SessionDescription, err error) {
		c.postSession(gen, func() { c.onOfferCreated(desc, err) })
	})
}

func (c *Channel) onOfferCreated(desc SessionDescription, err error) {
	if err != nil {
		c.neg.creatingOffer = false
		c.negotiationFailed("create offer", err)
		return
	}
	c.incMetric(metrics.OffersCreated)
	gen := c.generation
	c.engine.SetLocalDescription(desc, func(err error) {
		c.postSession(gen, func() { c.onLocalOfferSet(desc, err) })
	})
}

func (c *Channel) onLocalOfferSet(desc SessionDescription, err error) {
	c.neg.creatingOffer = false
	if err != nil {
		c.negotiationFailed("set local offer", err)
		return
	}
	c.localDescSet = true
	c.neg.awaitingAnswer = true
	c.sendEnvelope(signaling.TypeSignal, signaling.Signal{Type: signaling.SignalOffer, SDP: desc.SDP}, nil)
	c.processSignals()
}

// processSignals applies queued remote signals in arrival order. Candidates
// that arrive before any remote description are held back without blocking
// the descriptions queued behind them.
func (c *Channel) processSignals() {
	var held []signaling.Signal
	for len(c.neg.pending) > 0 && !c.neg.applyingRemote && c.engine != nil {
		sig := c.neg.pending[0]
		if sig.Type == signaling.SignalCandidates && !c.remoteDescSet {
			held = append(held, sig)
			c.neg.pending = c.neg.pending[1:]
			continue
		}
		if sig.Type == signaling.SignalOffer && c.neg.creatingOffer {
			break
		}
		c.neg.pending = c.neg.pending[1:]
		switch sig.Type {
		case signaling.SignalCandidates:
			err := c.engine.AddICECandidate(ICECandidate{
				Candidate:        sig.Candidate,
				SDPMid:           sig.SDPMid,
				SDPMLineIndex:    sig.SDPMLineIndex,
				UsernameFragment: sig.UsernameFragment,
			})
			if err != nil {
				c.log.Warn("failed to add remote candidate", "session_id", c.sessionID, "err", err)
			}
		case signaling.SignalOffer:
			if c.neg.awaitingAnswer {
				c.incMetric(metrics.EnvelopeDropped)
				c.log.Warn("dropping remote offer, local offer outstanding", "session_id", c.sessionID)
				continue
			}
			c.applyRemoteOffer(sig.SDP)
		case signaling.SignalAnswer:
			if !c.neg.awaitingAnswer {
				c.incMetric(metrics.EnvelopeDropped)
				c.log.Warn("dropping answer without outstanding offer", "session_id", c.sessionID)
				continue
			}
			c.applyRemoteAnswer(sig.SDP)
		}
	}
	if len(held) > 0 {
		c.neg.pending = append(held, c.neg.pending...)
	}
}

func (c *Channel) applyRemoteOffer(sdp string) {
	c.neg.applyingRemote = true
	gen := c.generation
	c.engine.SetRemoteDescription(SessionDescription{Type: SDPTypeOffer, SDP: sdp}, func(err error) {
		c.postSession(gen, func() { c.onRemoteOfferSet(err) })
	})
}

func (c *Channel) onRemoteOfferSet(err error) {
	if err != nil {
		c.neg.applyingRemote = false
		c.negotiationFailed("set remote offer", err)
		return
	}
	c.remoteDescSet = true
	gen := c.generation
	c.engine.CreateAnswer(func(desc SessionDescription, err error) {
		c.postSession(gen, func() { c.onAnswerCreated(desc, err) })
	})
}

func (c *Channel) onAnswerCreated(desc SessionDescription, err error) {
	if err != nil {
		c.neg.applyingRemote = false
		c.negotiationFailed("create answer", err)
		return
	}
	c.incMetric(metrics.AnswersCreated)
	gen := c.generation
	c.engine.SetLocalDescription(desc, func(err error) {
		c.postSession(gen, func() { c.onLocalAnswerSet(desc, err) })
	})
}

func (c *Channel) onLocalAnswerSet(desc SessionDescription, err error) {
	c.neg.applyingRemote = false
	if err != nil {
		c.negotiationFailed("set local answer", err)
		return
	}
	c.localDescSet = true
	c.sendEnvelope(signaling.TypeSignal, signaling.Signal{Type: signaling.SignalAnswer, SDP: desc.SDP}, nil)
	c.maybeConnected()
	c.checkWaitedList()
}

func (c *Channel) applyRemoteAnswer(sdp string) {
	c.neg.applyingRemote = true
	gen := c.generation
	c.engine.SetRemoteDescription(SessionDescription{Type: SDPTypeAnswer, SDP: sdp}, func(err error) {
		c.postSession(gen, func() { c.onRemoteAnswerSet(err) })
	})
}

func (c *Channel) onRemoteAnswerSet(err error) {
	c.neg.applyingRemote = false
	c.neg.awaitingAnswer = false
	if err != nil {
		c.negotiationFailed("set remote answer", err)
		return
	}
	c.remoteDescSet = true
	c.maybeConnected()
	c.checkWaitedList()
}

func (c *Channel) onSignalingStateChange(state SignalingState) {
	c.signalingState = state
	c.log.Debug("signaling state changed", "session_id", c.sessionID, "state", state)
	if state == SignalingStateStable {
		c.checkWaitedList()
	}
}

// checkWaitedList resumes everything that waits for a stable exchange.
func (c *Channel) checkWaitedList() {
	c.processSignals()
	c.drainPendingStreams()
	c.drainPendingMessages()
	c.maybeCreateOffer()
}

// negotiationFailed tears the session down if it never connected. A failed
// renegotiation leaves the running session in place.
func (c *Channel) negotiationFailed(op string, err error) {
	c.incMetric(metrics.NegotiationFailures)
	if c.current() != StateConnected {
		c.log.Error("negotiation failed", "session_id", c.sessionID, "op", op, "err", err)
		c.teardown(true, fmt.Errorf("%w: %s: %v", ErrNegotiation, op, err))
		return
	}
	c.log.Warn("renegotiation failed", "session_id", c.sessionID, "op", op, "err", err)
	c.checkWaitedList()
}

func (c *Channel) maybeConnected() {
	if c.current() != StateMatched || !c.localDescSet || !c.remoteDescSet || !c.iceConnected {
		return
	}
	if err := c.transition(eventConnect); err != nil {
		c.log.Error("connect transition failed", "err", err)
		return
	}
	if !c.started {
		c.started = true
		c.incMetric(metrics.SessionStarted)
		c.log.Info("session started", "session_id", c.sessionID, "caller", c.isCaller)
		remoteID := c.remoteID
		c.notify(func(o Observer) { o.OnStarted(remoteID) })
	}
	c.drainPendingStreams()
	c.drainPendingMessages()
}
