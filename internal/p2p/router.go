package p2p

import (
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

func (c *Channel) handleEnvelope(message string) {
	env, err := signaling.ParseEnvelope([]byte(message))
	if err != nil {
		c.dropEnvelope("malformed signaling message", err)
		return
	}
	switch env.Type {
	case signaling.TypeInvite:
		inv, err := env.Invitation()
		if err != nil {
			c.dropEnvelope("bad invitation", err)
			return
		}
		c.onRemoteInvite(inv)
	case signaling.TypeAccept:
		inv, err := env.Invitation()
		if err != nil {
			c.dropEnvelope("bad acceptance", err)
			return
		}
		c.onRemoteAccept(inv)
	case signaling.TypeDeny:
		c.onRemoteDeny()
	case signaling.TypeStop:
		c.onRemoteStop()
	case signaling.TypeSignal:
		sig, err := env.Signal()
		if err != nil {
			c.dropEnvelope("bad signal", err)
			return
		}
		c.onRemoteSignal(sig)
	case signaling.TypeNegotiationNeeded:
		c.onRemoteNegotiationNeeded()
	case signaling.TypeStreamType:
		info, err := env.StreamType()
		if err != nil {
			c.dropEnvelope("bad stream-type", err)
			return
		}
		c.onRemoteStreamType(info)
	case signaling.TypeUserAgent:
		ua, err := env.UserAgent()
		if err != nil {
			c.dropEnvelope("bad user agent", err)
			return
		}
		c.remoteCaps = capabilitiesFromUA(&ua)
	}
}

func (c *Channel) dropEnvelope(msg string, err error) {
	c.incMetric(metrics.EnvelopeDropped)
	c.log.Warn("dropping signaling message: "+msg, "err", err)
}

func (c *Channel) onRemoteInvite(inv signaling.Invitation) {
	if st := c.current(); st != StateReady {
		c.log.Debug("ignoring invitation, session already active", "state", st)
		return
	}
	if err := c.transition(eventInvited); err != nil {
		c.log.Error("invitation transition failed", "err", err)
		return
	}
	c.newSession(false)
	c.remoteCaps = capabilitiesFromUA(inv.UA)
	c.incMetric(metrics.SessionInvitesReceived)
	remoteID := c.remoteID
	c.notify(func(o Observer) { o.OnInvited(remoteID) })
}

func (c *Channel) onRemoteAccept(inv signaling.Invitation) {
	if st := c.current(); st != StateOffered {
		c.log.Debug("ignoring acceptance", "state", st)
		return
	}
	if err := c.transition(eventAccepted); err != nil {
		c.log.Error("acceptance transition failed", "err", err)
		return
	}
	c.remoteCaps = capabilitiesFromUA(inv.UA)
	remoteID := c.remoteID
	c.notify(func(o Observer) { o.OnAccepted(remoteID) })

	if err := c.startEngine(); err != nil {
		c.log.Error("failed to create engine", "session_id", c.sessionID, "err", err)
		c.teardown(true, fmt.Errorf("%w: %v", ErrNegotiation, err))
		return
	}
	if err := c.engine.CreateDataChannel(DataChannelLabel); err != nil {
		c.log.Warn("failed to create data channel", "session_id", c.sessionID, "err", err)
	} else {
		c.dataChannelCreated = true
	}
	c.requestNegotiation()
}

func (c *Channel) onRemoteDeny() {
	if st := c.current(); st != StateOffered {
		c.log.Debug("ignoring denial", "state", st)
		return
	}
	c.resetSession()
	c.incMetric(metrics.SessionDenied)
	remoteID := c.remoteID
	c.notify(func(o Observer) { o.OnDenied(remoteID) })
}

func (c *Channel) onRemoteStop() {
	if c.current() == StateReady {
		c.log.Debug("ignoring stop, no active session")
		return
	}
	c.teardown(false, errRemoteStopped)
}

func (c *Channel) onRemoteSignal(sig signaling.Signal) {
	st := c.current()
	if c.engine == nil || (st != StateMatched && st != StateConnected) {
		c.incMetric(metrics.EnvelopeDropped)
		c.log.Warn("dropping signal outside of a session", "state", st, "signal", sig.Type)
		return
	}
	c.neg.pending = append(c.neg.pending, sig)
	c.processSignals()
}

func (c *Channel) onRemoteNegotiationNeeded() {
	if !c.isCaller || c.engine == nil {
		c.log.Debug("ignoring negotiation request", "caller", c.isCaller)
		return
	}
	c.requestNegotiation()
}

func (c *Channel) onRemoteStreamType(info signaling.StreamTypeInfo) {
	if c.current() == StateReady {
		return
	}
	if info.Removed {
		c.removeRemoteStream(info.StreamID)
		return
	}
	c.remote.declare(info.StreamID, kindFromDeclaredType(info.Type))
	c.exposeRemoteStream(info.StreamID)
}

func (c *Channel) sendCandidate(cand ICECandidate) {
	c.sendEnvelope(signaling.TypeSignal, signaling.Signal{
		Type:             signaling.SignalCandidates,
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	}, nil)
}
