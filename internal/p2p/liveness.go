package p2p

import (
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
)

// liveness holds the reconnect grace timer for a connected session.
type liveness struct {
	lastDisconnect time.Time
	timer          *time.Timer
	// armed numbers each grace period; an expiry only counts if it matches.
	armed uint64
}

func (l *liveness) stop() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (c *Channel) onICEConnectionStateChange(state ICEConnectionState) {
	c.log.Debug("ice connection state changed", "session_id", c.sessionID, "state", state)
	switch state {
	case ICEConnectionStateConnected, ICEConnectionStateCompleted:
		c.iceConnected = true
		if c.live.timer != nil {
			c.live.stop()
			c.incMetric(metrics.ICEReconnected)
			c.log.Info("ice reconnected", "session_id", c.sessionID, "down_for", time.Since(c.live.lastDisconnect))
		}
		c.maybeConnected()
	case ICEConnectionStateDisconnected:
		c.iceConnected = false
		if c.current() != StateConnected || c.live.timer != nil {
			return
		}
		c.live.lastDisconnect = time.Now()
		c.incMetric(metrics.ICEDisconnected)
		c.log.Warn("ice disconnected, waiting for reconnect", "session_id", c.sessionID, "grace", c.reconnectTimeout)
		gen := c.generation
		c.live.armed++
		armed := c.live.armed
		c.live.timer = time.AfterFunc(c.reconnectTimeout, func() {
			c.postSession(gen, func() { c.onReconnectTimeout(armed) })
		})
	case ICEConnectionStateFailed:
		c.iceConnected = false
		c.log.Warn("ice connection failed", "session_id", c.sessionID)
		c.teardown(true, errICEFailed)
	case ICEConnectionStateClosed:
		c.iceConnected = false
	}
}

func (c *Channel) onReconnectTimeout(armed uint64) {
	if c.live.timer == nil || armed != c.live.armed {
		// Stopped or re-armed after this expiry had already fired.
		return
	}
	c.live.timer = nil
	if c.iceConnected || c.current() != StateConnected {
		return
	}
	c.incMetric(metrics.ReconnectTimeouts)
	c.log.Warn("reconnect grace period expired", "session_id", c.sessionID, "disconnected_at", c.live.lastDisconnect)
	c.teardown(false, ErrTimeout)
}
