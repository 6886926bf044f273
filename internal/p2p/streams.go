package p2p

import (
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

// drainPendingStreams hands queued publish and unpublish requests to the
// engine. It runs only while connected with no offer/answer exchange in
// flight.
func (c *Channel) drainPendingStreams() {
	if c.engine == nil || c.current() != StateConnected || !c.neg.stable() {
		return
	}
	renegotiate := false
	for _, r := range c.pendingPublish.take() {
		if c.publishStream(r) {
			renegotiate = true
		}
	}
	for _, r := range c.pendingUnpublish.take() {
		if c.unpublishStream(r) {
			renegotiate = true
		}
	}
	if renegotiate {
		c.requestNegotiation()
	}
}

func (c *Channel) publishStream(r streamRequest) bool {
	id := r.stream.ID()
	if c.published.has(id) {
		r.result.resolve(struct{}{})
		return false
	}
	if err := c.remoteCaps.checkPublish(c.published.list(), r.stream); err != nil {
		c.incMetric(metrics.CapabilityRejected)
		r.result.reject(fmt.Errorf("publish %s: %w", id, err))
		return false
	}
	if err := c.engine.AddStream(r.stream); err != nil {
		r.result.reject(fmt.Errorf("publish %s: %w", id, err))
		return false
	}
	c.published.add(r.stream)
	c.sendEnvelope(signaling.TypeStreamType, signaling.StreamTypeInfo{
		StreamID: id,
		Type:     declaredType(r.stream),
	}, nil)
	c.incMetric(metrics.StreamsPublished)
	c.log.Debug("stream published", "session_id", c.sessionID, "stream_id", id)
	r.result.resolve(struct{}{})
	return true
}

func (c *Channel) unpublishStream(r streamRequest) bool {
	id := r.stream.ID()
	if !c.published.has(id) {
		r.result.resolve(struct{}{})
		return false
	}
	if err := c.engine.RemoveStream(r.stream); err != nil {
		r.result.reject(fmt.Errorf("unpublish %s: %w", id, err))
		return false
	}
	c.published.remove(id)
	if c.remoteCaps.StreamRemovable {
		c.sendEnvelope(signaling.TypeStreamType, signaling.StreamTypeInfo{StreamID: id, Removed: true}, nil)
	}
	c.incMetric(metrics.StreamsUnpublished)
	c.log.Debug("stream unpublished", "session_id", c.sessionID, "stream_id", id)
	r.result.resolve(struct{}{})
	return true
}

func declaredType(s LocalStream) string {
	switch {
	case s.Kind() == StreamKindScreen:
		return signaling.StreamTypeScreen
	case s.HasAudio() && !s.HasVideo():
		return signaling.StreamTypeAudio
	default:
		return signaling.StreamTypeCamera
	}
}

func kindFromDeclaredType(t string) StreamKind {
	if t == signaling.StreamTypeScreen {
		return StreamKindScreen
	}
	return StreamKindCamera
}

// drainPendingMessages flushes queued text messages once the data channel is
// open. The caller opens the channel on demand.
func (c *Channel) drainPendingMessages() {
	if c.engine == nil {
		return
	}
	if st := c.current(); st != StateMatched && st != StateConnected {
		return
	}
	if !c.dataChannelOpen {
		c.ensureDataChannel()
		return
	}
	for _, r := range c.pendingMessages.take() {
		if err := c.engine.SendData(DataChannelLabel, r.text); err != nil {
			r.result.reject(fmt.Errorf("send: %w", err))
			continue
		}
		c.incMetric(metrics.DataMessagesSent)
		r.result.resolve(struct{}{})
	}
}

func (c *Channel) ensureDataChannel() {
	if !c.isCaller || c.dataChannelCreated || c.pendingMessages.len() == 0 {
		return
	}
	if err := c.engine.CreateDataChannel(DataChannelLabel); err != nil {
		c.log.Warn("failed to create data channel", "session_id", c.sessionID, "err", err)
		return
	}
	c.dataChannelCreated = true
	c.requestNegotiation()
}

func (c *Channel) onDataMessage(message string) {
	c.incMetric(metrics.DataMessagesReceived)
	remoteID := c.remoteID
	c.notify(func(o Observer) { o.OnData(remoteID, message) })
}

// remoteStreams reconciles the engine's transport streams with the remote's
// stream-type announcements. A stream is exposed once both are known.
type remoteStreams struct {
	transport map[string]TransportStream
	declared  map[string]StreamKind
	exposed   map[string]*RemoteStream
}

func newRemoteStreams() remoteStreams {
	return remoteStreams{
		transport: make(map[string]TransportStream),
		declared:  make(map[string]StreamKind),
		exposed:   make(map[string]*RemoteStream),
	}
}

func (r *remoteStreams) transportAdded(s TransportStream) {
	r.transport[s.ID] = s
}

func (r *remoteStreams) declare(id string, kind StreamKind) {
	r.declared[id] = kind
}

// reconcile returns the newly exposed stream for id, or nil if it is already
// exposed or not yet fully known.
func (r *remoteStreams) reconcile(id, origin string) *RemoteStream {
	if _, ok := r.exposed[id]; ok {
		return nil
	}
	ts, ok := r.transport[id]
	if !ok {
		return nil
	}
	kind, ok := r.declared[id]
	if !ok {
		return nil
	}
	rs := &RemoteStream{
		ID:       id,
		Origin:   origin,
		Kind:     kind,
		HasAudio: ts.HasAudio,
		HasVideo: ts.HasVideo,
	}
	r.exposed[id] = rs
	return rs
}

// remove forgets id and returns the stream if it had been exposed.
func (r *remoteStreams) remove(id string) *RemoteStream {
	delete(r.transport, id)
	delete(r.declared, id)
	rs, ok := r.exposed[id]
	if !ok {
		return nil
	}
	delete(r.exposed, id)
	return rs
}

func (r *remoteStreams) clear() []*RemoteStream {
	out := make([]*RemoteStream, 0, len(r.exposed))
	for _, rs := range r.exposed {
		out = append(out, rs)
	}
	clear(r.transport)
	clear(r.declared)
	clear(r.exposed)
	return out
}

func (c *Channel) exposeRemoteStream(id string) {
	rs := c.remote.reconcile(id, c.remoteID)
	if rs == nil {
		return
	}
	c.log.Debug("remote stream added", "session_id", c.sessionID, "stream_id", id, "kind", rs.Kind)
	c.notify(func(o Observer) { o.OnStreamAdded(rs) })
}

func (c *Channel) removeRemoteStream(id string) {
	rs := c.remote.remove(id)
	if rs == nil {
		return
	}
	c.log.Debug("remote stream removed", "session_id", c.sessionID, "stream_id", id)
	c.notify(func(o Observer) { o.OnStreamRemoved(rs) })
}
