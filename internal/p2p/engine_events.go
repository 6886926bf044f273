package p2p

// engineEvents forwards engine callbacks onto the work queue, tagged with
// the session generation the engine was built for.
type engineEvents struct {
	c   *Channel
	gen uint64
}

var _ EngineObserver = (*engineEvents)(nil)

func (e *engineEvents) post(fn func()) {
	e.c.postSession(e.gen, fn)
}

func (e *engineEvents) OnSignalingStateChange(state SignalingState) {
	e.post(func() { e.c.onSignalingStateChange(state) })
}

func (e *engineEvents) OnStreamAdded(stream TransportStream) {
	e.post(func() {
		e.c.remote.transportAdded(stream)
		e.c.exposeRemoteStream(stream.ID)
	})
}

func (e *engineEvents) OnStreamRemoved(streamID string) {
	e.post(func() { e.c.removeRemoteStream(streamID) })
}

func (e *engineEvents) OnDataChannelOpen(label string) {
	e.post(func() {
		if label != DataChannelLabel {
			return
		}
		e.c.dataChannelCreated = true
		e.c.dataChannelOpen = true
		e.c.log.Debug("data channel open", "session_id", e.c.sessionID)
		e.c.drainPendingMessages()
	})
}

func (e *engineEvents) OnDataChannelClose(label string) {
	e.post(func() {
		if label != DataChannelLabel {
			return
		}
		e.c.dataChannelOpen = false
		e.c.dataChannelCreated = false
		e.c.log.Debug("data channel closed", "session_id", e.c.sessionID)
	})
}

func (e *engineEvents) OnDataChannelMessage(label, message string) {
	e.post(func() {
		if label != DataChannelLabel {
			return
		}
		e.c.onDataMessage(message)
	})
}

func (e *engineEvents) OnRenegotiationNeeded() {
	e.post(e.c.requestNegotiation)
}

func (e *engineEvents) OnICEConnectionStateChange(state ICEConnectionState) {
	e.post(func() { e.c.onICEConnectionStateChange(state) })
}

func (e *engineEvents) OnICEGatheringStateChange(state ICEGatheringState) {
	e.post(func() {
		e.c.log.Debug("ice gathering state changed", "session_id", e.c.sessionID, "state", state)
	})
}

func (e *engineEvents) OnICECandidate(cand ICECandidate) {
	e.post(func() { e.c.sendCandidate(cand) })
}
