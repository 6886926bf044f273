package p2p

// DataChannelLabel is the label of the data channel carrying text messages.
const DataChannelLabel = "message"

// Engine is the media-transport collaborator for a single session. A fresh
// Engine is built for every session and closed on teardown.
//
// Asynchronous operations report through done; done may be invoked from any
// goroutine but must be invoked exactly once.
type Engine interface {
	CreateOffer(done func(SessionDescription, error))
	CreateAnswer(done func(SessionDescription, error))
	SetLocalDescription(desc SessionDescription, done func(error))
	SetRemoteDescription(desc SessionDescription, done func(error))
	AddICECandidate(c ICECandidate) error

	AddStream(s LocalStream) error
	RemoveStream(s LocalStream) error

	CreateDataChannel(label string) error
	SendData(label, message string) error

	GetStats(done func(ConnectionStats, error))
	Close() error
}

// EngineObserver receives engine events. Methods may be called from any
// goroutine.
type EngineObserver interface {
	OnSignalingStateChange(state SignalingState)
	OnStreamAdded(stream TransportStream)
	OnStreamRemoved(streamID string)
	OnDataChannelOpen(label string)
	OnDataChannelClose(label string)
	OnDataChannelMessage(label, message string)
	OnRenegotiationNeeded()
	OnICEConnectionStateChange(state ICEConnectionState)
	OnICEGatheringStateChange(state ICEGatheringState)
	OnICECandidate(c ICECandidate)
}

// EngineFactory builds the engine for a new session.
type EngineFactory func(obs EngineObserver) (Engine, error)
