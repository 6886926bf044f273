package p2p

import (
	"fmt"
	"time"
)

type SessionState string

const (
	StateReady     SessionState = "ready"
	StateOffered   SessionState = "offered"
	StatePending   SessionState = "pending"
	StateMatched   SessionState = "matched"
	StateConnected SessionState = "connected"
)

// StreamKind tags a stream as a camera (including audio-only) or a screen
// share.
type StreamKind int

const (
	StreamKindCamera StreamKind = iota
	StreamKindScreen
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindCamera:
		return "camera"
	case StreamKindScreen:
		return "screen"
	default:
		return fmt.Sprintf("StreamKind(%d)", int(k))
	}
}

// LocalStream is a locally captured stream that can be published to the
// remote peer. Engines may require a concrete implementation to reach the
// underlying tracks.
type LocalStream interface {
	ID() string
	Kind() StreamKind
	HasAudio() bool
	HasVideo() bool
}

// RemoteStream is a stream published by the remote peer. It is only handed
// to observers once both the engine has reported it and the remote has
// announced its type.
type RemoteStream struct {
	ID       string
	Origin   string
	Kind     StreamKind
	HasAudio bool
	HasVideo bool
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType
	SDP  string
}

type ICECandidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
}

type SignalingState int

const (
	SignalingStateStable SignalingState = iota
	SignalingStateHaveLocalOffer
	SignalingStateHaveRemoteOffer
	SignalingStateClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SignalingState(%d)", int(s))
	}
}

type ICEConnectionState int

const (
	ICEConnectionStateNew ICEConnectionState = iota
	ICEConnectionStateChecking
	ICEConnectionStateConnected
	ICEConnectionStateCompleted
	ICEConnectionStateDisconnected
	ICEConnectionStateFailed
	ICEConnectionStateClosed
)

func (s ICEConnectionState) String() string {
	switch s {
	case ICEConnectionStateNew:
		return "new"
	case ICEConnectionStateChecking:
		return "checking"
	case ICEConnectionStateConnected:
		return "connected"
	case ICEConnectionStateCompleted:
		return "completed"
	case ICEConnectionStateDisconnected:
		return "disconnected"
	case ICEConnectionStateFailed:
		return "failed"
	case ICEConnectionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ICEConnectionState(%d)", int(s))
	}
}

type ICEGatheringState int

const (
	ICEGatheringStateNew ICEGatheringState = iota
	ICEGatheringStateGathering
	ICEGatheringStateComplete
)

func (s ICEGatheringState) String() string {
	switch s {
	case ICEGatheringStateNew:
		return "new"
	case ICEGatheringStateGathering:
		return "gathering"
	case ICEGatheringStateComplete:
		return "complete"
	default:
		return fmt.Sprintf("ICEGatheringState(%d)", int(s))
	}
}

// TransportStream is the engine's view of a remote stream: it exists at the
// transport level but carries no declared type.
type TransportStream struct {
	ID       string
	HasAudio bool
	HasVideo bool
}

// ConnectionStats is a summary of the engine's statistics for the session.
type ConnectionStats struct {
	Timestamp time.Time

	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     int64

	// RoundTripTime is the current RTT of the nominated candidate pair.
	RoundTripTime            time.Duration
	AvailableOutgoingBitrate float64

	DataChannelMessagesSent     uint64
	DataChannelMessagesReceived uint64

	LocalCandidateType  string
	RemoteCandidateType string
}
