package p2p

import "errors"

var (
	// ErrInvalidState is returned when an operation is not legal in the current
	// session state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrInvalidArgument is returned for nil or unknown stream references.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCapability is returned when an operation exceeds what the remote peer
	// advertised, e.g. a second video track to a single-track peer.
	ErrCapability     = errors.New("remote capability exceeded")
	ErrSignalingSend  = errors.New("signaling send failed")
	ErrNegotiation    = errors.New("negotiation failed")
	ErrTimeout        = errors.New("reconnect grace period expired")
	ErrSessionStopped = errors.New("session stopped")
	ErrChannelClosed  = errors.New("channel closed")
)

// ErrTooManyChannels is returned by Client when MaxChannels remote peers
// already have a channel.
var ErrTooManyChannels = errors.New("p2p: too many channels")

var (
	errMissingSender   = errors.New("p2p: signaling sender is required")
	errMissingEngine   = errors.New("p2p: engine factory is required")
	errMissingRemoteID = errors.New("p2p: remote id is required")
	errRemoteIsLocal   = errors.New("p2p: remote id equals local id")
	errClientClosed    = errors.New("p2p: client closed")
	errRemoteStopped   = errors.New("stopped by remote peer")
	errICEFailed       = errors.New("ice connection failed")
)
