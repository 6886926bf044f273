package signaling

import (
	"errors"
	"fmt"
)

// FrameType is the discriminator of a relay frame.
type FrameType string

const (
	FrameAuth    FrameType = "auth"
	FrameSend    FrameType = "send"
	FrameDeliver FrameType = "deliver"
	FrameAck     FrameType = "ack"
	FrameError   FrameType = "error"
)

// Error codes carried by error frames.
const (
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeBadMessage   = "bad_message"
	CodePeerOffline  = "peer_offline"
	CodeTooManyPeers = "too_many_peers"
	CodeReplaced     = "replaced"
)

var ErrMalformedFrame = errors.New("signaling: malformed frame")

// Frame is one WebSocket text message between a peer and the relay.
//
//	auth    {apiKey}            peer -> relay, only when the upgrade carried no credential
//	send    {id, to, data}      peer -> relay
//	deliver {from, data}        relay -> peer
//	ack     {id}                relay -> peer, the send was handed to the recipient
//	error   {id?, code, message} relay -> peer
type Frame struct {
	Type FrameType `json:"type"`

	ID   string `json:"id,omitempty"`
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	Data string `json:"data,omitempty"`

	APIKey string `json:"apiKey,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseFrame decodes and validates a frame. Unknown fields and trailing data
// are rejected.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := decodeStrict(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.validate(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

func (f Frame) validate() error {
	switch f.Type {
	case FrameAuth:
		return nil
	case FrameSend:
		if f.ID == "" {
			return errors.New("send frame missing id")
		}
		if f.To == "" {
			return errors.New("send frame missing to")
		}
		if f.Data == "" {
			return errors.New("send frame missing data")
		}
	case FrameDeliver:
		if f.From == "" || f.Data == "" {
			return errors.New("deliver frame missing from or data")
		}
	case FrameAck:
		if f.ID == "" {
			return errors.New("ack frame missing id")
		}
	case FrameError:
		if f.Code == "" {
			return errors.New("error frame missing code")
		}
	case "":
		return errors.New("missing type")
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	return nil
}
