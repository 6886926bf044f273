package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EnvelopeType is the discriminator of a peer-to-peer signaling envelope.
type EnvelopeType string

const (
	TypeInvite            EnvelopeType = "invite"
	TypeAccept            EnvelopeType = "accept"
	TypeDeny              EnvelopeType = "deny"
	TypeStop              EnvelopeType = "stop"
	TypeSignal            EnvelopeType = "signal"
	TypeNegotiationNeeded EnvelopeType = "negotiation-needed"
	TypeStreamType        EnvelopeType = "stream-type"
	TypeUserAgent         EnvelopeType = "ua"
)

var (
	ErrUnknownEnvelope = errors.New("signaling: unknown envelope type")
	ErrMalformed       = errors.New("signaling: malformed envelope")
)

// Envelope is the opaque unit exchanged between two peers. Data is decoded
// lazily by the typed accessors below.
type Envelope struct {
	Type EnvelopeType    `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Invitation is the payload of invite and accept envelopes.
type Invitation struct {
	UA *UserAgent `json:"ua,omitempty"`
}

// Capability markers carried in UserAgent.Capabilities.
const (
	CapabilityMultiTrack      = "multiTrack"
	CapabilityStreamRemovable = "streamRemovable"
)

type SDKInfo struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

type ComponentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// UserAgent describes the sending SDK and the optional features it supports.
// A capability missing from the map is unsupported.
type UserAgent struct {
	SDK          *SDKInfo        `json:"sdk,omitempty"`
	Runtime      *ComponentInfo  `json:"runtime,omitempty"`
	OS           *ComponentInfo  `json:"os,omitempty"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

func (ua *UserAgent) Supports(capability string) bool {
	if ua == nil {
		return false
	}
	return ua.Capabilities[capability]
}

type SignalType string

const (
	SignalOffer      SignalType = "offer"
	SignalAnswer     SignalType = "answer"
	SignalCandidates SignalType = "candidates"
)

// Signal carries either a session description or a single ICE candidate.
type Signal struct {
	Type SignalType `json:"type"`
	SDP  string     `json:"sdp,omitempty"`

	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (s Signal) validate() error {
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return fmt.Errorf("%s signal missing sdp", s.Type)
		}
		if s.Candidate != "" || s.SDPMid != nil || s.SDPMLineIndex != nil || s.UsernameFragment != nil {
			return fmt.Errorf("%s signal has unexpected candidate fields", s.Type)
		}
	case SignalCandidates:
		if s.SDP != "" {
			return fmt.Errorf("candidates signal has unexpected sdp")
		}
	default:
		return fmt.Errorf("unsupported signal type %q", s.Type)
	}
	return nil
}

// Declared media types announced through stream-type envelopes.
const (
	StreamTypeCamera = "camera"
	StreamTypeScreen = "screen"
	StreamTypeAudio  = "audio"
)

// StreamTypeInfo maps a transport stream label to its declared media type.
// Removed announces that the sender unpublished the stream.
type StreamTypeInfo struct {
	StreamID string `json:"streamId"`
	Type     string `json:"type,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

func (s StreamTypeInfo) validate() error {
	if s.StreamID == "" {
		return fmt.Errorf("stream-type missing streamId")
	}
	if s.Removed {
		return nil
	}
	switch s.Type {
	case StreamTypeCamera, StreamTypeScreen, StreamTypeAudio:
		return nil
	default:
		return fmt.Errorf("unsupported stream type %q", s.Type)
	}
}

// ParseEnvelope decodes and validates an incoming envelope.
//
// Unknown top-level fields and trailing data are rejected. Payloads of
// data-less envelopes (deny, stop, negotiation-needed) must be absent or null.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validate() error {
	switch e.Type {
	case TypeInvite, TypeAccept:
		if _, err := e.Invitation(); err != nil {
			return err
		}
	case TypeDeny, TypeStop, TypeNegotiationNeeded:
		if !isEmptyPayload(e.Data) {
			return fmt.Errorf("%w: %s envelope has unexpected data", ErrMalformed, e.Type)
		}
	case TypeSignal:
		if _, err := e.Signal(); err != nil {
			return err
		}
	case TypeStreamType:
		if _, err := e.StreamType(); err != nil {
			return err
		}
	case TypeUserAgent:
		if _, err := e.UserAgent(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEnvelope, e.Type)
	}
	return nil
}

func (e Envelope) Invitation() (Invitation, error) {
	var inv Invitation
	if isEmptyPayload(e.Data) {
		return inv, nil
	}
	// The user agent block is produced by other SDKs; tolerate fields we don't
	// know about.
	if err := json.Unmarshal(e.Data, &inv); err != nil {
		return Invitation{}, fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return inv, nil
}

func (e Envelope) Signal() (Signal, error) {
	var s Signal
	if err := decodeStrict(e.Data, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: signal data: %v", ErrMalformed, err)
	}
	if err := s.validate(); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

func (e Envelope) StreamType() (StreamTypeInfo, error) {
	var info StreamTypeInfo
	if err := decodeStrict(e.Data, &info); err != nil {
		return StreamTypeInfo{}, fmt.Errorf("%w: stream-type data: %v", ErrMalformed, err)
	}
	if err := info.validate(); err != nil {
		return StreamTypeInfo{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return info, nil
}

func (e Envelope) UserAgent() (UserAgent, error) {
	var ua UserAgent
	if isEmptyPayload(e.Data) {
		return UserAgent{}, fmt.Errorf("%w: ua envelope missing data", ErrMalformed)
	}
	if err := json.Unmarshal(e.Data, &ua); err != nil {
		return UserAgent{}, fmt.Errorf("%w: ua data: %v", ErrMalformed, err)
	}
	return ua, nil
}

// Encode builds the wire form of an envelope. payload may be nil for
// data-less envelopes.
func Encode(t EnvelopeType, payload any) (string, error) {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Data = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", t, err)
	}
	return string(b), nil
}

func isEmptyPayload(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
