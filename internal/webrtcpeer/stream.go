package webrtcpeer

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
)

var (
	ErrEmptyStream          = errors.New("stream has no tracks")
	ErrTrackStreamMismatch  = errors.New("track stream id does not match stream")
	ErrUnsupportedStream    = errors.New("stream was not built by webrtcpeer")
	ErrDataChannelNotOpen   = errors.New("data channel not open")
	ErrMessageTooLarge      = errors.New("data channel message too large")
	ErrEngineClosed         = errors.New("engine closed")
	ErrInvalidDataChannel   = errors.New("invalid data channel")
	errUnsupportedSDPType   = errors.New("unsupported sdp type")
	errDuplicateStreamAdded = errors.New("stream already added")
)

// Stream is a p2p.LocalStream backed by pion local tracks. Every track must
// carry the stream's id as its stream id so the remote side can group them.
type Stream struct {
	id     string
	kind   p2p.StreamKind
	tracks []webrtc.TrackLocal
}

var _ p2p.LocalStream = (*Stream)(nil)

func NewStream(id string, kind p2p.StreamKind, tracks ...webrtc.TrackLocal) (*Stream, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", p2p.ErrInvalidArgument)
	}
	if len(tracks) == 0 {
		return nil, ErrEmptyStream
	}
	for _, t := range tracks {
		if t.StreamID() != id {
			return nil, fmt.Errorf("%w: track %q has stream id %q, want %q", ErrTrackStreamMismatch, t.ID(), t.StreamID(), id)
		}
	}
	return &Stream{id: id, kind: kind, tracks: append([]webrtc.TrackLocal(nil), tracks...)}, nil
}

// NewSampleStream builds a stream with an Opus audio track and/or a VP8 video
// track that callers feed with WriteSample.
func NewSampleStream(id string, kind p2p.StreamKind, audio, video bool) (*Stream, error) {
	var tracks []webrtc.TrackLocal
	if audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id+"-audio", id)
		if err != nil {
			return nil, fmt.Errorf("new audio track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id+"-video", id)
		if err != nil {
			return nil, fmt.Errorf("new video track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return NewStream(id, kind, tracks...)
}

func (s *Stream) ID() string           { return s.id }
func (s *Stream) Kind() p2p.StreamKind { return s.kind }
func (s *Stream) HasAudio() bool       { return s.has(webrtc.RTPCodecTypeAudio) }
func (s *Stream) HasVideo() bool       { return s.has(webrtc.RTPCodecTypeVideo) }

func (s *Stream) Tracks() []webrtc.TrackLocal {
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *Stream) has(kind webrtc.RTPCodecType) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}
