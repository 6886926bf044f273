package webrtcpeer

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
)

func TestNewSampleStream(t *testing.T) {
	s, err := NewSampleStream("screen", p2p.StreamKindScreen, false, true)
	if err != nil {
		t.Fatalf("NewSampleStream: %v", err)
	}
	if s.ID() != "screen" || s.Kind() != p2p.StreamKindScreen {
		t.Fatalf("id/kind=%q/%q", s.ID(), s.Kind())
	}
	if s.HasAudio() || !s.HasVideo() {
		t.Fatalf("HasAudio=%t HasVideo=%t, want video only", s.HasAudio(), s.HasVideo())
	}
	tracks := s.Tracks()
	if len(tracks) != 1 || tracks[0].ID() != "screen-video" || tracks[0].StreamID() != "screen" {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
}

func TestNewSampleStream_NoTracks(t *testing.T) {
	if _, err := NewSampleStream("cam", p2p.StreamKindCamera, false, false); !errors.Is(err, ErrEmptyStream) {
		t.Fatalf("err=%v, want %v", err, ErrEmptyStream)
	}
}

func TestNewStream_Validation(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "other")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	if _, err := NewStream("", p2p.StreamKindCamera, track); !errors.Is(err, p2p.ErrInvalidArgument) {
		t.Fatalf("empty id err=%v, want %v", err, p2p.ErrInvalidArgument)
	}
	if _, err := NewStream("cam", p2p.StreamKindCamera, track); !errors.Is(err, ErrTrackStreamMismatch) {
		t.Fatalf("mismatch err=%v, want %v", err, ErrTrackStreamMismatch)
	}
	s, err := NewStream("other", p2p.StreamKindCamera, track)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if !s.HasAudio() || s.HasVideo() {
		t.Fatalf("HasAudio=%t HasVideo=%t, want audio only", s.HasAudio(), s.HasVideo())
	}
}
