package p2p

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

const sdkType = "aero-go"

// Capabilities are the feature flags a peer advertised in its user-agent
// descriptor. The zero value is the most conservative peer.
type Capabilities struct {
	MultiTrack      bool
	StreamRemovable bool
}

func capabilitiesFromUA(ua *signaling.UserAgent) Capabilities {
	return Capabilities{
		MultiTrack:      ua.Supports(signaling.CapabilityMultiTrack),
		StreamRemovable: ua.Supports(signaling.CapabilityStreamRemovable),
	}
}

// LocalUserAgent describes this build. It is sent with every invitation and
// acceptance.
func LocalUserAgent() signaling.UserAgent {
	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	return signaling.UserAgent{
		SDK:     &signaling.SDKInfo{Type: sdkType, Version: version},
		Runtime: &signaling.ComponentInfo{Name: "go", Version: runtime.Version()},
		OS:      &signaling.ComponentInfo{Name: runtime.GOOS, Version: runtime.GOARCH},
		Capabilities: map[string]bool{
			signaling.CapabilityMultiTrack:      true,
			signaling.CapabilityStreamRemovable: true,
		},
	}
}

// checkPublish reports whether s may be published on top of the streams in
// current. Peers without multi-track support accept at most one audio and
// one video track.
func (c Capabilities) checkPublish(current []LocalStream, s LocalStream) error {
	if c.MultiTrack {
		return nil
	}
	var audio, video int
	for _, st := range current {
		if st.ID() == s.ID() {
			continue
		}
		if st.HasAudio() {
			audio++
		}
		if st.HasVideo() {
			video++
		}
	}
	if s.HasAudio() && audio > 0 {
		return fmt.Errorf("%w: remote accepts a single audio track", ErrCapability)
	}
	if s.HasVideo() && video > 0 {
		return fmt.Errorf("%w: remote accepts a single video track", ErrCapability)
	}
	return nil
}
