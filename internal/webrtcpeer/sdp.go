package webrtcpeer

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
)

// remoteStreamsFromSDP lists the streams the author of raw is sending, keyed
// by msid stream id. Rejected, recvonly and inactive media sections are not
// sending anything.
func remoteStreamsFromSDP(raw string) (map[string]p2p.TransportStream, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	out := make(map[string]p2p.TransportStream)
	for _, md := range sd.MediaDescriptions {
		media := md.MediaName.Media
		if media != "audio" && media != "video" {
			continue
		}
		if md.MediaName.Port.Value == 0 || !sendsMedia(md) {
			continue
		}
		for _, id := range msidStreams(md) {
			s := out[id]
			s.ID = id
			if media == "audio" {
				s.HasAudio = true
			} else {
				s.HasVideo = true
			}
			out[id] = s
		}
	}
	return out, nil
}

func sendsMedia(md *sdp.MediaDescription) bool {
	if _, ok := md.Attribute(sdp.AttrKeyRecvOnly); ok {
		return false
	}
	if _, ok := md.Attribute(sdp.AttrKeyInactive); ok {
		return false
	}
	return true
}

// msidStreams returns the stream ids of every a=msid line ("<stream> <track>")
// in md. A "-" stream id means the track belongs to no stream.
func msidStreams(md *sdp.MediaDescription) []string {
	var ids []string
	for _, a := range md.Attributes {
		if a.Key != sdp.AttrKeyMsid {
			continue
		}
		fields := strings.Fields(a.Value)
		if len(fields) == 0 || fields[0] == "-" {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids
}
