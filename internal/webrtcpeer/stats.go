package webrtcpeer

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
)

// summarizeStats folds a pion stats report into the session summary. Byte
// counters come from the transport; RTT, bitrate and candidate types come from
// the nominated candidate pair.
func summarizeStats(report webrtc.StatsReport, now time.Time) p2p.ConnectionStats {
	out := p2p.ConnectionStats{Timestamp: now}

	candidates := make(map[string]webrtc.ICECandidateStats)
	var pair *webrtc.ICECandidatePairStats
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.TransportStats:
			out.BytesSent += st.BytesSent
			out.BytesReceived += st.BytesReceived
		case webrtc.OutboundRTPStreamStats:
			out.PacketsSent += uint64(st.PacketsSent)
		case webrtc.InboundRTPStreamStats:
			out.PacketsReceived += uint64(st.PacketsReceived)
			out.PacketsLost += int64(st.PacketsLost)
		case webrtc.DataChannelStats:
			out.DataChannelMessagesSent += uint64(st.MessagesSent)
			out.DataChannelMessagesReceived += uint64(st.MessagesReceived)
		case webrtc.ICECandidateStats:
			candidates[st.ID] = st
		case webrtc.ICECandidatePairStats:
			if !st.Nominated {
				continue
			}
			if pair == nil || (st.State == webrtc.StatsICECandidatePairStateSucceeded && pair.State != webrtc.StatsICECandidatePairStateSucceeded) {
				p := st
				pair = &p
			}
		}
	}

	if pair != nil {
		out.RoundTripTime = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		out.AvailableOutgoingBitrate = pair.AvailableOutgoingBitrate
		if c, ok := candidates[pair.LocalCandidateID]; ok {
			out.LocalCandidateType = c.CandidateType.String()
		}
		if c, ok := candidates[pair.RemoteCandidateID]; ok {
			out.RemoteCandidateType = c.CandidateType.String()
		}
	}
	return out
}
