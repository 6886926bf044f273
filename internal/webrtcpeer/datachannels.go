package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
)

// validateMessageDataChannel checks a remotely opened data channel. Chat text
// must arrive complete and in order, so the channel must be ordered and fully
// reliable.
func validateMessageDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != p2p.DataChannelLabel {
		return fmt.Errorf("%w: expected label=%q (got %q)", ErrInvalidDataChannel, p2p.DataChannelLabel, dc.Label())
	}
	if !dc.Ordered() {
		return fmt.Errorf("%w: %s datachannel must be ordered (ordered=false)", ErrInvalidDataChannel, p2p.DataChannelLabel)
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("%w: %s datachannel must be fully reliable (maxPacketLifeTime must be unset)", ErrInvalidDataChannel, p2p.DataChannelLabel)
	}
	if dc.MaxRetransmits() != nil {
		return fmt.Errorf("%w: %s datachannel must be fully reliable (maxRetransmits must be unset)", ErrInvalidDataChannel, p2p.DataChannelLabel)
	}
	return nil
}

// rejectReason classifies a validation failure for logs.
func rejectReason(dc *webrtc.DataChannel) string {
	switch {
	case dc.Label() != p2p.DataChannelLabel:
		return "unknown_label"
	case dc.MaxRetransmits() != nil || dc.MaxPacketLifeTime() != nil:
		return "partial_reliability"
	case !dc.Ordered():
		return "unordered"
	default:
		return "invalid_datachannel"
	}
}
