package config

import "fmt"

// pion/sctp refuses an association whose advertised receive window is below
// one MTU-sized chunk.
const minWebRTCSCTPReceiveBufferBytes = 1500

// resolveDataChannelLimits validates the message cap and returns the SCTP
// receive buffer to configure. sctpBuf == 0 picks a buffer that holds two
// maximum-size messages, but never less than the 1MiB default.
func resolveDataChannelLimits(maxMessage, sctpBuf int) (int, error) {
	if maxMessage <= 0 {
		return 0, fmt.Errorf("%s/--%s must be > 0", envVarWebRTCDataChannelMaxMessageBytes, flagWebRTCDataChannelMaxMessageBytes)
	}
	switch {
	case sctpBuf < 0:
		return 0, fmt.Errorf("%s/--%s must be >= 0 (0 = auto)", envVarWebRTCSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes)
	case sctpBuf == 0:
		return max(DefaultWebRTCSCTPMaxReceiveBufferBytes, 2*maxMessage), nil
	case sctpBuf < minWebRTCSCTPReceiveBufferBytes:
		return 0, fmt.Errorf("%s/--%s must be >= %d", envVarWebRTCSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, minWebRTCSCTPReceiveBufferBytes)
	case sctpBuf < maxMessage:
		// A message larger than the window can never be reassembled.
		return 0, fmt.Errorf("%s/--%s (%d) must be >= %s (%d)",
			envVarWebRTCSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, sctpBuf,
			envVarWebRTCDataChannelMaxMessageBytes, maxMessage)
	}
	return sctpBuf, nil
}
