// Package signaling carries peer-to-peer signaling envelopes between peers.
//
// Envelopes (invite, accept, deny, stop, signal, negotiation-needed,
// stream-type, ua) are opaque to the relay: a peer wraps each one in a
// "send" frame addressed to a remote peer id, and the relay hands it to that
// peer as a "deliver" frame over its WebSocket.
package signaling
