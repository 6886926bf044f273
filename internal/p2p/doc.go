// Package p2p implements the per-peer session layer: one Channel per remote
// peer negotiates invite/accept/deny/stop over signaling, drives SDP
// offer/answer against a media engine, publishes local streams, flushes
// data-channel messages and tears the session down after a connectivity loss
// that outlasts the reconnect grace period.
//
// All session state is owned by a per-channel task queue. Public methods
// return immediately with a Future that settles exactly once.
package p2p
