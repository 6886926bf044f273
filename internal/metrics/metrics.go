package metrics

import "sync"

// Event counter names shared by the session layer and the signaling relay.
const (
	SessionInvitesSent     = "session_invites_sent"
	SessionInvitesReceived = "session_invites_received"
	SessionStarted         = "session_started"
	SessionStopped         = "session_stopped"
	SessionDenied          = "session_denied"

	EnvelopeDropped     = "envelope_dropped"
	SignalingSendFailed = "signaling_send_failed"

	OffersCreated       = "offers_created"
	AnswersCreated      = "answers_created"
	NegotiationFailures = "negotiation_failures"

	ICEDisconnected   = "ice_disconnected"
	ICEReconnected    = "ice_reconnected"
	ReconnectTimeouts = "reconnect_timeouts"

	StreamsPublished   = "streams_published"
	StreamsUnpublished = "streams_unpublished"
	CapabilityRejected = "capability_rejected"

	DataMessagesSent     = "data_messages_sent"
	DataMessagesReceived = "data_messages_received"

	RelayConnections      = "relay_connections"
	RelayFramesDelivered  = "relay_frames_delivered"
	RelayPeerOffline      = "relay_peer_offline"
	RelayRateLimited      = "relay_rate_limited"
	RelayAuthFailures     = "relay_auth_failures"
	RelayDuplicatePeerIDs = "relay_duplicate_peer_ids"
	RelayOriginRejected   = "relay_origin_rejected"

	HTTPRequests = "http_requests"
	HTTPPanics   = "http_panics"
)

// Metrics is a minimal, concurrency-safe counter registry. A nil *Metrics
// discards every update so optional wiring needs no guards.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
