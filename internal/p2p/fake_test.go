package p2p

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

const testTimeout = 5 * time.Second

type testStream struct {
	id    string
	kind  StreamKind
	audio bool
	video bool
}

func (s *testStream) ID() string       { return s.id }
func (s *testStream) Kind() StreamKind { return s.kind }
func (s *testStream) HasAudio() bool   { return s.audio }
func (s *testStream) HasVideo() bool   { return s.video }

func camera(id string) *testStream { return &testStream{id: id, audio: true, video: true} }
func screen(id string) *testStream { return &testStream{id: id, kind: StreamKindScreen, video: true} }

// fakeLink connects the current engines of two peers. Descriptions carry no
// real media: a side learns about the other side's streams when it applies a
// remote description, the way msid lines would be read from real SDP.
type fakeLink struct {
	async bool

	mu      sync.Mutex
	engines [2]*fakeEngine
	all     [2][]*fakeEngine

	failFactory error
}

func (l *fakeLink) factory(side int) EngineFactory {
	return func(obs EngineObserver) (Engine, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.failFactory != nil {
			return nil, l.failFactory
		}
		e := &fakeEngine{
			link:      l,
			side:      side,
			obs:       obs,
			streams:   make(map[string]LocalStream),
			announced: make(map[string]bool),
		}
		l.engines[side] = e
		l.all[side] = append(l.all[side], e)
		return e, nil
	}
}

func (l *fakeLink) engine(side int) *fakeEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engines[side]
}

func (l *fakeLink) engineCount(side int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.all[side])
}

type fakeEngine struct {
	link *fakeLink
	side int
	obs  EngineObserver

	mu sync.Mutex

	offers          int
	answers         int
	offersInFlight  int
	maxOfferFlights int
	localDescs      []SessionDescription
	remoteDescs     []SessionDescription
	candidates      []ICECandidate
	localSet        bool
	remoteSet       bool
	iceReported     bool

	streams   map[string]LocalStream
	announced map[string]bool
	adds      int
	removes   int

	dataChannels int
	dcOpen       bool
	sent         []string

	closed bool

	failOffer     error
	failSetRemote error
	failAdd       error
}

func (e *fakeEngine) run(fn func()) {
	if !e.link.async {
		fn()
		return
	}
	go func() {
		time.Sleep(time.Duration(rand.Intn(1500)) * time.Microsecond)
		fn()
	}()
}

func (e *fakeEngine) CreateOffer(done func(SessionDescription, error)) {
	e.mu.Lock()
	e.offers++
	n := e.offers
	e.offersInFlight++
	if e.offersInFlight > e.maxOfferFlights {
		e.maxOfferFlights = e.offersInFlight
	}
	fail := e.failOffer
	e.mu.Unlock()
	e.run(func() {
		if fail != nil {
			e.mu.Lock()
			e.offersInFlight--
			e.mu.Unlock()
			done(SessionDescription{}, fail)
			return
		}
		done(SessionDescription{Type: SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", e.side, n)}, nil)
	})
}

func (e *fakeEngine) CreateAnswer(done func(SessionDescription, error)) {
	e.mu.Lock()
	e.answers++
	n := e.answers
	e.mu.Unlock()
	e.run(func() {
		done(SessionDescription{Type: SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d-%d", e.side, n)}, nil)
	})
}

func (e *fakeEngine) SetLocalDescription(desc SessionDescription, done func(error)) {
	e.run(func() {
		e.mu.Lock()
		e.localDescs = append(e.localDescs, desc)
		e.localSet = true
		if desc.Type == SDPTypeOffer {
			e.offersInFlight--
		}
		e.mu.Unlock()
		done(nil)
		e.maybeConnect()
	})
}

func (e *fakeEngine) SetRemoteDescription(desc SessionDescription, done func(error)) {
	e.run(func() {
		e.mu.Lock()
		if e.failSetRemote != nil {
			err := e.failSetRemote
			e.mu.Unlock()
			done(err)
			return
		}
		e.remoteDescs = append(e.remoteDescs, desc)
		e.remoteSet = true
		e.mu.Unlock()
		e.syncRemoteStreams()
		done(nil)
		e.maybeConnect()
	})
}

func (e *fakeEngine) syncRemoteStreams() {
	peer := e.link.engine(1 - e.side)
	remote := map[string]LocalStream{}
	if peer != nil {
		peer.mu.Lock()
		for id, s := range peer.streams {
			remote[id] = s
		}
		peer.mu.Unlock()
	}

	var added []TransportStream
	var removed []string
	e.mu.Lock()
	for id, s := range remote {
		if !e.announced[id] {
			e.announced[id] = true
			added = append(added, TransportStream{ID: id, HasAudio: s.HasAudio(), HasVideo: s.HasVideo()})
		}
	}
	for id := range e.announced {
		if _, ok := remote[id]; !ok {
			delete(e.announced, id)
			removed = append(removed, id)
		}
	}
	e.mu.Unlock()

	for _, s := range added {
		e.obs.OnStreamAdded(s)
	}
	for _, id := range removed {
		e.obs.OnStreamRemoved(id)
	}
}

func (e *fakeEngine) maybeConnect() {
	e.mu.Lock()
	ready := e.localSet && e.remoteSet && !e.iceReported
	if ready {
		e.iceReported = true
	}
	e.mu.Unlock()
	if !ready {
		return
	}
	e.obs.OnICEConnectionStateChange(ICEConnectionStateConnected)
	e.maybeOpenDataChannel()
}

func (e *fakeEngine) maybeOpenDataChannel() {
	peer := e.link.engine(1 - e.side)
	peerCreated := false
	if peer != nil {
		peer.mu.Lock()
		peerCreated = peer.dataChannels > 0
		peer.mu.Unlock()
	}
	e.mu.Lock()
	open := e.iceReported && !e.dcOpen && (e.dataChannels > 0 || peerCreated)
	if open {
		e.dcOpen = true
	}
	e.mu.Unlock()
	if open {
		e.obs.OnDataChannelOpen(DataChannelLabel)
	}
}

func (e *fakeEngine) AddICECandidate(c ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) AddStream(s LocalStream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAdd != nil {
		return e.failAdd
	}
	e.adds++
	e.streams[s.ID()] = s
	return nil
}

func (e *fakeEngine) RemoveStream(s LocalStream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.streams[s.ID()]; !ok {
		return ErrInvalidArgument
	}
	e.removes++
	delete(e.streams, s.ID())
	return nil
}

func (e *fakeEngine) CreateDataChannel(label string) error {
	e.mu.Lock()
	e.dataChannels++
	e.mu.Unlock()
	e.maybeOpenDataChannel()
	if peer := e.link.engine(1 - e.side); peer != nil {
		peer.maybeOpenDataChannel()
	}
	return nil
}

func (e *fakeEngine) SendData(label, message string) error {
	e.mu.Lock()
	if !e.dcOpen {
		e.mu.Unlock()
		return errors.New("data channel not open")
	}
	e.sent = append(e.sent, message)
	e.mu.Unlock()
	if peer := e.link.engine(1 - e.side); peer != nil {
		peer.obs.OnDataChannelMessage(label, message)
	}
	return nil
}

func (e *fakeEngine) GetStats(done func(ConnectionStats, error)) {
	e.mu.Lock()
	stats := ConnectionStats{
		Timestamp:               time.Now(),
		DataChannelMessagesSent: uint64(len(e.sent)),
	}
	e.mu.Unlock()
	e.run(func() { done(stats, nil) })
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type engineStats struct {
	offers          int
	answers         int
	maxOfferFlights int
	localDescs      int
	remoteDescs     int
	adds            int
	removes         int
	dataChannels    int
	sent            []string
	closed          bool
}

func (e *fakeEngine) stats() engineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engineStats{
		offers:          e.offers,
		answers:         e.answers,
		maxOfferFlights: e.maxOfferFlights,
		localDescs:      len(e.localDescs),
		remoteDescs:     len(e.remoteDescs),
		adds:            e.adds,
		removes:         e.removes,
		dataChannels:    e.dataChannels,
		sent:            append([]string(nil), e.sent...),
		closed:          e.closed,
	}
}

func (e *fakeEngine) offerInFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offersInFlight
}

// memSignaling records outgoing envelopes and hands them to the peer channel.
type memSignaling struct {
	mu      sync.Mutex
	sent    []string
	fail    error
	deliver func(message string)
}

func (s *memSignaling) SendSignalingMessage(ctx context.Context, remoteID, message string) error {
	s.mu.Lock()
	fail := s.fail
	deliver := s.deliver
	if fail == nil {
		s.sent = append(s.sent, message)
	}
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	if deliver != nil {
		deliver(message)
	}
	return nil
}

func (s *memSignaling) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *memSignaling) envelopes(t signaling.EnvelopeType) []signaling.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signaling.Envelope
	for _, msg := range s.sent {
		env, err := signaling.ParseEnvelope([]byte(msg))
		if err != nil {
			continue
		}
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *memSignaling) count(t signaling.EnvelopeType) int {
	return len(s.envelopes(t))
}

type recorder struct {
	events chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 1024)}
}

func (r *recorder) OnInvited(id string)       { r.events <- "invited:" + id }
func (r *recorder) OnAccepted(id string)      { r.events <- "accepted:" + id }
func (r *recorder) OnDenied(id string)        { r.events <- "denied:" + id }
func (r *recorder) OnStarted(id string)       { r.events <- "started:" + id }
func (r *recorder) OnStopped(id string)       { r.events <- "stopped:" + id }
func (r *recorder) OnData(id, message string) { r.events <- "data:" + id + ":" + message }
func (r *recorder) OnStreamAdded(s *RemoteStream) {
	r.events <- "stream-added:" + s.Origin + ":" + s.ID + ":" + s.Kind.String()
}
func (r *recorder) OnStreamRemoved(s *RemoteStream) {
	r.events <- "stream-removed:" + s.Origin + ":" + s.ID
}

// waitFor consumes events until want is seen.
func (r *recorder) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(testTimeout)
	var seen []string
	for {
		select {
		case ev := <-r.events:
			if ev == want {
				return
			}
			seen = append(seen, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %q; saw %v", want, seen)
		}
	}
}

// expectNone fails if an event with prefix arrives within d.
func (r *recorder) expectNone(t *testing.T, prefix string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-r.events:
			if strings.HasPrefix(ev, prefix) {
				t.Fatalf("unexpected event %q", ev)
			}
		case <-deadline:
			return
		}
	}
}

type testPeer struct {
	id      string
	ch      *Channel
	sig     *memSignaling
	rec     *recorder
	metrics *metrics.Metrics
}

type pairOptions struct {
	async            bool
	reconnectTimeout time.Duration
	aliceUA          *signaling.UserAgent
	bobUA            *signaling.UserAgent
}

func newTestPair(t *testing.T, opts pairOptions) (alice, bob *testPeer, link *fakeLink) {
	t.Helper()
	link = &fakeLink{async: opts.async}
	alice = newTestPeer(t, "alice", "bob", link.factory(0), opts.reconnectTimeout, opts.aliceUA)
	bob = newTestPeer(t, "bob", "alice", link.factory(1), opts.reconnectTimeout, opts.bobUA)
	alice.sig.deliver = bob.ch.OnIncomingSignalingMessage
	bob.sig.deliver = alice.ch.OnIncomingSignalingMessage
	return alice, bob, link
}

func newTestPeer(t *testing.T, localID, remoteID string, factory EngineFactory, reconnect time.Duration, ua *signaling.UserAgent) *testPeer {
	t.Helper()
	p := &testPeer{
		id:      localID,
		sig:     &memSignaling{},
		rec:     newRecorder(),
		metrics: metrics.New(),
	}
	ch, err := NewChannel(ChannelConfig{
		LocalID:          localID,
		RemoteID:         remoteID,
		Sender:           p.sig,
		NewEngine:        factory,
		ReconnectTimeout: reconnect,
		UserAgent:        ua,
		Metrics:          p.metrics,
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	ch.AddObserver(p.rec)
	p.ch = ch
	t.Cleanup(ch.Close)
	return p
}

// connect drives alice and bob through invite/accept until both started.
func connect(t *testing.T, alice, bob *testPeer) {
	t.Helper()
	mustWait(t, alice.ch.Invite())
	bob.rec.waitFor(t, "invited:alice")
	mustWait(t, bob.ch.Accept())
	alice.rec.waitFor(t, "accepted:bob")
	alice.rec.waitFor(t, "started:bob")
	bob.rec.waitFor(t, "started:alice")
}

func mustWait[T any](t *testing.T, f *Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	v, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	return v
}

func waitErr[T any](t *testing.T, f *Future[T]) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	select {
	case <-f.Done():
		return f.Err()
	case <-ctx.Done():
		t.Fatalf("operation did not settle")
		return nil
	}
}

// inspect runs fn on the channel's work queue and waits for it.
func inspect(t *testing.T, c *Channel, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if !c.work.Post(func() {
		defer close(done)
		fn()
	}) {
		t.Fatalf("work queue closed")
	}
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("work queue stalled")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errFakeOffer = errors.New("fake offer failure")
