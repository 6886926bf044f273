package p2p

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

// Renegotiation requests fired at random from both sides, with engine
// callbacks completing in random order, must never overlap two offer
// creations and must never leave a request unserved.
func TestNegotiation_AtMostOneOfferAndNoLostRequests(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{async: true})
	connect(t, alice, bob)

	aliceEngine, bobEngine := link.engine(0), link.engine(1)
	rng := rand.New(rand.NewSource(1))
	delays := make([]time.Duration, 200)
	sides := make([]int, len(delays))
	for i := range delays {
		delays[i] = time.Duration(rng.Intn(3000)) * time.Microsecond
		sides[i] = rng.Intn(2)
	}

	var wg sync.WaitGroup
	for i := range delays {
		wg.Add(1)
		go func(d time.Duration, side int) {
			defer wg.Done()
			time.Sleep(d)
			if side == 0 {
				aliceEngine.obs.OnRenegotiationNeeded()
			} else {
				bobEngine.obs.OnRenegotiationNeeded()
			}
		}(delays[i], sides[i])
	}
	wg.Wait()

	settled := func() bool {
		var ok bool
		inspect(t, alice.ch, func() {
			ok = !alice.ch.neg.needed && alice.ch.neg.stable() && len(alice.ch.neg.pending) == 0
		})
		if !ok {
			return false
		}
		inspect(t, bob.ch, func() {
			ok = !bob.ch.neg.needed && bob.ch.neg.stable() && len(bob.ch.neg.pending) == 0
		})
		return ok && aliceEngine.offerInFlight() == 0
	}
	stableFor := 0
	eventually(t, "negotiation to settle", func() bool {
		if settled() {
			stableFor++
		} else {
			stableFor = 0
		}
		return stableFor >= 5
	})

	stats := aliceEngine.stats()
	if stats.maxOfferFlights > 1 {
		t.Fatalf("observed %d concurrent offer creations", stats.maxOfferFlights)
	}
	if stats.offers < 2 {
		t.Fatalf("offers=%d, want renegotiation to have happened", stats.offers)
	}
	if got := bobEngine.stats().offers; got != 0 {
		t.Fatalf("callee created %d offers", got)
	}
	// Requests were coalesced, not replayed one by one.
	if stats.offers > len(delays)+1 {
		t.Fatalf("offers=%d exceeds requests", stats.offers)
	}
	if got := alice.ch.State(); got != StateConnected {
		t.Fatalf("state=%s, want %s", got, StateConnected)
	}
}

func TestNegotiation_RequestsDuringOfferAreCoalesced(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{})
	connect(t, alice, bob)
	engine := link.engine(0)
	before := engine.stats().offers

	// Three requests processed in one burst: the first starts an offer, the
	// other two latch and produce exactly one follow-up.
	inspect(t, alice.ch, func() {
		alice.ch.requestNegotiation()
		alice.ch.requestNegotiation()
		alice.ch.requestNegotiation()
	})
	eventually(t, "follow-up offer", func() bool {
		var idle bool
		inspect(t, alice.ch, func() { idle = alice.ch.neg.stable() && !alice.ch.neg.needed })
		return idle && engine.stats().offers == before+2
	})
	time.Sleep(20 * time.Millisecond)
	if got := engine.stats().offers; got != before+2 {
		t.Fatalf("offers=%d, want %d", got, before+2)
	}
}

func TestNegotiation_CandidatesWaitForRemoteDescription(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{})
	mustWait(t, alice.ch.Invite())
	bob.rec.waitFor(t, "invited:alice")

	// Stop alice's envelopes from reaching bob so bob has no offer yet.
	alice.sig.mu.Lock()
	deliver := alice.sig.deliver
	alice.sig.deliver = nil
	alice.sig.mu.Unlock()

	mustWait(t, bob.ch.Accept())
	alice.rec.waitFor(t, "accepted:bob")

	mid := "0"
	cand, err := signaling.Encode(signaling.TypeSignal, signaling.Signal{
		Type:      signaling.SignalCandidates,
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		SDPMid:    &mid,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bob.ch.OnIncomingSignalingMessage(cand)
	inspect(t, bob.ch, func() {})

	bobEngine := link.engine(1)
	bobEngine.mu.Lock()
	early := len(bobEngine.candidates)
	bobEngine.mu.Unlock()
	if early != 0 {
		t.Fatalf("candidate applied before remote description")
	}

	// Replay alice's offer; the held candidate is applied after it.
	var offers []signaling.Envelope
	eventually(t, "alice offer", func() bool {
		offers = alice.sig.envelopes(signaling.TypeSignal)
		return len(offers) > 0
	})
	alice.sig.mu.Lock()
	alice.sig.deliver = deliver
	alice.sig.mu.Unlock()
	for _, env := range offers {
		msg, err := signaling.Encode(env.Type, env.Data)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		bob.ch.OnIncomingSignalingMessage(msg)
	}

	eventually(t, "candidate applied", func() bool {
		bobEngine.mu.Lock()
		defer bobEngine.mu.Unlock()
		return len(bobEngine.candidates) == 1 && bobEngine.remoteSet
	})
	bob.rec.waitFor(t, "started:alice")
	alice.rec.waitFor(t, "started:bob")
}

func TestNegotiation_RenegotiationFailureKeepsSession(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{})
	connect(t, alice, bob)

	engine := link.engine(0)
	engine.mu.Lock()
	engine.failOffer = errFakeOffer
	engine.mu.Unlock()

	mustWait(t, alice.ch.Publish(camera("cam")))
	eventually(t, "failed offer", func() bool {
		var idle bool
		inspect(t, alice.ch, func() { idle = alice.ch.neg.stable() })
		return idle && engine.stats().offers >= 2
	})
	alice.rec.expectNone(t, "stopped:", 50*time.Millisecond)
	if got := alice.ch.State(); got != StateConnected {
		t.Fatalf("state=%s, want %s", got, StateConnected)
	}
}
