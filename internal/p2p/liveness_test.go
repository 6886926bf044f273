package p2p

import (
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

func TestLiveness_ReconnectWithinGracePeriod(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{reconnectTimeout: 150 * time.Millisecond})
	connect(t, alice, bob)
	obs := link.engine(0).obs

	obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)
	time.Sleep(30 * time.Millisecond)
	obs.OnICEConnectionStateChange(ICEConnectionStateConnected)

	alice.rec.expectNone(t, "stopped:", 300*time.Millisecond)
	if got := alice.ch.State(); got != StateConnected {
		t.Fatalf("state=%s, want %s", got, StateConnected)
	}
	if got := alice.metrics.Get(metrics.ICEReconnected); got != 1 {
		t.Fatalf("ice_reconnected=%d, want 1", got)
	}
	// A reconnect does not start the session again.
	alice.rec.expectNone(t, "started:", 20*time.Millisecond)
}

func TestLiveness_GracePeriodExpiryStopsSession(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{reconnectTimeout: 50 * time.Millisecond})
	connect(t, alice, bob)

	link.engine(0).obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)
	alice.rec.waitFor(t, "stopped:bob")

	if got := alice.sig.count(signaling.TypeStop); got != 0 {
		t.Fatalf("sent %d stop envelopes on timeout, want 0", got)
	}
	if got := alice.metrics.Get(metrics.ReconnectTimeouts); got != 1 {
		t.Fatalf("reconnect_timeouts=%d, want 1", got)
	}
	alice.rec.expectNone(t, "stopped:", 100*time.Millisecond)
	if got := bob.ch.State(); got != StateConnected {
		t.Fatalf("bob state=%s, want %s", got, StateConnected)
	}
}

func TestLiveness_RepeatedDisconnectKeepsFirstTimestamp(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{reconnectTimeout: time.Second})
	connect(t, alice, bob)
	obs := link.engine(0).obs

	obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)
	var first time.Time
	inspect(t, alice.ch, func() { first = alice.ch.live.lastDisconnect })
	time.Sleep(10 * time.Millisecond)
	obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)

	var second time.Time
	inspect(t, alice.ch, func() { second = alice.ch.live.lastDisconnect })
	if first.IsZero() || !first.Equal(second) {
		t.Fatalf("lastDisconnect moved from %v to %v", first, second)
	}
}

func TestLiveness_ICEFailureStopsImmediately(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{reconnectTimeout: time.Hour})
	connect(t, alice, bob)

	link.engine(0).obs.OnICEConnectionStateChange(ICEConnectionStateFailed)
	alice.rec.waitFor(t, "stopped:bob")
	bob.rec.waitFor(t, "stopped:alice")
}

func TestLiveness_StaleTimerIgnoredAfterNewSession(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{reconnectTimeout: 80 * time.Millisecond})
	connect(t, alice, bob)
	link.engine(0).obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)

	mustWait(t, alice.ch.Stop())
	alice.rec.waitFor(t, "stopped:bob")
	bob.rec.waitFor(t, "stopped:alice")
	connect(t, alice, bob)

	alice.rec.expectNone(t, "stopped:", 200*time.Millisecond)
	if got := alice.ch.State(); got != StateConnected {
		t.Fatalf("state=%s, want %s", got, StateConnected)
	}
}

func TestLiveness_ExpiryQueuedBehindReconnectIsIgnored(t *testing.T) {
	alice, bob, link := newTestPair(t, pairOptions{reconnectTimeout: 100 * time.Millisecond})
	connect(t, alice, bob)
	obs := link.engine(0).obs

	obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)
	inspect(t, alice.ch, func() {})

	// Keep the work queue busy past the first grace period so its expiry is
	// queued behind a reconnect and a second disconnect.
	if !alice.ch.work.Post(func() { time.Sleep(150 * time.Millisecond) }) {
		t.Fatalf("work queue closed")
	}
	obs.OnICEConnectionStateChange(ICEConnectionStateConnected)
	obs.OnICEConnectionStateChange(ICEConnectionStateDisconnected)

	time.Sleep(160 * time.Millisecond)
	obs.OnICEConnectionStateChange(ICEConnectionStateConnected)

	alice.rec.expectNone(t, "stopped:", 250*time.Millisecond)
	if got := alice.ch.State(); got != StateConnected {
		t.Fatalf("state=%s, want %s", got, StateConnected)
	}
	if got := alice.metrics.Get(metrics.ReconnectTimeouts); got != 0 {
		t.Fatalf("reconnect_timeouts=%d, want 0", got)
	}
}
