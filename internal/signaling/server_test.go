package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
)

func newRelay(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
}

func dialPeer(t *testing.T, wsURL, peerID string, header http.Header) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL+"?peer="+peerID, header)
	if err != nil {
		t.Fatalf("dial %s: %v", peerID, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame(%s): %v", data, err)
	}
	return f
}

func writeFrame(t *testing.T, c *websocket.Conn, f Frame) {
	t.Helper()
	if err := c.WriteJSON(f); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectClosed(t *testing.T, c *websocket.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func waitForPeers(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Peers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Peers()=%d, want %d", srv.Peers(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_RoutesSendToRecipient(t *testing.T) {
	m := metrics.New()
	srv, wsURL := newRelay(t, Config{Metrics: m})

	alice := dialPeer(t, wsURL, "alice", nil)
	bob := dialPeer(t, wsURL, "bob", nil)
	waitForPeers(t, srv, 2)

	writeFrame(t, alice, Frame{Type: FrameSend, ID: "1", To: "bob", Data: `{"type":"invite"}`})

	got := readFrame(t, bob)
	if got.Type != FrameDeliver || got.From != "alice" || got.Data != `{"type":"invite"}` {
		t.Fatalf("bob got %+v", got)
	}
	ack := readFrame(t, alice)
	if ack.Type != FrameAck || ack.ID != "1" {
		t.Fatalf("alice got %+v, want ack 1", ack)
	}
	if got := m.Get(metrics.RelayFramesDelivered); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayFramesDelivered, got)
	}
	if got := m.Get(metrics.RelayConnections); got != 2 {
		t.Fatalf("%s=%d, want 2", metrics.RelayConnections, got)
	}
}

func TestServer_PeerOffline(t *testing.T) {
	m := metrics.New()
	srv, wsURL := newRelay(t, Config{Metrics: m})

	alice := dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)

	writeFrame(t, alice, Frame{Type: FrameSend, ID: "7", To: "nobody", Data: "x"})
	f := readFrame(t, alice)
	if f.Type != FrameError || f.ID != "7" || f.Code != CodePeerOffline {
		t.Fatalf("got %+v, want peer_offline for 7", f)
	}
	if got := m.Get(metrics.RelayPeerOffline); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayPeerOffline, got)
	}

	// The connection stays usable.
	writeFrame(t, alice, Frame{Type: FrameSend, ID: "8", To: "alice", Data: "x"})
	if f := readFrame(t, alice); f.Code != CodeBadMessage || f.ID != "8" {
		t.Fatalf("got %+v, want bad_message for self-send", f)
	}
}

func TestServer_MissingPeerIDRejected(t *testing.T) {
	_, wsURL := newRelay(t, Config{})
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp=%v, want 400", resp)
	}
}

func TestServer_OriginPolicy(t *testing.T) {
	m := metrics.New()
	_, wsURL := newRelay(t, Config{Metrics: m})
	host := strings.TrimPrefix(strings.TrimSuffix(wsURL, "/signal"), "ws://")

	// Same host is allowed by default.
	dialPeer(t, wsURL, "alice", http.Header{"Origin": {"http://" + host}})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?peer=bob", http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatalf("expected dial error for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}
	if got := m.Get(metrics.RelayOriginRejected); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayOriginRejected, got)
	}

	_, allowURL := newRelay(t, Config{AllowedOrigins: []string{"https://app.example.com"}})
	dialPeer(t, allowURL, "carol", http.Header{"Origin": {"https://app.example.com"}})
}

func TestServer_BadFrameClosesConnection(t *testing.T) {
	srv, wsURL := newRelay(t, Config{})
	alice := dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"deliver","from":"x","data":"y"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, alice)
	if f.Type != FrameError || f.Code != CodeBadMessage {
		t.Fatalf("got %+v, want bad_message", f)
	}
	expectClosed(t, alice)
	waitForPeers(t, srv, 0)
}

func apiKeyAuthorizer(t *testing.T) Authorizer {
	t.Helper()
	a, err := NewAuthorizer(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	return a
}

func TestServer_APIKeyAuth(t *testing.T) {
	t.Run("header", func(t *testing.T) {
		srv, wsURL := newRelay(t, Config{Authorizer: apiKeyAuthorizer(t)})
		dialPeer(t, wsURL, "alice", http.Header{"X-Api-Key": {"secret"}})
		waitForPeers(t, srv, 1)
	})

	t.Run("query", func(t *testing.T) {
		srv, wsURL := newRelay(t, Config{Authorizer: apiKeyAuthorizer(t)})
		c, _, err := websocket.DefaultDialer.Dial(wsURL+"?peer=alice&apiKey=secret", nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer c.Close()
		waitForPeers(t, srv, 1)
	})

	t.Run("auth frame", func(t *testing.T) {
		srv, wsURL := newRelay(t, Config{Authorizer: apiKeyAuthorizer(t)})
		c := dialPeer(t, wsURL, "alice", nil)
		if srv.Peers() != 0 {
			t.Fatalf("peer registered before authenticating")
		}
		writeFrame(t, c, Frame{Type: FrameAuth, APIKey: "secret"})
		waitForPeers(t, srv, 1)
	})

	t.Run("wrong key", func(t *testing.T) {
		m := metrics.New()
		_, wsURL := newRelay(t, Config{Authorizer: apiKeyAuthorizer(t), Metrics: m})
		c := dialPeer(t, wsURL, "alice", http.Header{"X-Api-Key": {"nope"}})
		f := readFrame(t, c)
		if f.Type != FrameError || f.Code != CodeUnauthorized {
			t.Fatalf("got %+v, want unauthorized", f)
		}
		expectClosed(t, c)
		if got := m.Get(metrics.RelayAuthFailures); got != 1 {
			t.Fatalf("%s=%d, want 1", metrics.RelayAuthFailures, got)
		}
	})

	t.Run("send before auth", func(t *testing.T) {
		_, wsURL := newRelay(t, Config{Authorizer: apiKeyAuthorizer(t)})
		c := dialPeer(t, wsURL, "alice", nil)
		writeFrame(t, c, Frame{Type: FrameSend, ID: "1", To: "bob", Data: "x"})
		if f := readFrame(t, c); f.Code != CodeUnauthorized {
			t.Fatalf("got %+v, want unauthorized", f)
		}
		expectClosed(t, c)
	})

	t.Run("auth timeout", func(t *testing.T) {
		m := metrics.New()
		_, wsURL := newRelay(t, Config{Authorizer: apiKeyAuthorizer(t), AuthTimeout: 100 * time.Millisecond, Metrics: m})
		c := dialPeer(t, wsURL, "alice", nil)
		expectClosed(t, c)
		if got := m.Get(metrics.RelayAuthFailures); got != 1 {
			t.Fatalf("%s=%d, want 1", metrics.RelayAuthFailures, got)
		}
	})
}

func TestServer_RateLimit(t *testing.T) {
	m := metrics.New()
	srv, wsURL := newRelay(t, Config{MaxMessagesPerSecond: 1, Metrics: m})
	alice := dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)

	for i := 0; i < 3; i++ {
		_ = alice.WriteJSON(Frame{Type: FrameSend, ID: "x", To: "bob", Data: "x"})
	}

	_ = alice.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := alice.ReadMessage()
		if err != nil {
			t.Fatalf("connection closed without rate_limited error: %v", err)
		}
		f, err := ParseFrame(data)
		if err != nil {
			t.Fatalf("ParseFrame: %v", err)
		}
		if f.Code == CodeRateLimited {
			break
		}
	}
	expectClosed(t, alice)
	if got := m.Get(metrics.RelayRateLimited); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayRateLimited, got)
	}
}

func TestServer_MessageSizeLimit(t *testing.T) {
	srv, wsURL := newRelay(t, Config{MaxMessageBytes: 128})
	alice := dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)

	_ = alice.WriteJSON(Frame{Type: FrameSend, ID: "1", To: "bob", Data: strings.Repeat("x", 1024)})
	expectClosed(t, alice)
	waitForPeers(t, srv, 0)
}

func TestServer_DuplicatePeerIDReplacesOlderConnection(t *testing.T) {
	m := metrics.New()
	srv, wsURL := newRelay(t, Config{Metrics: m})

	first := dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)
	second := dialPeer(t, wsURL, "alice", nil)

	f := readFrame(t, first)
	if f.Type != FrameError || f.Code != CodeReplaced {
		t.Fatalf("first got %+v, want replaced", f)
	}
	expectClosed(t, first)

	bob := dialPeer(t, wsURL, "bob", nil)
	waitForPeers(t, srv, 2)
	writeFrame(t, bob, Frame{Type: FrameSend, ID: "1", To: "alice", Data: "hi"})
	if got := readFrame(t, second); got.Type != FrameDeliver || got.Data != "hi" {
		t.Fatalf("second got %+v", got)
	}
	if got := m.Get(metrics.RelayDuplicatePeerIDs); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RelayDuplicatePeerIDs, got)
	}
}

func TestServer_MaxPeers(t *testing.T) {
	srv, wsURL := newRelay(t, Config{MaxPeers: 1})
	dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)

	bob := dialPeer(t, wsURL, "bob", nil)
	f := readFrame(t, bob)
	if f.Type != FrameError || f.Code != CodeTooManyPeers {
		t.Fatalf("got %+v, want too_many_peers", f)
	}
	expectClosed(t, bob)

	// Reconnecting an existing id is still allowed at the cap.
	dialPeer(t, wsURL, "alice", nil)
	waitForPeers(t, srv, 1)
}

func TestServer_IdleTimeoutClosesWithoutPong(t *testing.T) {
	srv, wsURL := newRelay(t, Config{
		IdleTimeout:  500 * time.Millisecond,
		PingInterval: 50 * time.Millisecond,
	})

	c := dialPeer(t, wsURL, "alice", nil)

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// No pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before first ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ping")
	}

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected idle connection to be closed")
	}
	waitForPeers(t, srv, 0)
}

func TestServer_PongKeepsConnectionAlive(t *testing.T) {
	srv, wsURL := newRelay(t, Config{
		IdleTimeout:  200 * time.Millisecond,
		PingInterval: 50 * time.Millisecond,
	})

	// The default ping handler answers with a pong, but only while reading.
	c := dialPeer(t, wsURL, "alice", nil)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(600 * time.Millisecond)
	if srv.Peers() != 1 {
		t.Fatalf("peer dropped despite answering pings")
	}
}
