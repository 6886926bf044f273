package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestClient_FetchICEServers(t *testing.T) {
	var gotPeer, gotKey string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ice", func(w http.ResponseWriter, r *http.Request) {
		gotPeer = r.URL.Query().Get(PeerQueryParam)
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["turn:turn.example.com:3478"],"username":"1:aero:alice","credential":"c"}]}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, err := NewClient(ClientConfig{
		URL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal",
		PeerID: "alice",
		APIKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	servers, err := c.FetchICEServers(context.Background())
	if err != nil {
		t.Fatalf("FetchICEServers: %v", err)
	}
	if gotPeer != "alice" || gotKey != "secret" {
		t.Fatalf("relay saw peer=%q key=%q", gotPeer, gotKey)
	}
	want := webrtc.ICEServer{URLs: []string{"turn:turn.example.com:3478"}, Username: "1:aero:alice", Credential: "c"}
	if len(servers) != 1 || servers[0].Username != want.Username || servers[0].Credential != want.Credential || servers[0].URLs[0] != want.URLs[0] {
		t.Fatalf("servers=%+v", servers)
	}
}

func TestClient_FetchICEServersError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c, err := NewClient(ClientConfig{URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal", PeerID: "alice"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.FetchICEServers(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err=%v, want 401 error", err)
	}
}
