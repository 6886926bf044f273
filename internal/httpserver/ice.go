package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/turnrest"
)

// iceHandler serves GET /ice: the deployment's ICE list, with fresh TURN REST
// credentials minted per request when a shared secret is configured. It is
// gated by the same credential as the signaling WebSocket.
type iceHandler struct {
	authMode config.AuthMode
	servers  []webrtc.ICEServer
	verifier auth.Verifier
	// authErr disables the endpoint; a broken auth config must not fail open.
	authErr error
	turn    *turnrest.Issuer
}

func newICEHandler(cfg config.Config, logger *slog.Logger) *iceHandler {
	h := &iceHandler{
		authMode: cfg.AuthMode,
		servers:  cfg.ICEServers,
	}
	if h.servers == nil {
		h.servers = []webrtc.ICEServer{}
	}

	h.verifier, h.authErr = auth.NewVerifier(cfg)
	if h.authErr != nil {
		logger.Error("ice endpoint disabled: invalid auth config", "err", h.authErr)
	}

	if cfg.TURNREST.Enabled() {
		issuer, err := turnrest.NewIssuer(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            cfg.TURNREST.TTL,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("turn rest credentials disabled", "err", err)
		} else {
			h.turn = issuer
		}
	}
	return h
}

func (h *iceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authErr != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "authorization unavailable"})
		return
	}
	if h.verifier != nil {
		cred, err := auth.CredentialFromRequest(h.authMode, r)
		if err == nil {
			err = h.verifier.Verify(cred)
		}
		if err != nil {
			WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
	}

	servers := h.servers
	if h.turn != nil {
		servers = turnrest.Apply(servers, h.turn.Issue(r.URL.Query().Get("peer")))
		w.Header().Set("Cache-Control", "no-store")
	}
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}
