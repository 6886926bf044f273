package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// ReadyCheck reports why the process can't take traffic, or nil.
type ReadyCheck func() error

type Option func(*Server)

// WithMetrics counts requests and recovered panics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the relay's HTTP front: health, readiness, build info and ICE
// distribution. The signaling WebSocket registers itself through Mux.
type Server struct {
	log     *slog.Logger
	build   BuildInfo
	metrics *metrics.Metrics

	serving atomic.Bool

	checksMu sync.Mutex
	checks   []ReadyCheck

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, opts ...Option) *Server {
	s := &Server{
		log:   logger,
		build: build,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})
	s.mux.Handle("GET /ice", newICEHandler(cfg, logger))

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.wrap(s.mux),
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: /signal connections live for hours.
	}
	return s
}

// Mux is for registering extra routes before Serve.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// AddReadyCheck makes /readyz fail while check returns an error.
func (s *Server) AddReadyCheck(check ReadyCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks = append(s.checks, check)
}

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serving.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.serving.Store(false)
	return s.srv.Close()
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.notReady(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) notReady() error {
	if !s.serving.Load() {
		return errors.New("not serving")
	}
	s.checksMu.Lock()
	checks := append([]ReadyCheck(nil), s.checks...)
	s.checksMu.Unlock()
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}
