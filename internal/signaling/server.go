package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/origin"
)

const (
	wsWriteWait = 1 * time.Second

	// PeerQueryParam names the query parameter carrying the connecting peer's id.
	PeerQueryParam = "peer"

	maxPeerIDLength = 256
)

// Config wires together the runtime dependencies for the relay.
type Config struct {
	Authorizer Authorizer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// AuthTimeout bounds how long a connection may stay unauthenticated while
	// waiting for an auth frame.
	AuthTimeout time.Duration

	// IdleTimeout closes connections that send nothing (including pongs) for
	// this long. PingInterval must be shorter.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// MaxPeers caps concurrently registered peer ids. 0 means unlimited.
	MaxPeers int

	// AllowedOrigins applies to upgrades that carry an Origin header (browser
	// peers). Empty means same host only.
	AllowedOrigins []string
}

// Server routes signaling envelopes between peers connected over WebSocket.
//
// Endpoints:
//   - GET /signal?peer=<id> : WebSocket; frames described on Frame.
//
// A peer id is bound to at most one connection. A newer connection for the
// same id replaces the older one, which is closed with a "replaced" error.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[string]*peerConn
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.Authorizer == nil {
		cfg.Authorizer = AllowAll
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 2 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:   cfg,
		log:   logger.With("component", "signaling_relay"),
		peers: make(map[string]*peerConn),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(r.Header.Values("Origin")) > 1 {
		return false
	}
	if origin.Allowed(r.Header.Get("Origin"), r.Host, s.cfg.AllowedOrigins) {
		return true
	}
	s.cfg.Metrics.Inc(metrics.RelayOriginRejected)
	s.log.Warn("rejecting signaling upgrade from disallowed origin", "origin", r.Header.Get("Origin"), "host", r.Host)
	return false
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Peers returns the number of registered peer ids.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close disconnects every peer and refuses new registrations.
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[string]*peerConn)
	s.closed = true
	s.mu.Unlock()

	for _, p := range peers {
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
		p.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	peerID := strings.TrimSpace(r.URL.Query().Get(PeerQueryParam))
	if peerID == "" || len(peerID) > maxPeerIDLength {
		http.Error(w, "missing or invalid peer id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	limit := s.cfg.MaxMessagesPerSecond
	p := &peerConn{
		srv:     s,
		id:      peerID,
		conn:    conn,
		req:     r,
		limiter: rate.NewLimiter(rate.Limit(limit), limit),
		done:    make(chan struct{}),
		log:     s.log.With("peer_id", peerID),
	}
	p.run()
}

var (
	errTooManyPeers = errors.New("too many peers")
	errServerClosed = errors.New("server closed")
)

// register binds p.id to p, evicting any previous connection for the same id.
func (s *Server) register(p *peerConn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errServerClosed
	}
	old := s.peers[p.id]
	if old == nil && s.cfg.MaxPeers > 0 && len(s.peers) >= s.cfg.MaxPeers {
		s.mu.Unlock()
		return errTooManyPeers
	}
	s.peers[p.id] = p
	s.mu.Unlock()

	s.cfg.Metrics.Inc(metrics.RelayConnections)
	if old != nil {
		s.cfg.Metrics.Inc(metrics.RelayDuplicatePeerIDs)
		s.log.Info("peer id reconnected; replacing previous connection", "peer_id", p.id)
		old.fail(CodeReplaced, "replaced by a newer connection", websocket.ClosePolicyViolation, "replaced")
		old.Close()
	}
	return nil
}

func (s *Server) unregister(p *peerConn) {
	s.mu.Lock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	s.mu.Unlock()
}

func (s *Server) lookup(id string) *peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

// route hands a send frame to its recipient and reports the outcome to the
// sender as an ack or a peer_offline error.
func (s *Server) route(from *peerConn, f Frame) {
	if f.To == from.id {
		_ = from.send(Frame{Type: FrameError, ID: f.ID, Code: CodeBadMessage, Message: "cannot send to self"})
		return
	}

	target := s.lookup(f.To)
	if target != nil {
		if err := target.send(Frame{Type: FrameDeliver, From: from.id, Data: f.Data}); err != nil {
			from.log.Debug("deliver failed", "to", f.To, "err", err)
			target = nil
		}
	}
	if target == nil {
		s.cfg.Metrics.Inc(metrics.RelayPeerOffline)
		_ = from.send(Frame{Type: FrameError, ID: f.ID, Code: CodePeerOffline, Message: fmt.Sprintf("peer %q is not connected", f.To)})
		return
	}

	s.cfg.Metrics.Inc(metrics.RelayFramesDelivered)
	_ = from.send(Frame{Type: FrameAck, ID: f.ID})
}

type peerConn struct {
	srv  *Server
	id   string
	conn *websocket.Conn
	req  *http.Request
	log  *slog.Logger

	limiter *rate.Limiter

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func (p *peerConn) run() {
	defer p.Close()

	p.conn.SetReadLimit(p.srv.cfg.MaxMessageBytes)

	authorized := false
	if err := p.srv.cfg.Authorizer.Authorize(p.req, ""); err != nil {
		if !isAuthMissing(err) {
			p.srv.cfg.Metrics.Inc(metrics.RelayAuthFailures)
			p.fail(CodeUnauthorized, unauthorizedMessage(err), websocket.ClosePolicyViolation, "unauthorized")
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(p.srv.cfg.AuthTimeout))
	} else {
		authorized = true
		if !p.activate() {
			return
		}
	}
	defer p.srv.unregister(p)

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			if !authorized && isTimeout(err) {
				p.srv.cfg.Metrics.Inc(metrics.RelayAuthFailures)
				p.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		p.touch()

		// Rate limit after reading so the close frame isn't lost to an abortive
		// close over unread data.
		if !p.limiter.Allow() {
			p.srv.cfg.Metrics.Inc(metrics.RelayRateLimited)
			p.fail(CodeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			p.fail(CodeBadMessage, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		f, err := ParseFrame(data)
		if err != nil {
			p.fail(CodeBadMessage, err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		if !authorized {
			if f.Type != FrameAuth {
				p.srv.cfg.Metrics.Inc(metrics.RelayAuthFailures)
				p.fail(CodeUnauthorized, "authentication required", websocket.ClosePolicyViolation, "authentication required")
				return
			}
			if err := p.srv.cfg.Authorizer.Authorize(p.req, f.APIKey); err != nil {
				p.srv.cfg.Metrics.Inc(metrics.RelayAuthFailures)
				p.fail(CodeUnauthorized, unauthorizedMessage(err), websocket.ClosePolicyViolation, "unauthorized")
				return
			}
			authorized = true
			if !p.activate() {
				return
			}
			continue
		}

		switch f.Type {
		case FrameAuth:
			// Already authenticated through the upgrade request.
		case FrameSend:
			p.srv.route(p, f)
		default:
			p.fail(CodeBadMessage, fmt.Sprintf("unexpected frame type %q", f.Type), websocket.ClosePolicyViolation, "bad message")
			return
		}
	}
}

// activate registers the peer and starts keepalive. It reports false if the
// connection was refused.
func (p *peerConn) activate() bool {
	if err := p.srv.register(p); err != nil {
		code := CodeTooManyPeers
		if errors.Is(err, errServerClosed) {
			p.closeWith(websocket.CloseGoingAway, "server shutting down")
			return false
		}
		p.log.Warn("refusing peer", "err", err)
		p.fail(code, err.Error(), websocket.CloseTryAgainLater, code)
		return false
	}
	p.log.Debug("peer connected")

	_ = p.conn.SetReadDeadline(time.Time{})
	if p.srv.cfg.IdleTimeout > 0 {
		p.touch()
		p.conn.SetPongHandler(func(string) error {
			p.touch()
			return nil
		})
	}
	if p.srv.cfg.PingInterval > 0 {
		go p.pingLoop(p.srv.cfg.PingInterval)
	}
	return true
}

func (p *peerConn) touch() {
	if p.srv.cfg.IdleTimeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.srv.cfg.IdleTimeout))
	}
}

func (p *peerConn) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				p.Close()
				return
			}
		}
	}
}

func (p *peerConn) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peerConn) fail(code, message string, closeCode int, closeReason string) {
	_ = p.send(Frame{
		Type:    FrameError,
		Code:    code,
		Message: message,
	})
	p.closeWith(closeCode, closeReason)
}

func (p *peerConn) closeWith(code int, reason string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (p *peerConn) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
