package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("signaling: not connected to relay")
	ErrDisconnected = errors.New("signaling: relay connection lost")
	ErrPeerOffline  = errors.New("signaling: remote peer offline")
	ErrRejected     = errors.New("signaling: relay rejected frame")
	ErrClientClosed = errors.New("signaling: client closed")
)

// Handler receives envelopes delivered by the relay.
type Handler interface {
	OnIncomingSignalingMessage(from, message string)
}

type ClientConfig struct {
	// URL is the relay's WebSocket endpoint, e.g. ws://127.0.0.1:8080/signal.
	URL    string
	PeerID string
	APIKey string

	DialTimeout  time.Duration
	RedialPeriod time.Duration
	// SendTimeout bounds each SendSignalingMessage call, including the wait
	// for the relay's ack.
	SendTimeout time.Duration
	// IdleTimeout drops the connection when the relay sends nothing (including
	// pings) for this long. 0 disables the check.
	IdleTimeout time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Client keeps one WebSocket to the relay open and redials it when lost.
// SendSignalingMessage blocks until the relay acks the frame, the relay
// reports an error, or ctx ends.
type Client struct {
	cfg ClientConfig
	log *slog.Logger

	mu     sync.Mutex
	conn   *clientConn
	ready  chan struct{}
	closed bool
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.PeerID == "" {
		return nil, errors.New("signaling client: missing peer id")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("signaling client: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("signaling client: url scheme must be ws or wss (got %q)", u.Scheme)
	}
	q := u.Query()
	q.Set(PeerQueryParam, cfg.PeerID)
	u.RawQuery = q.Encode()
	cfg.URL = u.String()

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RedialPeriod <= 0 {
		cfg.RedialPeriod = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cfg:   cfg,
		log:   logger.With("component", "signaling_client", "peer_id", cfg.PeerID),
		ready: make(chan struct{}),
	}, nil
}

// Run connects to the relay and hands every delivered envelope to h,
// redialing after RedialPeriod whenever the connection drops. It returns when
// ctx ends or the client is closed.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		err := c.runOnce(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrClientClosed) || c.isClosed() {
			return ErrClientClosed
		}
		c.log.Warn("relay connection lost; redialing", "err", err, "redial_in", c.cfg.RedialPeriod)

		t := time.NewTimer(c.cfg.RedialPeriod)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) runOnce(ctx context.Context, h Handler) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-API-Key", c.cfg.APIKey)
	}
	ws, _, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.URL, header)
	cancel()
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	cc := &clientConn{
		ws:      ws,
		pending: make(map[string]chan error),
		done:    make(chan struct{}),
	}
	if err := c.setConn(cc); err != nil {
		cc.close()
		return err
	}
	c.log.Info("connected to relay", "url", c.cfg.URL)
	defer c.clearConn(cc)

	stop := context.AfterFunc(ctx, cc.close)
	defer stop()

	return c.readLoop(cc, h)
}

func (c *Client) readLoop(cc *clientConn, h Handler) error {
	defer cc.close()

	if c.cfg.IdleTimeout > 0 {
		touch := func() { _ = cc.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)) }
		touch()
		cc.ws.SetPingHandler(func(appData string) error {
			touch()
			err := cc.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})
	}

	for {
		_, data, err := cc.ws.ReadMessage()
		if err != nil {
			return err
		}
		if c.cfg.IdleTimeout > 0 {
			_ = cc.ws.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}

		f, err := ParseFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed relay frame", "err", err)
			continue
		}
		switch f.Type {
		case FrameDeliver:
			if h != nil {
				h.OnIncomingSignalingMessage(f.From, f.Data)
			}
		case FrameAck:
			cc.resolve(f.ID, nil)
		case FrameError:
			err := relayError(f)
			if f.ID == "" {
				// Connection-level error; the relay closes right after.
				c.log.Warn("relay error", "code", f.Code, "message", f.Message)
				continue
			}
			cc.resolve(f.ID, err)
		default:
			c.log.Warn("unexpected relay frame", "type", f.Type)
		}
	}
}

func relayError(f Frame) error {
	if f.Code == CodePeerOffline {
		return fmt.Errorf("%w: %s", ErrPeerOffline, f.Message)
	}
	return fmt.Errorf("%w: %s: %s", ErrRejected, f.Code, f.Message)
}

// SendSignalingMessage sends message to remoteID through the relay. If the
// relay is not connected yet it waits for a connection until ctx ends or
// SendTimeout passes.
func (c *Client) SendSignalingMessage(ctx context.Context, remoteID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	cc, err := c.current(ctx)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	result := cc.await(id)
	defer cc.forget(id)

	deadline, _ := ctx.Deadline()
	if err := cc.write(Frame{Type: FrameSend, ID: id, To: remoteID, Data: message}, deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case err := <-result:
		return err
	case <-cc.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connected reports whether a relay connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the relay connection and makes Run return.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cc := c.conn
	if cc == nil {
		close(c.ready)
	}
	c.mu.Unlock()

	if cc != nil {
		cc.closeWith(websocket.CloseNormalClosure, "")
		cc.close()
	}
}

func (c *Client) current(ctx context.Context) (*clientConn, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClientClosed
		}
		cc, ready := c.conn, c.ready
		c.mu.Unlock()
		if cc != nil {
			return cc, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, ctx.Err())
		}
	}
}

func (c *Client) setConn(cc *clientConn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn = cc
	close(c.ready)
	return nil
}

func (c *Client) clearConn(cc *clientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != cc {
		return
	}
	c.conn = nil
	if !c.closed {
		c.ready = make(chan struct{})
	}
}

type clientConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan error

	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) await(id string) <-chan error {
	ch := make(chan error, 1)
	cc.mu.Lock()
	cc.pending[id] = ch
	cc.mu.Unlock()
	return ch
}

func (cc *clientConn) forget(id string) {
	cc.mu.Lock()
	delete(cc.pending, id)
	cc.mu.Unlock()
}

func (cc *clientConn) resolve(id string, err error) {
	cc.mu.Lock()
	ch, ok := cc.pending[id]
	delete(cc.pending, id)
	cc.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (cc *clientConn) write(f Frame, deadline time.Time) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_ = cc.ws.SetWriteDeadline(deadline)
	return cc.ws.WriteMessage(websocket.TextMessage, data)
}

func (cc *clientConn) closeWith(code int, reason string) {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_ = cc.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() {
		close(cc.done)
		_ = cc.ws.Close()
	})
}
