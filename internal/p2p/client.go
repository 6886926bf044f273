package p2p

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/taskqueue"
)

type ClientConfig struct {
	LocalID string

	Sender    SignalingSender
	NewEngine EngineFactory

	ReconnectTimeout time.Duration
	// MaxChannels caps the number of remote peers; 0 means unlimited.
	MaxChannels int

	// Observers are attached to every channel the client creates, including
	// channels created for inbound invitations.
	Observers []Observer

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client owns one Channel per remote peer and routes inbound signaling to
// it. All channels share one event queue so observers see events from every
// peer in a single order.
type Client struct {
	cfg    ClientConfig
	log    *slog.Logger
	events *taskqueue.Queue

	mu       sync.Mutex
	closed   bool
	channels map[string]*Channel
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	if cfg.NewEngine == nil {
		return nil, errMissingEngine
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		log:      logger,
		events:   taskqueue.New("p2p-client-events"),
		channels: make(map[string]*Channel),
	}, nil
}

func (c *Client) LocalID() string { return c.cfg.LocalID }

// Channel returns the channel for remoteID, creating it on first use.
func (c *Client) Channel(remoteID string) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	if ch, ok := c.channels[remoteID]; ok {
		return ch, nil
	}
	if c.cfg.MaxChannels > 0 && len(c.channels) >= c.cfg.MaxChannels {
		return nil, ErrTooManyChannels
	}
	ch, err := NewChannel(ChannelConfig{
		LocalID:          c.cfg.LocalID,
		RemoteID:         remoteID,
		Sender:           c.cfg.Sender,
		NewEngine:        c.cfg.NewEngine,
		EventQueue:       c.events,
		ReconnectTimeout: c.cfg.ReconnectTimeout,
		Logger:           c.log,
		Metrics:          c.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	for _, o := range c.cfg.Observers {
		ch.AddObserver(o)
	}
	c.channels[remoteID] = ch
	return ch, nil
}

// Channels returns the remote ids with a channel.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	return ids
}

// OnIncomingSignalingMessage routes a message received from the signaling
// service to the channel for from.
func (c *Client) OnIncomingSignalingMessage(from, message string) {
	ch, err := c.Channel(from)
	if err != nil {
		c.log.Warn("dropping signaling message", "remote_id", from, "err", err)
		return
	}
	ch.OnIncomingSignalingMessage(message)
}

// Stop stops the active session with every remote peer.
func (c *Client) Stop() {
	c.mu.Lock()
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	for _, ch := range channels {
		// Channels without a session reject with ErrInvalidState; that's fine.
		ch.Stop()
	}
}

// Close closes every channel. The shared event queue is drained once all of
// them have finished.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	go func() {
		for _, ch := range channels {
			<-ch.Done()
		}
		c.events.Close()
	}()
}
