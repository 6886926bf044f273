package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/webrtcpeer"
)

var errQuit = errors.New("quit")

// console drives a p2p.Client from line commands and prints session events.
// It is attached to every channel as an observer.
type console struct {
	p2p.NopObserver

	out     io.Writer
	log     *slog.Logger
	client  *p2p.Client
	timeout time.Duration

	mu      sync.Mutex
	target  string
	streams map[string]*webrtcpeer.Stream
}

func newConsole(out io.Writer, logger *slog.Logger, timeout time.Duration) *console {
	return &console{
		out:     out,
		log:     logger,
		timeout: timeout,
		streams: make(map[string]*webrtcpeer.Stream),
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) setTarget(remoteID string) {
	c.mu.Lock()
	c.target = remoteID
	c.mu.Unlock()
}

func (c *console) currentTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *console) OnInvited(remoteID string) {
	c.log.Info("invited", "remote_id", remoteID)
	c.mu.Lock()
	if c.target == "" {
		c.target = remoteID
	}
	c.mu.Unlock()
	c.printf("* %s invites you; /accept %s or /deny %s", remoteID, remoteID, remoteID)
}

func (c *console) OnAccepted(remoteID string) {
	c.log.Info("accepted", "remote_id", remoteID)
	c.printf("* %s accepted", remoteID)
}

func (c *console) OnDenied(remoteID string) {
	c.log.Info("denied", "remote_id", remoteID)
	c.printf("* %s denied the invitation", remoteID)
}

func (c *console) OnStarted(remoteID string) {
	c.log.Info("session started", "remote_id", remoteID)
	c.printf("* connected to %s", remoteID)
}

func (c *console) OnStopped(remoteID string) {
	c.log.Info("session stopped", "remote_id", remoteID)
	c.printf("* session with %s ended", remoteID)
}

func (c *console) OnData(remoteID, message string) {
	c.printf("<%s> %s", remoteID, message)
}

func (c *console) OnStreamAdded(s *p2p.RemoteStream) {
	c.log.Info("remote stream added", "remote_id", s.Origin, "stream_id", s.ID, "kind", s.Kind, "audio", s.HasAudio, "video", s.HasVideo)
	c.printf("* %s published %s stream %s (audio=%t video=%t)", s.Origin, s.Kind, s.ID, s.HasAudio, s.HasVideo)
}

func (c *console) OnStreamRemoved(s *p2p.RemoteStream) {
	c.log.Info("remote stream removed", "remote_id", s.Origin, "stream_id", s.ID)
	c.printf("* %s unpublished stream %s", s.Origin, s.ID)
}

// run executes commands read from in until EOF, /quit or ctx ends.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			cmd, err := parseCommand(line)
			if errors.Is(err, errEmptyLine) {
				continue
			}
			if err != nil {
				c.printf("! %v", err)
				continue
			}
			if err := c.exec(ctx, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("! %v", err)
			}
		}
	}
}

func (c *console) channel(remoteID string) (*p2p.Channel, error) {
	if remoteID == "" {
		remoteID = c.currentTarget()
	}
	if remoteID == "" {
		return nil, errors.New("no current peer; use /to <peer> or /invite <peer>")
	}
	return c.client.Channel(remoteID)
}

func (c *console) exec(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdHelp:
		c.printf("%s", helpText)
		return nil
	case cmdQuit:
		return errQuit
	case cmdTarget:
		c.setTarget(cmd.remoteID)
		return nil
	case cmdPeers:
		ids := c.client.Channels()
		sort.Strings(ids)
		for _, id := range ids {
			ch, err := c.client.Channel(id)
			if err != nil {
				continue
			}
			c.printf("  %s %s", id, ch.State())
		}
		return nil
	}

	ch, err := c.channel(cmd.remoteID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch cmd.kind {
	case cmdSend:
		_, err = ch.Send(cmd.text).Wait(ctx)
	case cmdInvite:
		c.setTarget(ch.RemoteID())
		_, err = ch.Invite().Wait(ctx)
	case cmdAccept:
		_, err = ch.Accept().Wait(ctx)
	case cmdDeny:
		_, err = ch.Deny().Wait(ctx)
	case cmdStop:
		_, err = ch.Stop().Wait(ctx)
	case cmdStats:
		var stats p2p.ConnectionStats
		stats, err = ch.GetConnectionStats().Wait(ctx)
		if err == nil {
			c.printStats(ch.RemoteID(), stats)
		}
	case cmdPublish:
		err = c.publish(ctx, ch, cmd)
	case cmdUnpublish:
		err = c.unpublish(ctx, ch, cmd.streamID)
	}
	return err
}

func (c *console) publish(ctx context.Context, ch *p2p.Channel, cmd command) error {
	id := fmt.Sprintf("%s-%s", cmd.streamKind, uuid.NewString()[:8])
	stream, err := webrtcpeer.NewSampleStream(id, cmd.streamKind, cmd.audio, cmd.video)
	if err != nil {
		return err
	}
	if _, err := ch.Publish(stream).Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.streams[id] = stream
	c.mu.Unlock()
	c.printf("* published %s", id)
	return nil
}

func (c *console) unpublish(ctx context.Context, ch *p2p.Channel, id string) error {
	c.mu.Lock()
	stream, ok := c.streams[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown stream %q", id)
	}
	if _, err := ch.Unpublish(stream).Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
	return nil
}

func (c *console) printStats(remoteID string, s p2p.ConnectionStats) {
	c.printf("* stats for %s: rtt=%v sent=%dB recv=%dB packets sent=%d recv=%d lost=%d messages sent=%d recv=%d candidates %s/%s",
		remoteID, s.RoundTripTime, s.BytesSent, s.BytesReceived,
		s.PacketsSent, s.PacketsReceived, s.PacketsLost,
		s.DataChannelMessagesSent, s.DataChannelMessagesReceived,
		s.LocalCandidateType, s.RemoteCandidateType)
}
