package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/webrtcpeer"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Logs go to stderr so they don't interleave with the console on stdout.
	logger, err := config.NewLoggerTo(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.WithLogger(logger))
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	sigClient, err := signaling.NewClient(signaling.ClientConfig{
		URL:          cfg.SignalingURL,
		PeerID:       cfg.PeerID,
		APIKey:       cfg.APIKey,
		DialTimeout:  cfg.SignalingDialTimeout,
		RedialPeriod: cfg.SignalingRedialPeriod,
		SendTimeout:  cfg.SignalingSendTimeout,
		IdleTimeout:  cfg.SignalingWSIdleTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to configure signaling client", "err", err)
		os.Exit(2)
	}

	iceServers := cfg.ICEServers
	if cfg.ICEFromRelay {
		fetched, err := sigClient.FetchICEServers(context.Background())
		if err != nil {
			logger.Warn("failed to fetch ice servers from relay; using local config", "err", err)
		} else {
			iceServers = fetched
		}
	}

	con := newConsole(os.Stdout, logger, cfg.SignalingSendTimeout+cfg.ReconnectTimeout)
	client, err := p2p.NewClient(p2p.ClientConfig{
		LocalID: cfg.PeerID,
		Sender:  sigClient,
		NewEngine: webrtcpeer.NewEngineFactory(webrtcpeer.EngineConfig{
			API:             api,
			ICEServers:      iceServers,
			MaxMessageBytes: cfg.WebRTCDataChannelMaxMessageBytes,
			Logger:          logger,
		}),
		ReconnectTimeout: cfg.ReconnectTimeout,
		MaxChannels:      cfg.MaxChannels,
		Observers:        []p2p.Observer{con},
		Logger:           logger,
		Metrics:          metrics.New(),
	})
	if err != nil {
		logger.Error("failed to create p2p client", "err", err)
		os.Exit(2)
	}
	con.client = client

	logger.Info("starting aero-p2p-peer",
		"peer_id", cfg.PeerID,
		"remote_id", cfg.RemoteID,
		"signaling_url", cfg.SignalingURL,
		"ice_servers", len(iceServers),
		"reconnect_timeout", cfg.ReconnectTimeout,
	)
	con.printf("* you are %s; /help lists commands", cfg.PeerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sigClient.Run(ctx, client)
	}()

	if cfg.RemoteID != "" {
		go func() {
			if err := con.exec(ctx, command{kind: cmdInvite, remoteID: cfg.RemoteID}); err != nil {
				con.printf("! invite %s: %v", cfg.RemoteID, err)
			}
		}()
	}

	if err := con.run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("console exited", "err", err)
	}

	shutdown(cfg, client, logger)
	sigClient.Close()
	stop()
	wg.Wait()
}

// shutdown stops every active session so remote peers are told, then closes
// the client.
func shutdown(cfg config.Config, client *p2p.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range client.Channels() {
		ch, err := client.Channel(id)
		if err != nil {
			continue
		}
		if ch.State() == p2p.StateReady {
			continue
		}
		wg.Add(1)
		go func(ch *p2p.Channel) {
			defer wg.Done()
			if _, err := ch.Stop().Wait(ctx); err != nil {
				logger.Debug("stop on shutdown", "remote_id", ch.RemoteID(), "err", err)
			}
		}(ch)
	}
	wg.Wait()
	client.Close()
}
