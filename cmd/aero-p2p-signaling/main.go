package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/signaling"
)

// Injected with -ldflags; empty in dev builds.
var (
	buildCommit = ""
	buildTime   = ""
)

// errStartup marks configuration problems that should exit with status 2.
var errStartup = errors.New("startup")

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("aero-p2p-signaling exited", "err", err)
		stop()
		if errors.Is(err, errStartup) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting aero-p2p-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"max_signaling_peers", cfg.MaxSignalingPeers,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"ws_ping_interval", cfg.SignalingWSPingInterval,
		"allowed_origins", cfg.AllowedOrigins,
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	authz, err := signaling.NewAuthorizer(cfg)
	if err != nil {
		return fmt.Errorf("%w: signaling auth: %v", errStartup, err)
	}

	m := metrics.New()
	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.WithMetrics(m))
	relay := signaling.NewServer(signaling.Config{
		Authorizer:           authz,
		Metrics:              m,
		Logger:               logger,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		MaxPeers:             cfg.MaxSignalingPeers,
		AllowedOrigins:       cfg.AllowedOrigins,
	})
	defer relay.Close()

	relay.RegisterRoutes(srv.Mux())
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))
	srv.AddReadyCheck(func() error {
		if cfg.MaxSignalingPeers > 0 && relay.Peers() >= cfg.MaxSignalingPeers {
			return errors.New("signaling peer limit reached")
		}
		return nil
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown doesn't wait for hijacked connections, so drop peers first and
	// let them redial another replica.
	relay.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server after shutdown: %w", err)
	}
	return nil
}

// resolveBuildInfo fills whatever ldflags left empty from the embedded VCS
// stamp.
func resolveBuildInfo(commit, built string) (string, string) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, built
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && commit == "" {
			commit = s.Value
		}
		if s.Key == "vcs.time" && built == "" {
			built = s.Value
		}
	}
	return commit, built
}
