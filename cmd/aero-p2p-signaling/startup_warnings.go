package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/config"
)

// maxSafeSignalingMessageBytes bounds what a single relay frame may allocate.
const maxSafeSignalingMessageBytes = 1 << 20

type startupWarning struct {
	code    string
	message string
	applies func(config.Config) bool
	attrs   func(config.Config) []any
}

var startupWarnings = []startupWarning{
	{
		code:    "auth_mode_none",
		message: "AUTH_MODE=none disables authentication (any client may claim any peer id)",
		applies: func(c config.Config) bool { return c.AuthMode == config.AuthModeNone },
		attrs:   func(c config.Config) []any { return []any{"auth_mode", c.AuthMode} },
	},
	{
		code:    "max_signaling_peers_unlimited_in_prod",
		message: "MAX_SIGNALING_PEERS is unset/0 (unlimited) while --mode=prod",
		applies: func(c config.Config) bool { return c.Mode == config.ModeProd && c.MaxSignalingPeers <= 0 },
		attrs:   func(c config.Config) []any { return []any{"max_signaling_peers", c.MaxSignalingPeers} },
	},
	{
		code:    "max_signaling_message_bytes_large",
		message: "MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-frame allocation risk)",
		applies: func(c config.Config) bool { return c.MaxSignalingMessageBytes > maxSafeSignalingMessageBytes },
		attrs:   func(c config.Config) []any { return []any{"max_signaling_message_bytes", c.MaxSignalingMessageBytes} },
	},
	{
		code:    "signaling_ws_idle_timeout_disabled",
		message: "SIGNALING_WS_IDLE_TIMEOUT is disabled (half-open connections hold their peer id forever)",
		applies: func(c config.Config) bool { return c.SignalingWSIdleTimeout <= 0 },
		attrs:   func(c config.Config) []any { return []any{"signaling_ws_idle_timeout", c.SignalingWSIdleTimeout} },
	},
	{
		code:    "allowed_origins_wildcard",
		message: `ALLOWED_ORIGINS contains "*" (any website may open signaling sockets from a visitor's browser)`,
		applies: func(c config.Config) bool { return slices.Contains(c.AllowedOrigins, "*") },
		attrs:   func(c config.Config) []any { return []any{"allowed_origins", c.AllowedOrigins} },
	},
}

// logStartupSecurityWarnings flags relay settings that are legal but unsafe
// to expose. Each warning carries a stable warning_code for alerting.
func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range startupWarnings {
		if !w.applies(cfg) {
			continue
		}
		args := append([]any{"warning_code", w.code, "mode", cfg.Mode}, w.attrs(cfg)...)
		logger.Warn("startup security warning: "+w.message, args...)
	}
}
