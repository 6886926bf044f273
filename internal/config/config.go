package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/origin"
)

const (
	envVarListenAddr      = "AERO_P2P_LISTEN_ADDR"
	envVarLogFormat       = "AERO_P2P_LOG_FORMAT"
	envVarLogLevel        = "AERO_P2P_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_P2P_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_P2P_MODE"

	// Peer knobs.
	envVarPeerID                = "AERO_P2P_PEER_ID"
	envVarRemoteID              = "AERO_P2P_REMOTE_ID"
	envVarSignalingURL          = "AERO_P2P_SIGNALING_URL"
	envVarSignalingSendTimeout  = "AERO_P2P_SIGNALING_SEND_TIMEOUT"
	envVarSignalingDialTimeout  = "AERO_P2P_SIGNALING_DIAL_TIMEOUT"
	envVarReconnectTimeout      = "AERO_P2P_RECONNECT_TIMEOUT"
	envVarMaxChannels           = "AERO_P2P_MAX_CHANNELS"
	envVarSignalingRedialPeriod = "AERO_P2P_SIGNALING_REDIAL_PERIOD"

	// Signaling relay / WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarAPIKey                        = "API_KEY"
	envVarAPIKeyPrevious                = "API_KEY_PREVIOUS"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarMaxSignalingPeers             = "MAX_SIGNALING_PEERS"
	envVarAllowedOrigins                = "ALLOWED_ORIGINS"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarICEFromRelay           = "AERO_P2P_ICE_FROM_RELAY"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultSignalingURL          = "ws://127.0.0.1:8080/signal"
	DefaultSignalingSendTimeout  = 5 * time.Second
	DefaultSignalingDialTimeout  = 10 * time.Second
	DefaultSignalingRedialPeriod = 2 * time.Second
	DefaultReconnectTimeout      = 10 * time.Second
	DefaultMaxChannels           = 64

	DefaultAuthMode AuthMode = AuthModeNone

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultMaxSignalingPeers             = 10000

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "aero"

	// DefaultWebRTCDataChannelMaxMessageBytes bounds a single text message on
	// the "message" data channel.
	DefaultWebRTCDataChannelMaxMessageBytes = 64 * 1024
	// DefaultWebRTCSCTPMaxReceiveBufferBytes caps the SCTP receive buffer used by
	// pion (applies before application-level message decoding).
	DefaultWebRTCSCTPMaxReceiveBufferBytes = 1 << 20 // 1MiB
)

const (
	envVarWebRTCDataChannelMaxMessageBytes = "WEBRTC_DATACHANNEL_MAX_MESSAGE_BYTES"
	envVarWebRTCSCTPMaxReceiveBufferBytes  = "WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES"
)

const (
	flagWebRTCDataChannelMaxMessageBytes = "webrtc-datachannel-max-message-bytes"
	flagWebRTCSCTPMaxReceiveBufferBytes  = "webrtc-sctp-max-receive-buffer-bytes"

	flagSignalingURL = "signaling-url"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// Peer identity and the relay it registers with.
	PeerID                string
	RemoteID              string
	SignalingURL          string
	SignalingSendTimeout  time.Duration
	SignalingDialTimeout  time.Duration
	SignalingRedialPeriod time.Duration
	ReconnectTimeout      time.Duration
	MaxChannels           int

	// Signaling relay auth + hardening.
	AuthMode                      AuthMode
	APIKey                        string
	// APIKeyPrevious is still accepted by the relay while clients move to
	// APIKey. Peers never send it.
	APIKeyPrevious string
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	MaxSignalingPeers             int
	// AllowedOrigins lists normalized browser origins (or "*") that may open
	// the signaling WebSocket. Empty means same host only.
	AllowedOrigins []string

	ICEServers []webrtc.ICEServer
	// ICEFromRelay makes the peer fetch its ICE list (including TURN REST
	// credentials) from the relay's /ice endpoint at startup.
	ICEFromRelay bool
	TURNREST     TurnRESTConfig

	// WebRTCUDPPortRange restricts the ICE UDP ports. Nil leaves pion's
	// ephemeral range in place.
	WebRTCUDPPortRange           *UDPPortRange
	WebRTCUDPListenIP            net.IP
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType

	WebRTCDataChannelMaxMessageBytes int
	WebRTCSCTPMaxReceiveBufferBytes  int
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	peerID := envOrDefault(lookup, envVarPeerID, "")
	remoteID := envOrDefault(lookup, envVarRemoteID, "")
	signalingURL := envOrDefault(lookup, envVarSignalingURL, DefaultSignalingURL)
	signalingSendTimeout, err := envDurationOrDefault(lookup, envVarSignalingSendTimeout, DefaultSignalingSendTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingDialTimeout, err := envDurationOrDefault(lookup, envVarSignalingDialTimeout, DefaultSignalingDialTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingRedialPeriod, err := envDurationOrDefault(lookup, envVarSignalingRedialPeriod, DefaultSignalingRedialPeriod)
	if err != nil {
		return Config{}, err
	}
	reconnectTimeout, err := envDurationOrDefault(lookup, envVarReconnectTimeout, DefaultReconnectTimeout)
	if err != nil {
		return Config{}, err
	}
	maxChannels, err := envIntOrDefault(lookup, envVarMaxChannels, DefaultMaxChannels)
	if err != nil {
		return Config{}, err
	}

	authModeDefault := string(DefaultAuthMode)
	if raw, ok := lookup(envVarAuthMode); ok && strings.TrimSpace(raw) != "" {
		authModeDefault = strings.TrimSpace(raw)
	}
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	apiKeyPrevious := envOrDefault(lookup, envVarAPIKeyPrevious, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}
	iceFromRelay := false
	if raw, ok := lookup(envVarICEFromRelay); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarICEFromRelay, raw, err)
		}
		iceFromRelay = v
	}

	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxSignalingPeers, err := envIntOrDefault(lookup, envVarMaxSignalingPeers, DefaultMaxSignalingPeers)
	if err != nil {
		return Config{}, err
	}

	netCfg, err := readNetworkEnv(lookup)
	if err != nil {
		return Config{}, err
	}
	webrtcDataChannelMaxMessageBytes, err := envIntOrDefault(lookup, envVarWebRTCDataChannelMaxMessageBytes, DefaultWebRTCDataChannelMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	webrtcSCTPMaxReceiveBufferBytes, err := envIntOrDefault(lookup, envVarWebRTCSCTPMaxReceiveBufferBytes, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-p2p", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		authModeStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")

	fs.StringVar(&peerID, "peer-id", peerID, "Local peer id registered with the signaling relay (default: random UUID; env "+envVarPeerID+")")
	fs.StringVar(&remoteID, "remote-id", remoteID, "Remote peer id to invite on startup (optional; env "+envVarRemoteID+")")
	fs.StringVar(&signalingURL, flagSignalingURL, signalingURL, "Signaling relay WebSocket URL (env "+envVarSignalingURL+")")
	fs.DurationVar(&signalingSendTimeout, "signaling-send-timeout", signalingSendTimeout, "Max time to wait for the relay to acknowledge a signaling message (env "+envVarSignalingSendTimeout+")")
	fs.DurationVar(&signalingDialTimeout, "signaling-dial-timeout", signalingDialTimeout, "Signaling relay dial timeout (env "+envVarSignalingDialTimeout+")")
	fs.DurationVar(&signalingRedialPeriod, "signaling-redial-period", signalingRedialPeriod, "Delay between signaling relay reconnect attempts (env "+envVarSignalingRedialPeriod+")")
	fs.DurationVar(&reconnectTimeout, "reconnect-timeout", reconnectTimeout, "How long a connected session may stay ICE-disconnected before it is stopped (env "+envVarReconnectTimeout+")")
	fs.IntVar(&maxChannels, "max-channels", maxChannels, "Maximum concurrent remote peers (0 = unlimited; env "+envVarMaxChannels+")")

	netCfg.bindFlags(fs)
	fs.IntVar(&webrtcDataChannelMaxMessageBytes, flagWebRTCDataChannelMaxMessageBytes, webrtcDataChannelMaxMessageBytes, "Max text message size on the message DataChannel in bytes (env "+envVarWebRTCDataChannelMaxMessageBytes+")")
	fs.IntVar(&webrtcSCTPMaxReceiveBufferBytes, flagWebRTCSCTPMaxReceiveBufferBytes, webrtcSCTPMaxReceiveBufferBytes, "Max SCTP receive buffer size in bytes (0 = auto; env "+envVarWebRTCSCTPMaxReceiveBufferBytes+")")

	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Signaling auth mode: none or api_key (env "+envVarAuthMode+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "Relay: TURN REST shared secret; enables ephemeral TURN credentials on /ice (env "+envVarTURNRESTSharedSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "Relay: TURN REST credential lifetime (env "+envVarTURNRESTTTL+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "Relay: TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")
	fs.BoolVar(&iceFromRelay, "ice-from-relay", iceFromRelay, "Peer: fetch ICE servers from the relay's /ice endpoint (env "+envVarICEFromRelay+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to open the signaling WebSocket (env "+envVarAllowedOrigins+")")
	fs.StringVar(&apiKeyPrevious, "api-key-previous", apiKeyPrevious, "Relay: previous API key still accepted during rotation (env "+envVarAPIKeyPrevious+")")
	fs.StringVar(&apiKey, "api-key", apiKey, "API key required by (relay) or presented to (peer) the signaling relay (env "+envVarAPIKey+")")
	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&maxSignalingPeers, "max-signaling-peers", maxSignalingPeers, "Max concurrently registered peers on the relay (0 = unlimited; env "+envVarMaxSignalingPeers+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingSendTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-timeout must be > 0", envVarSignalingSendTimeout)
	}
	if signalingDialTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-dial-timeout must be > 0", envVarSignalingDialTimeout)
	}
	if signalingRedialPeriod <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-redial-period must be > 0", envVarSignalingRedialPeriod)
	}
	if reconnectTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--reconnect-timeout must be > 0", envVarReconnectTimeout)
	}
	if maxChannels < 0 {
		return Config{}, fmt.Errorf("%s/--max-channels must be >= 0", envVarMaxChannels)
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if maxSignalingPeers < 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-peers must be >= 0", envVarMaxSignalingPeers)
	}
	if strings.TrimSpace(turnRESTSharedSecret) != "" {
		if turnRESTTTL < time.Second {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be >= 1s", envVarTURNRESTTTL)
		}
		if turnRESTUsernamePrefix == "" || strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}
	allowedOrigins, err := origin.ParseAllowlist(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		peerID = uuid.NewString()
	}
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == peerID {
		return Config{}, fmt.Errorf("%s/--remote-id must differ from the local peer id", envVarRemoteID)
	}

	signalingURL, err = normalizeSignalingURL(signalingURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s: %w", envVarSignalingURL, "--"+flagSignalingURL, err)
	}

	effectiveSCTPRecvBuf, err := resolveDataChannelLimits(webrtcDataChannelMaxMessageBytes, webrtcSCTPMaxReceiveBufferBytes)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := iceSources{
		json:           iceServersJSON,
		stunURLs:       stunURLs,
		turnURLs:       turnURLs,
		turnUsername:   turnUsername,
		turnCredential: turnCredential,
		bareTURN:       strings.TrimSpace(turnRESTSharedSecret) != "",
	}.servers()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		PeerID:                peerID,
		RemoteID:              remoteID,
		SignalingURL:          signalingURL,
		SignalingSendTimeout:  signalingSendTimeout,
		SignalingDialTimeout:  signalingDialTimeout,
		SignalingRedialPeriod: signalingRedialPeriod,
		ReconnectTimeout:      reconnectTimeout,
		MaxChannels:           maxChannels,

		AuthMode:                      authMode,
		APIKey:                        apiKey,
		APIKeyPrevious:                apiKeyPrevious,
		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		MaxSignalingPeers:             maxSignalingPeers,
		AllowedOrigins:                allowedOrigins,

		ICEServers:   iceServers,
		ICEFromRelay: iceFromRelay,
		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTUsernamePrefix,
		},

		WebRTCDataChannelMaxMessageBytes: webrtcDataChannelMaxMessageBytes,
		WebRTCSCTPMaxReceiveBufferBytes:  effectiveSCTPRecvBuf,
	}
	if err := netCfg.apply(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	return NewLoggerTo(cfg, os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(cfg Config, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "development":
		return ModeDev, nil
	case "production":
		return ModeProd, nil
	}
	return parseChoice(raw, ModeDev, ModeProd)
}

func parseLogFormat(raw string) (LogFormat, error) {
	return parseChoice(raw, LogFormatText, LogFormatJSON)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	m, err := parseChoice(raw, AuthModeNone, AuthModeAPIKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", envVarAuthMode, err)
	}
	return m, nil
}

// normalizeSignalingURL accepts ws:// and wss:// URLs with a host and no
// embedded credentials.
func normalizeSignalingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%q (expected ws:// or wss://)", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q (missing host)", raw)
	}
	if u.User != nil {
		return "", fmt.Errorf("%q (must not include credentials)", raw)
	}
	return raw, nil
}
