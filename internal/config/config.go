package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/origin"
)

const (
	envVarEnvFile            = "AERO_PAIRING_ENV_FILE"
	envVarListenAddr         = "AERO_PAIRING_LISTEN_ADDR"
	envVarRedirectListenAddr = "AERO_PAIRING_REDIRECT_LISTEN_ADDR"
	envVarLogFormat          = "AERO_PAIRING_LOG_FORMAT"
	envVarLogLevel           = "AERO_PAIRING_LOG_LEVEL"
	envVarShutdownTimeout    = "AERO_PAIRING_SHUTDOWN_TIMEOUT"
	envVarMode               = "AERO_PAIRING_MODE"

	envVarTLSCertFile    = "TLS_CERT_FILE"
	envVarTLSKeyFile     = "TLS_KEY_FILE"
	envVarStaticDir      = "STATIC_DIR"
	envVarAllowedOrigins = "ALLOWED_ORIGINS"

	// Persistence.
	envVarStoreDriver = "STORE_DRIVER"
	envVarSQLitePath  = "SQLITE_PATH"
	envVarDatabaseURL = "DATABASE_URL"

	// Admin endpoint shared secret. The legacy name is the field the admin
	// request body carries.
	envVarAdminSecret       = "ADMIN_SECRET"
	envVarAdminSecretLegacy = "number"

	// Pairing and reconciliation timing.
	envVarBlockDuration     = "BLOCK_DURATION"
	envVarStaleRoomAge      = "STALE_ROOM_AGE"
	envVarReconcileInterval = "RECONCILE_INTERVAL"

	// Signaling websocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	DefaultEnvFile              = ".env"
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultStoreDriver          = StoreDriverSQLite
	DefaultSQLitePath           = "pairing.db"

	DefaultBlockDuration     = 10 * time.Minute
	DefaultStaleRoomAge      = 2 * time.Minute
	DefaultReconcileInterval = time.Minute

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"
)

// Exported env var names for tests and operator docs.
const (
	EnvListenAddr                    = envVarListenAddr
	EnvRedirectListenAddr            = envVarRedirectListenAddr
	EnvTLSCertFile                   = envVarTLSCertFile
	EnvTLSKeyFile                    = envVarTLSKeyFile
	EnvStaticDir                     = envVarStaticDir
	EnvAllowedOrigins                = envVarAllowedOrigins
	EnvStoreDriver                   = envVarStoreDriver
	EnvSQLitePath                    = envVarSQLitePath
	EnvDatabaseURL                   = envVarDatabaseURL
	EnvAdminSecret                   = envVarAdminSecret
	EnvAdminSecretLegacy             = envVarAdminSecretLegacy
	EnvBlockDuration                 = envVarBlockDuration
	EnvStaleRoomAge                  = envVarStaleRoomAge
	EnvReconcileInterval             = envVarReconcileInterval
	EnvSignalingWSIdleTimeout        = envVarSignalingWSIdleTimeout
	EnvSignalingWSPingInterval       = envVarSignalingWSPingInterval
	EnvMaxSignalingMessageBytes      = envVarMaxSignalingMessageBytes
	EnvMaxSignalingMessagesPerSecond = envVarMaxSignalingMessagesPerSecond
	EnvTURNRESTSharedSecret          = envVarTURNRESTSharedSecret
	EnvTURNRESTUsernamePrefix        = envVarTURNRESTUsernamePrefix
	EnvICEServersJSON                = envICEServersJSON
	EnvStunURLs                      = envStunURLs
	EnvTurnURLs                      = envTurnURLs
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

type StoreDriver string

const (
	StoreDriverSQLite   StoreDriver = "sqlite"
	StoreDriverPostgres StoreDriver = "postgres"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr string
	// RedirectListenAddr, when set, serves plaintext HTTP that redirects every
	// request to https on the same host.
	RedirectListenAddr string
	TLSCertFile        string
	TLSKeyFile         string

	StaticDir      string
	AllowedOrigins []string

	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	StoreDriver StoreDriver
	SQLitePath  string
	DatabaseURL string

	AdminSecret string

	BlockDuration     time.Duration
	StaleRoomAge      time.Duration
	ReconcileInterval time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError is set when the ICE server list failed to parse. The relay
// still starts so signaling keeps working; /readyz and /webrtc/ice report it.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// TLSEnabled reports whether the main listener serves HTTPS.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// Load reads configuration from the process environment, an optional .env
// file and command line flags, in increasing order of precedence.
func Load(args []string) (Config, error) {
	lookup, err := withDotEnv(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	return load(lookup, args)
}

// withDotEnv layers the .env file under the process environment. A missing
// file is not an error.
func withDotEnv(lookup func(string) (string, bool)) (func(string) (string, bool), error) {
	path := envOrDefault(lookup, envVarEnvFile, DefaultEnvFile)
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lookup, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
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
	redirectListenAddr := envOrDefault(lookup, envVarRedirectListenAddr, "")
	tlsCertFile := envOrDefault(lookup, envVarTLSCertFile, "")
	tlsKeyFile := envOrDefault(lookup, envVarTLSKeyFile, "")
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	storeDriverStr := envOrDefault(lookup, envVarStoreDriver, string(DefaultStoreDriver))
	sqlitePath := envOrDefault(lookup, envVarSQLitePath, DefaultSQLitePath)
	databaseURL := envOrDefault(lookup, envVarDatabaseURL, "")

	adminSecret := envOrDefault(lookup, envVarAdminSecret, envOrDefault(lookup, envVarAdminSecretLegacy, ""))

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	blockDuration, err := envDurationOrDefault(lookup, envVarBlockDuration, DefaultBlockDuration)
	if err != nil {
		return Config{}, err
	}
	staleRoomAge, err := envDurationOrDefault(lookup, envVarStaleRoomAge, DefaultStaleRoomAge)
	if err != nil {
		return Config{}, err
	}
	reconcileInterval, err := envDurationOrDefault(lookup, envVarReconcileInterval, DefaultReconcileInterval)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs := flag.NewFlagSet("aero-webrtc-pairing-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP(S) listen address (host:port)")
	fs.StringVar(&redirectListenAddr, "redirect-listen-addr", redirectListenAddr, "Optional plaintext listen address that redirects to https (env "+envVarRedirectListenAddr+")")
	fs.StringVar(&tlsCertFile, "tls-cert-file", tlsCertFile, "TLS certificate file; requires --tls-key-file (env "+envVarTLSCertFile+")")
	fs.StringVar(&tlsKeyFile, "tls-key-file", tlsKeyFile, "TLS private key file; requires --tls-cert-file (env "+envVarTLSKeyFile+")")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory of static assets served at / (env "+envVarStaticDir+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&storeDriverStr, "store-driver", storeDriverStr, "Persistence backend: sqlite or postgres (env "+envVarStoreDriver+")")
	fs.StringVar(&sqlitePath, "sqlite-path", sqlitePath, "SQLite database file (env "+envVarSQLitePath+")")
	fs.StringVar(&databaseURL, "database-url", databaseURL, "PostgreSQL connection URL (env "+envVarDatabaseURL+")")
	fs.StringVar(&adminSecret, "admin-secret", adminSecret, "Shared secret for POST /delete-all-rooms (env "+envVarAdminSecret+")")

	fs.DurationVar(&blockDuration, "block-duration", blockDuration, "How long a block keeps a device out of pairing (env "+envVarBlockDuration+")")
	fs.DurationVar(&staleRoomAge, "stale-room-age", staleRoomAge, "Reset half-full rooms older than this (env "+envVarStaleRoomAge+")")
	fs.DurationVar(&reconcileInterval, "reconcile-interval", reconcileInterval, "How often the reconciliation sweep runs (env "+envVarReconcileInterval+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (0 = unlimited; env "+envVarMaxSignalingMessagesPerSecond+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

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
	storeDriver, err := parseStoreDriver(storeDriverStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if (tlsCertFile == "") != (tlsKeyFile == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", envVarTLSCertFile, envVarTLSKeyFile)
	}
	if redirectListenAddr != "" && tlsCertFile == "" {
		return Config{}, fmt.Errorf("%s/--redirect-listen-addr requires TLS to be configured", envVarRedirectListenAddr)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	switch storeDriver {
	case StoreDriverSQLite:
		if strings.TrimSpace(sqlitePath) == "" {
			return Config{}, fmt.Errorf("%s/--sqlite-path must not be empty", envVarSQLitePath)
		}
	case StoreDriverPostgres:
		if strings.TrimSpace(databaseURL) == "" {
			return Config{}, fmt.Errorf("%s/--database-url is required when %s=%s", envVarDatabaseURL, envVarStoreDriver, StoreDriverPostgres)
		}
	}
	if blockDuration <= 0 {
		return Config{}, fmt.Errorf("%s/--block-duration must be > 0", envVarBlockDuration)
	}
	if staleRoomAge <= 0 {
		return Config{}, fmt.Errorf("%s/--stale-room-age must be > 0", envVarStaleRoomAge)
	}
	if reconcileInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--reconcile-interval must be > 0", envVarReconcileInterval)
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
	if maxSignalingMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be >= 0", envVarMaxSignalingMessagesPerSecond)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarAllowedOrigins, err)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   strings.TrimSpace(turnRESTSharedSecret),
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: strings.TrimSpace(turnRESTUsernamePrefix),
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", envVarTURNRESTTTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:         listenAddr,
		RedirectListenAddr: redirectListenAddr,
		TLSCertFile:        tlsCertFile,
		TLSKeyFile:         tlsKeyFile,
		StaticDir:          strings.TrimSpace(staticDir),
		AllowedOrigins:     allowedOrigins,
		LogFormat:          logFormat,
		LogLevel:           level,
		ShutdownTimeout:    shutdownTimeout,
		Mode:               mode,

		StoreDriver: storeDriver,
		SQLitePath:  sqlitePath,
		DatabaseURL: databaseURL,

		AdminSecret: adminSecret,

		BlockDuration:     blockDuration,
		StaleRoomAge:      staleRoomAge,
		ReconcileInterval: reconcileInterval,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		TURNREST: turnREST,
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, turnREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
		cfg.ICEServers = []webrtc.ICEServer{}
	} else {
		cfg.ICEServers = iceServers
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = []webrtc.ICEServer{}
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
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

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
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
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
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

func parseStoreDriver(raw string) (StoreDriver, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StoreDriverSQLite), "sqlite3":
		return StoreDriverSQLite, nil
	case string(StoreDriverPostgres), "postgresql", "pg":
		return StoreDriverPostgres, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarStoreDriver, raw, StoreDriverSQLite, StoreDriverPostgres)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" || entry == "null" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
