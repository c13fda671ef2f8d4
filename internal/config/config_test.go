package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.StoreDriver != StoreDriverSQLite || cfg.SQLitePath != DefaultSQLitePath {
		t.Fatalf("store=%q path=%q", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.BlockDuration != DefaultBlockDuration {
		t.Fatalf("BlockDuration=%v, want %v", cfg.BlockDuration, DefaultBlockDuration)
	}
	if cfg.StaleRoomAge != DefaultStaleRoomAge {
		t.Fatalf("StaleRoomAge=%v, want %v", cfg.StaleRoomAge, DefaultStaleRoomAge)
	}
	if cfg.ReconcileInterval != DefaultReconcileInterval {
		t.Fatalf("ReconcileInterval=%v, want %v", cfg.ReconcileInterval, DefaultReconcileInterval)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.TLSEnabled() {
		t.Fatalf("expected TLS disabled by default")
	}
	if cfg.AdminSecret != "" {
		t.Fatalf("AdminSecret=%q, want empty", cfg.AdminSecret)
	}
	if cfg.ICEServers == nil || len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%#v, want empty non-nil", cfg.ICEServers)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError=%v", err)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvBlockDuration: "5m",
		EnvListenAddr:    "0.0.0.0:9000",
	}), []string{"--block-duration", "30s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BlockDuration != 30*time.Second {
		t.Fatalf("BlockDuration=%v, want 30s", cfg.BlockDuration)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
}

func TestInvalidDurationEnv(t *testing.T) {
	_, err := load(lookupMap(map[string]string{EnvStaleRoomAge: "soon"}), nil)
	if err == nil || !strings.Contains(err.Error(), EnvStaleRoomAge) {
		t.Fatalf("err=%v, want mention of %s", err, EnvStaleRoomAge)
	}
}

func TestAdminSecret_LegacyName(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{EnvAdminSecretLegacy: "1234"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AdminSecret != "1234" {
		t.Fatalf("AdminSecret=%q, want 1234", cfg.AdminSecret)
	}

	cfg, err = load(lookupMap(map[string]string{
		EnvAdminSecretLegacy: "1234",
		EnvAdminSecret:       "preferred",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AdminSecret != "preferred" {
		t.Fatalf("AdminSecret=%q, want preferred", cfg.AdminSecret)
	}
}

func TestStoreDriver(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{EnvStoreDriver: "postgres"}), nil); err == nil {
		t.Fatalf("expected postgres without DATABASE_URL to fail")
	}

	cfg, err := load(lookupMap(map[string]string{
		EnvStoreDriver: "postgresql",
		EnvDatabaseURL: "postgres://localhost/pairing",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver=%q", cfg.StoreDriver)
	}

	if _, err := load(lookupMap(map[string]string{EnvStoreDriver: "mongo"}), nil); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestTLS_RequiresBothFiles(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{EnvTLSCertFile: "cert.pem"}), nil); err == nil {
		t.Fatalf("expected error for cert without key")
	}

	cfg, err := load(lookupMap(map[string]string{
		EnvTLSCertFile:        "cert.pem",
		EnvTLSKeyFile:         "key.pem",
		EnvRedirectListenAddr: ":80",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TLSEnabled() || cfg.RedirectListenAddr != ":80" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestRedirectListener_RequiresTLS(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{EnvRedirectListenAddr: ":80"}), nil); err == nil {
		t.Fatalf("expected redirect listener without TLS to fail")
	}
}

func TestSignalingPingMustBeShorterThanIdle(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		EnvSignalingWSIdleTimeout:  "10s",
		EnvSignalingWSPingInterval: "10s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestMaxSignalingMessagesPerSecond_RejectsNegative(t *testing.T) {
	if _, err := load(lookupMap(map[string]string{EnvMaxSignalingMessagesPerSecond: "-1"}), nil); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvAllowedOrigins: "https://Example.com:443, http://localhost:5173,null",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "null"}
	if strings.Join(cfg.AllowedOrigins, "|") != strings.Join(want, "|") {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}

	if _, err := load(lookupMap(map[string]string{EnvAllowedOrigins: "example.com"}), nil); err == nil {
		t.Fatalf("expected bare host to be rejected")
	}
}

func TestICEConfigErrorDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{EnvICEServersJSON: "{not json"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error")
	}
	if cfg.ICEServers == nil {
		t.Fatalf("ICEServers must be non-nil")
	}
}

func TestTURNREST_AllowsTURNWithoutStaticCreds(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvTurnURLs:             "turn:turn.example.com:3478",
		EnvTURNRESTSharedSecret: "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError=%v", err)
	}
	if !cfg.TURNREST.Enabled() || cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Fatalf("TURNREST=%+v", cfg.TURNREST)
	}

	if _, err := load(lookupMap(map[string]string{
		EnvTURNRESTSharedSecret:   "s3cret",
		EnvTURNRESTUsernamePrefix: "a:b",
	}), nil); err == nil {
		t.Fatalf("expected prefix containing ':' to be rejected")
	}
}

func TestWithDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.env")
	if err := os.WriteFile(path, []byte("number=4242\nBLOCK_DURATION=3m\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	lookup, err := withDotEnv(lookupMap(map[string]string{
		envVarEnvFile:    path,
		EnvBlockDuration: "7m",
	}))
	if err != nil {
		t.Fatalf("withDotEnv: %v", err)
	}
	cfg, err := load(lookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AdminSecret != "4242" {
		t.Fatalf("AdminSecret=%q, want value from env file", cfg.AdminSecret)
	}
	if cfg.BlockDuration != 7*time.Minute {
		t.Fatalf("BlockDuration=%v, process env must win over env file", cfg.BlockDuration)
	}
}

func TestWithDotEnv_MissingFileIsIgnored(t *testing.T) {
	lookup, err := withDotEnv(lookupMap(map[string]string{
		envVarEnvFile: filepath.Join(t.TempDir(), "missing.env"),
	}))
	if err != nil {
		t.Fatalf("withDotEnv: %v", err)
	}
	if _, ok := lookup(EnvAdminSecret); ok {
		t.Fatalf("unexpected value")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
