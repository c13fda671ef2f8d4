package main

import (
	"log/slog"
	"slices"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AdminSecret == "" {
		logger.Warn("startup warning: ADMIN_SECRET is unset; POST /delete-all-rooms will reject every request",
			"warning_code", "admin_secret_unset",
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && len(cfg.AdminSecret) < 8 {
		logger.Warn("startup security warning: ADMIN_SECRET is shorter than 8 characters while --mode=prod",
			"warning_code", "admin_secret_short",
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.TLSEnabled() {
		logger.Warn("startup security warning: TLS is disabled while --mode=prod (expecting a TLS-terminating proxy in front)",
			"warning_code", "tls_disabled_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.StoreDriver == config.StoreDriverSQLite {
		logger.Warn("startup warning: STORE_DRIVER=sqlite while --mode=prod limits the relay to a single instance",
			"warning_code", "sqlite_in_prod",
			"sqlite_path", cfg.SQLitePath,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingMessagesPerSecond == 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is 0 (unlimited) while --mode=prod",
			"warning_code", "signaling_rate_unlimited_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-connection allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	stun, turn := countICEServers(cfg.ICEServers)
	if cfg.ICEConfigError() == nil && cfg.Mode == config.ModeProd && turn == 0 {
		logger.Warn("startup warning: no TURN servers configured; peers behind symmetric NATs will fail to connect",
			"warning_code", "no_turn_servers",
			"stun_servers", stun,
			"mode", cfg.Mode,
		)
	}
}

// countICEServers reports how many entries advertise STUN and TURN URLs. An
// entry with both kinds counts towards both.
func countICEServers(servers []webrtc.ICEServer) (stun, turn int) {
	for _, server := range servers {
		hasSTUN, hasTURN := false, false
		for _, url := range server.URLs {
			if config.IsTURNURL(url) {
				hasTURN = true
			} else {
				hasSTUN = true
			}
		}
		if hasSTUN {
			stun++
		}
		if hasTURN {
			turn++
		}
	}
	return stun, turn
}
