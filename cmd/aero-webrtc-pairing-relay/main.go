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

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/reconcile"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store/pgstore"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/store/sqlitestore"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
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

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-pairing-relay",
		"listen_addr", cfg.ListenAddr,
		"redirect_listen_addr", cfg.RedirectListenAddr,
		"tls", cfg.TLSEnabled(),
		"mode", cfg.Mode,
		"store_driver", cfg.StoreDriver,
		"block_duration", cfg.BlockDuration,
		"stale_room_age", cfg.StaleRoomAge,
		"reconcile_interval", cfg.ReconcileInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /readyz will report not ready", "err", err)
	} else if err := webrtcpeer.CheckICEServers(webrtcpeer.NewAPI(), cfg.ICEServers, cfg.TURNREST.Enabled()); err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logStartupSecurityWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	hub := signaling.NewHub(logger, m)

	pairer, err := pairing.New(pairing.Config{
		Store:         st,
		Emitter:       hub,
		BlockDuration: cfg.BlockDuration,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		logger.Error("failed to configure pairing", "err", err)
		os.Exit(2)
	}

	origins, err := origin.NewPolicy(cfg.AllowedOrigins)
	if err != nil {
		logger.Error("failed to configure origin policy", "err", err)
		os.Exit(2)
	}

	sig, err := signaling.NewServer(signaling.Config{
		Hub:                  hub,
		Pairing:              pairer,
		Origins:              origins,
		Logger:               logger,
		Metrics:              m,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: signalingRateLimit(cfg.MaxSignalingMessagesPerSecond),
	})
	if err != nil {
		logger.Error("failed to configure signaling", "err", err)
		os.Exit(2)
	}

	job, err := reconcile.New(reconcile.Config{
		Store:         st,
		Emitter:       hub,
		Interval:      cfg.ReconcileInterval,
		StaleRoomAge:  cfg.StaleRoomAge,
		BlockDuration: cfg.BlockDuration,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		logger.Error("failed to configure reconcile job", "err", err)
		os.Exit(2)
	}

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}, httpserver.Deps{
		Rooms:   st,
		Metrics: m,
	})
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}
	sig.RegisterRoutes(srv.Mux())

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}

	jobCtx, cancelJob := context.WithCancel(context.Background())
	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job.Run(jobCtx)
	}()

	errCh := make(chan error, 2)
	go func() {
		if cfg.TLSEnabled() {
			errCh <- srv.ServeTLS(ln, cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	var redirect *http.Server
	if cfg.RedirectListenAddr != "" {
		redirect = httpserver.NewRedirectServer(cfg.RedirectListenAddr)
		go func() {
			logger.Info("https redirect serving", "addr", cfg.RedirectListenAddr)
			errCh <- redirect.ListenAndServe()
		}()
	}

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if redirect != nil {
		if err := redirect.Shutdown(shutdownCtx); err != nil {
			logger.Error("redirect server shutdown failed", "err", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	// Hijacked signaling sockets are not tracked by http.Server.Shutdown.
	sig.Close()

	cancelJob()
	select {
	case <-jobDone:
	case <-shutdownCtx.Done():
		logger.Warn("reconcile job did not stop before shutdown timeout")
	}

	if err := st.Close(); err != nil {
		logger.Error("store close failed", "err", err)
	}

	if exitCode != 0 {
		stop()
		os.Exit(exitCode)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		st, err := pgstore.Open(ctx, pgstore.Config{URL: cfg.DatabaseURL, Logger: logger})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreDriverSQLite, "":
		st, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// signalingRateLimit maps the config convention (0 = unlimited) onto the
// signaling one (0 = default, negative = unlimited).
func signalingRateLimit(perSecond int) int {
	if perSecond <= 0 {
		return -1
	}
	return perSecond
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
