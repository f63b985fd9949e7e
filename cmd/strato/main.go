package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratodash/strato/internal/api"
	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/config"
	"github.com/stratodash/strato/internal/logging"
	"github.com/stratodash/strato/internal/monitoring"
	"github.com/stratodash/strato/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "strato",
	Short:   "Strato - white-label Proxmox VM dashboard",
	Long:    `Strato exposes a curated slice of the Proxmox VE API behind an authenticated, brandable dashboard for hosting customers`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Strato %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup messages.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "strato",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize with configuration-driven settings.
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "strato",
		FilePath:  cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSize,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting Strato dashboard server")

	store, err := config.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to open settings store")
	}
	defer store.Close()

	if err := seedAdminUser(cfg, store); err != nil {
		log.Warn().Err(err).Msg("Failed to seed admin user")
	}

	if cfg.DisableAuth {
		log.Warn().Msg("Authentication is DISABLED, all requests run as admin")
	}

	tokens, err := auth.NewTokenManager([]byte(cfg.SessionSecret))
	if err != nil && !cfg.DisableAuth {
		log.Fatal().Err(err).Msg("Failed to initialize session tokens")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsAddr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.MetricsPort)
	startMetricsServer(ctx, metricsAddr)

	wsHub := websocket.NewHub(nil)
	if cfg.AllowedOrigins != "" {
		wsHub.SetAllowedOrigins(strings.Split(cfg.AllowedOrigins, ","))
	}
	stopHub := make(chan struct{})
	go wsHub.Run(stopHub)
	defer close(stopHub)

	poller := monitoring.NewPoller(store, wsHub, cfg.PollingInterval,
		monitoring.DefaultClientFactory(cfg.ConnectionTimeout))
	wsHub.SetInitialState(func() interface{} {
		return poller.State()
	})
	go poller.Start(ctx)

	router := api.NewRouter(cfg, store, poller, wsHub, tokens, Version)

	// ReadHeaderTimeout only, so websocket connections survive past the
	// handshake.
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, .env changes will require restart")
	} else {
		watcher.SetReloadCallback(func() {
			log.Info().Msg("Configuration reloaded from .env")
			if err := poller.Reload(); err != nil {
				log.Error().Err(err).Msg("Failed to reload poller after config change")
			}
		})
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer watcher.Stop()
	}

	go func() {
		if cfg.HTTPSEnabled && cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			log.Info().Str("host", cfg.ListenHost).Int("port", cfg.ListenPort).Str("protocol", "HTTPS").Msg("Server listening")
			if err := srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("Failed to start HTTPS server")
			}
		} else {
			if cfg.HTTPSEnabled {
				log.Warn().Msg("STRATO_HTTPS_ENABLED is set but cert or key file is missing, falling back to HTTP")
			}
			log.Info().Str("host", cfg.ListenHost).Int("port", cfg.ListenPort).Str("protocol", "HTTP").Msg("Server listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("Failed to start HTTP server")
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info().Msg("SIGHUP received, reloading configuration")
			if watcher != nil {
				watcher.Reload()
			} else if err := poller.Reload(); err != nil {
				log.Error().Err(err).Msg("Reload failed")
			}
			continue
		}

		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		break
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown did not finish cleanly")
	}
}
