// Command server runs the Trading Bridge Server: it terminates the
// Execution Host TCP link, fans data out to Dashboard WebSocket
// subscribers, and serves the HTTP health/metrics/predict surface.
//
// Grounded on the teacher's cmd/server/main.go: config load -> logger ->
// component wiring -> background loops -> signal handling -> ordered
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aristath/tradebridge/internal/config"
	"github.com/aristath/tradebridge/internal/logging"
	"github.com/aristath/tradebridge/internal/prediction"
	"github.com/aristath/tradebridge/internal/store"
	"github.com/aristath/tradebridge/internal/supervisor"
	"github.com/aristath/tradebridge/internal/trailing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; fall back to a bare stderr line, matching the
		// teacher's main.go behavior when config.Load fails before the
		// logger can be built.
		os.Stderr.WriteString("fatal: config load: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("trading bridge server starting")

	durable, err := openDurableStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open durable store")
	}
	defer durable.Close()

	sup, err := supervisor.New(log, supervisor.Config{
		HostPort:             cfg.HostPort,
		DashboardPort:        cfg.DashboardPort,
		SettingsPath:         cfg.SettingsPath,
		MinConfidenceDefault: cfg.MinConfidenceDefault,
		AutoTradeDefault:     cfg.AutoTradeDefault,
		SubscriberQueueCap:   cfg.SubscriberQueueCapacity,
		PredictionGatewayCfg: prediction.Config{
			CacheCapacity: cfg.FeatureCacheCapacity,
			CacheTTL:      time.Duration(cfg.PredictionCacheTTLMs) * time.Millisecond,
		},
		TrailingCfg: trailing.Config{
			Throttle:      time.Duration(cfg.TrailingThrottleMs) * time.Millisecond,
			MaxMoveATR:    cfg.TrailingMaxMoveATR,
			MinConfidence: cfg.TrailingMinConfidence,
		},
		HostHeartbeatTimeout: time.Duration(cfg.HostHeartbeatTimeoutMs) * time.Millisecond,
	}, prediction.RuleBasedPredictor{}, durable)
	if err != nil {
		log.Fatal().Err(err).Msg("build supervisor")
	}

	cron := sup.StartMaintenance()
	defer cron.Stop()

	hostCtx, cancelHost := context.WithCancel(context.Background())
	go func() {
		addr := "0.0.0.0:" + strconv.Itoa(cfg.HostPort)
		if err := sup.AcceptHost(hostCtx, addr); err != nil {
			log.Error().Err(err).Msg("host accept loop exited")
		}
	}()

	httpSrv := &http.Server{
		Addr:         "0.0.0.0:" + strconv.Itoa(cfg.DashboardPort),
		Handler:      sup.Router(cfg.DevMode),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("dashboard http/ws surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server exited")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancelHost()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sup.Shutdown(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)

	log.Info().Msg("trading bridge server stopped")
}

func openDurableStore(cfg *config.Config) (store.Store, error) {
	// The durable Store is entirely optional (spec §6); absent any
	// explicit opt-in this stays a no-op so the core operates correctly
	// with no external dependency present.
	if os.Getenv("BRIDGE_DURABLE_STORE") != "sqlite" {
		return store.NoOp{}, nil
	}
	return store.Open(cfg.DataDir + "/tradebridge.db")
}
