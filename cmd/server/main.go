package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentctl/agentctl/internal/billingstore"
	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/db"
	"github.com/agentctl/agentctl/internal/engine"
	"github.com/agentctl/agentctl/internal/httpapi"
	"github.com/agentctl/agentctl/internal/keystore"
	"github.com/agentctl/agentctl/internal/metrics"
	"github.com/agentctl/agentctl/internal/sessionaudit"
	"github.com/agentctl/agentctl/internal/threadcache"
	"github.com/agentctl/agentctl/internal/workspace"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceVersion = "1.0.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "agentctl").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run database migrations")
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := os.MkdirAll(cfg.ObjectMountPath, 0o755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.ObjectMountPath).Msg("failed to create object mount path")
	}

	keys := keystore.New(pool)
	billing := billingstore.New(pool, billingstore.Pricing{
		InputPer1k:  cfg.Pricing.InputPer1k,
		OutputPer1k: cfg.Pricing.OutputPer1k,
	})
	cache := threadcache.New(cfg.Cache.NMax, cfg.Cache.TTL, cfg.ObjectMountPath)
	ws := workspace.New(cfg.ObjectMountPath)
	adapter := engine.NewHTTPAdapter(cfg.EngineBaseURL, cfg.EngineCredential)
	audit := sessionaudit.New(cfg.ObjectMountPath)
	m := metrics.New(serviceVersion)
	history := metrics.NewHistory(500)

	srv := &httpapi.Server{
		Cfg:     cfg,
		DB:      pool,
		Keys:    keys,
		Billing: billing,
		Cache:   cache,
		WS:      ws,
		Engine:  adapter,
		Metrics: m,
		History: history,
		Audit:   audit,
	}

	c := cron.New()
	if _, err := c.AddFunc("@hourly", func() {
		runRetentionSweep(ws, audit, cache, cfg.RetentionHorizon)
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule retention sweep")
	}
	c.Start()
	defer c.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExecuteDeadline + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// runRetentionSweep deletes workspaces and session audit sidecars older
// than horizon, and thread cache sidecars older than the cache's own TTL.
// Best-effort: every failure is
// logged and the sweep continues with the next store.
func runRetentionSweep(ws *workspace.Manager, audit *sessionaudit.Store, cache *threadcache.Cache, horizon time.Duration) {
	deletedWorkspaces, err := ws.SweepOlderThan(horizon)
	if err != nil {
		log.Error().Err(err).Msg("retention sweep: workspace cleanup failed")
	} else if len(deletedWorkspaces) > 0 {
		log.Info().Int("count", len(deletedWorkspaces)).Msg("retention sweep: deleted stale workspaces")
	}

	deletedSessions, err := audit.DeleteOlderThan(horizon)
	if err != nil {
		log.Error().Err(err).Msg("retention sweep: session audit cleanup failed")
	} else if len(deletedSessions) > 0 {
		log.Info().Int("count", len(deletedSessions)).Msg("retention sweep: deleted stale session records")
	}

	if err := cache.CleanupStale(); err != nil {
		log.Error().Err(err).Msg("retention sweep: thread cache sidecar cleanup failed")
	}
}
