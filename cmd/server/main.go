// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package main is the entry point for the Osusume server.
//
// Startup order: configuration (koanf layers: defaults, config.yaml,
// environment), logging, DuckDB, the Badger local cache, the MAL client,
// the recommendation engine, and finally the supervised HTTP server and
// cache janitor. Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/yukarin/osusume/internal/api"
	"github.com/yukarin/osusume/internal/auth"
	"github.com/yukarin/osusume/internal/config"
	"github.com/yukarin/osusume/internal/cooldown"
	"github.com/yukarin/osusume/internal/database"
	"github.com/yukarin/osusume/internal/logging"
	"github.com/yukarin/osusume/internal/mal"
	"github.com/yukarin/osusume/internal/recommend"
	"github.com/yukarin/osusume/internal/supervisor"
	"github.com/yukarin/osusume/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Msg("Starting Osusume")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	localCache, err := cooldown.Open(cfg.Cache.Dir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open local cache")
	}
	defer func() {
		if err := localCache.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close local cache")
		}
	}()

	jwtManager, err := auth.NewJWTManager(&cfg.Auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize session signing")
	}
	sessions := auth.NewSessionStore(localCache.DB(), cfg.Auth.SessionTTL)

	malClient := mal.NewClient(&cfg.MAL)
	engine := recommend.New(malClient, db, localCache, &cfg.Recommend)

	handlers := api.NewHandlers(cfg, db, malClient, engine, sessions, jwtManager, localCache)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handlers),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))
	tree.AddMaintenanceService(services.NewJanitorService(db, localCache, cfg.Cache.JanitorInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", server.Addr).
		Msg("HTTP server listening")
	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("Supervisor exited with error")
	}
	logging.Info().Msg("Shutdown complete")
}
