// Package main provides the coinroll server binary: it accepts WebSocket
// connections and runs the session dispatch loop over the PostgreSQL-backed
// player store.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/knielsen81/coinroll/internal/config"
	"github.com/knielsen81/coinroll/internal/game"
	"github.com/knielsen81/coinroll/internal/observability"
	"github.com/knielsen81/coinroll/internal/server"
	"github.com/knielsen81/coinroll/internal/session"
	"github.com/knielsen81/coinroll/internal/storage/postgres"
	"github.com/knielsen81/coinroll/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting coinroll server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("path", cfg.Server.Path),
	)

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Health(ctx, 5*time.Second); err != nil {
		logger.Fatal("database health check failed", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	store := postgres.NewPlayerRepository(pool.DB())
	registry := session.NewRegistry(logger)
	dispatcher := game.NewDispatcher(registry, store, logger)
	acceptor := ws.NewAcceptor(cfg.Server, dispatcher, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("websocket-acceptor", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("lifecycle failed", zap.Error(err))
	}
}
