// Package main provides the interactive console client for the coinroll
// server.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/knielsen81/coinroll/internal/client"
	"github.com/knielsen81/coinroll/internal/config"
	"github.com/knielsen81/coinroll/internal/observability"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	serverURL := flag.String("url", "", "override server websocket URL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	c := client.New(cfg.Client, logger, os.Stdin, os.Stdout)
	if err := c.Run(context.Background()); err != nil {
		log.Fatalf("client: %v", err)
	}
}
