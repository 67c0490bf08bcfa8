package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"

	"github.com/Sternrassler/hotel-cache-proxy/internal/config"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	figure.NewFigure("Hotel Proxy", "", true).Print()
	fmt.Println("")
	fmt.Println("Hotel proxy listening on " + cfg.Server.Address())
	fmt.Println("")

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
