package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/kirinyoku/tixledger/docs"
	"github.com/kirinyoku/tixledger/internal/app"
	"github.com/kirinyoku/tixledger/internal/config"
)

// @title TixLedger API
// @version 1.0
// @description Ticket marketplace ledger: minting, resale listings and atomic purchases.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
