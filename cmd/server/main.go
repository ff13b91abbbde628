// Pesa-Bridge - mobile-money push-payment gateway for virtual cards
package main

import (
	"context"
	"os"

	"github.com/okwareddevnest/Pesa-Bridge/internal/config"
	"github.com/okwareddevnest/Pesa-Bridge/internal/logging"
	"github.com/okwareddevnest/Pesa-Bridge/internal/server"
	"github.com/okwareddevnest/Pesa-Bridge/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting pesa-bridge",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"settlement_currency", cfg.SettlementCurrency,
		"auth_timeout", cfg.AuthTimeout,
		"gateway_mode", cfg.GatewayMode,
	)

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTraces(context.Background()); err != nil {
			logger.Error("trace shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
