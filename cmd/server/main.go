// Sentinel - Real-time transaction screening for the payment pipeline
package main

import (
	"context"
	"os"

	"github.com/meridianpay/sentinel/internal/config"
	"github.com/meridianpay/sentinel/internal/logging"
	"github.com/meridianpay/sentinel/internal/server"
)

// Build info, set by ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")
	logger.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "env", cfg.Env, "base_fiat", cfg.BaseFiat)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
