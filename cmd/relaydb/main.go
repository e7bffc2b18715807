package main

import (
	"context"

	"github.com/joho/godotenv"

	"relaydb/internal/app"
	"relaydb/pkg/config"
	"relaydb/pkg/logger"
	"relaydb/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	eff, rc, err := config.LoadEffective(flags)
	if err != nil {
		logger.Init()
		shutdown.Abort("config load failed", err, "", 0)
	}

	logger.InitWithLevel(eff.Config.Logging.Level)

	a, err := app.New(eff, rc, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		_ = a.Close()
		shutdown.Abort("server exited", err, eff.DBPath, 0)
	}
	if err := a.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}
