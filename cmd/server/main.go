// Command server runs the safetransfer escrow API.
package main

import (
	"context"
	"os"

	"github.com/mbd888/safetransfer/internal/config"
	"github.com/mbd888/safetransfer/internal/logging"
	"github.com/mbd888/safetransfer/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured one exists
	boot := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		boot.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closer := logging.NewWithFile(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = closer.Close() }()

	logger.Info("starting safetransfer",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"ledger_backend", cfg.LedgerBackend,
		"program_name", cfg.ProgramName,
		"dev_faucet", cfg.EnableDevFaucet,
	)

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
