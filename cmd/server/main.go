// Command server runs the academy credential and session API.
//
// Configuration comes from ACADEMY_* environment variables, an optional
// .env file and an optional config.yaml; see internal/config.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/naqwa/academy/internal/config"
	applog "github.com/naqwa/academy/internal/log"
	"github.com/naqwa/academy/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := applog.New(applog.Options{
		Environment: cfg.Environment,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
