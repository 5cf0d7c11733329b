/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/db"
	"github.com/friendsincode/grimnir_autodj/internal/logbuffer"
	"github.com/friendsincode/grimnir_autodj/internal/logging"
	"github.com/friendsincode/grimnir_autodj/internal/server"
	"github.com/friendsincode/grimnir_autodj/internal/version"
)

var (
	logger zerolog.Logger
	logBuf = logbuffer.New(0)
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "autodj",
	Short:   "Grimnir AutoDJ - unattended background music for business locations",
	Long:    "Grimnir AutoDJ plays a channel's rotation playlists around the clock, interleaving interval content such as announcements and ads.",
	Version: version.Current().String(),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AutoDJ daemon",
	Long:  "Start the control API and, if configured, the initial channel",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the catalog tables",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment, logbuffer.NewWriter(logBuf))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Grimnir AutoDJ starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	servers := []*http.Server{srv.HTTPServer()}
	if ms := srv.MetricsServer(); ms != nil {
		servers = append(servers, ms)
	}
	errc := make(chan error, len(servers))
	for _, hs := range servers {
		go func(hs *http.Server) {
			logger.Info().Str("addr", hs.Addr).Msg("HTTP server listening")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("listen on %s: %w", hs.Addr, err)
			}
		}(hs)
	}

	srv.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		logger.Error().Err(runErr).Msg("http server error")
	}

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, hs := range servers {
		if err := hs.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Str("addr", hs.Addr).Msg("graceful shutdown failed")
		}
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Grimnir AutoDJ stopped")
	return runErr
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("catalog tables are up to date")
	return nil
}

// initDatabase connects and migrates the catalog database.
func initDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, err
	}
	return database, nil
}
