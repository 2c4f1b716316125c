/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/daemon"
	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/logbuffer"
	"github.com/friendsincode/slotwise/internal/logging"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/version"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduling passes on a cron and serve the trigger API",
	Long:  "Runs the scheduler for the configured users on the configured cron spec and serves POST /api/v1/runs/{userID}, /healthz and /metrics.",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if err := cfg.ValidateDaemon(); err != nil {
		return err
	}
	logs := logbuffer.New(0)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logs, nil))

	logger.Info().Str("version", version.Version).Msg("slotwise daemon starting")

	shutdownTracer, err := initTracer(context.Background())
	if err != nil {
		return err
	}
	defer shutdownTracer()

	database, err := openDatabase()
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return err
	}

	publisher, closePublisher, err := newPublisher()
	if err != nil {
		_ = db.Close(database)
		return err
	}
	locker, closeLocker, err := newLocker()
	if err != nil {
		_ = closePublisher()
		_ = db.Close(database)
		return err
	}

	svc := scheduler.New(repository.NewGorm(database), schedulerOptions(), publisher, logger)
	d, err := daemon.New(cfg, svc, locker, logger)
	if err != nil {
		_ = closeLocker()
		_ = closePublisher()
		_ = db.Close(database)
		return err
	}
	d.SetLogBuffer(logs)
	d.DeferClose(func() error { return db.Close(database) })
	d.DeferClose(closePublisher)
	d.DeferClose(closeLocker)

	d.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("slotwise daemon stopped")
	return nil
}
