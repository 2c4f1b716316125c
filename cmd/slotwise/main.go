/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tj/go-naturaldate"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwise/internal/config"
	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/eventbus"
	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/logging"
	"github.com/friendsincode/slotwise/internal/runlock"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/friendsincode/slotwise/internal/version"
)

var (
	logger     zerolog.Logger
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "slotwise",
	Short:         "Slotwise - time-window scheduler for projects and habits",
	Long:          "Slotwise places a user's projects and recurring habits into their energy-rated time windows.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (overrides SLOTWISE_CONFIG_FILE)")
	rootCmd.AddCommand(versionCmd)
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
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

// openDatabase connects using the loaded configuration.
func openDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return database, nil
}

// initTracer starts OpenTelemetry export when enabled. The returned
// function flushes and stops it.
func initTracer(ctx context.Context) (func(), error) {
	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "slotwise",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}, nil
}

// newPublisher returns the run progress publisher: a NATS bus when a URL is
// configured, otherwise a local bus nobody listens to.
func newPublisher() (events.Publisher, func() error, error) {
	if cfg.NATSURL == "" {
		return events.NewBus(), func() error { return nil }, nil
	}
	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	if cfg.NATSSubject != "" {
		natsCfg.Subject = cfg.NATSSubject
	}
	bus, err := eventbus.NewNATSBus(natsCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return bus, bus.Close, nil
}

// newLocker returns the per-user run lease.
func newLocker() (runlock.Locker, func() error, error) {
	if !cfg.LockEnabled {
		return runlock.NewLocal(), func() error { return nil }, nil
	}
	lock, err := runlock.NewRedis(runlock.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		TTL:           cfg.LockTTL,
		InstanceID:    cfg.InstanceID,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return lock, lock.Close, nil
}

func schedulerOptions() scheduler.Options {
	return scheduler.Options{
		DefaultTimezone:    cfg.DefaultTimezone,
		HorizonDays:        cfg.HorizonDays,
		HabitLookaheadDays: cfg.HabitLookaheadDays,
		MissedGrace:        cfg.MissedGrace,
		RushFactor:         cfg.RushFactor,
		MinClip:            cfg.MinClip,
		FallbackSunrise:    cfg.FallbackSunrise,
		FallbackSunset:     cfg.FallbackSunset,
	}
}

// parseAt accepts RFC3339, a local date-time, or a natural-language phrase
// such as "tomorrow 9am", resolved relative to ref.
func parseAt(value string, ref time.Time, zone tz.Zone) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ref, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", tz.DateLayout} {
		if t, err := time.ParseInLocation(layout, value, zone.Location()); err == nil {
			return t, nil
		}
	}
	t, err := naturaldate.Parse(value, ref.In(zone.Location()), naturaldate.WithDirection(naturaldate.Future))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --at %q: %w", value, err)
	}
	return t, nil
}
