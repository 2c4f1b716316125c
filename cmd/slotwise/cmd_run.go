/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/runlock"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/tz"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scheduling pass for a user",
	Long:  "Place the user's projects and habits into their windows, printing placed and failure counts.",
	RunE:  runSchedule,
}

// Run flags
var (
	runUser       string
	runDryRun     bool
	runDays       int
	runExplain    string
	runTimezone   string
	runStability  int
	runID         string
	runAt         string
	runMode       string
	runMonument   string
	runSkills     []string
	runListPlaced bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runUser, "user", "", "User to schedule (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Compute the schedule without writing it")
	runCmd.Flags().IntVar(&runDays, "days", 0, "Project horizon in days (default from config)")
	runCmd.Flags().StringVar(&runExplain, "explain", "", "Print the decision trace for this item id")
	runCmd.Flags().StringVar(&runTimezone, "timezone", "", "IANA timezone overriding the user's setting")
	runCmd.Flags().IntVar(&runStability, "stability", -1, "Minutes from now during which scheduled instances are locked (default from config)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (generated when empty)")
	runCmd.Flags().StringVar(&runAt, "at", "", "Reference time: RFC3339, \"2006-01-02 15:04\" or natural language")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Run mode: REGULAR, RUSH, REST, MONUMENTAL or SKILLED")
	runCmd.Flags().StringVar(&runMonument, "monument", "", "Monument id for MONUMENTAL mode")
	runCmd.Flags().StringSliceVar(&runSkills, "skills", nil, "Skill ids for SKILLED mode")
	runCmd.Flags().BoolVar(&runListPlaced, "list", false, "List every placed instance")
	runCmd.MarkFlagRequired("user")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	mode, err := models.ParseRunMode(runMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := initTracer(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	repo := repository.NewGorm(database)

	zone, err := userZone(ctx, repo, runUser, runTimezone)
	if err != nil {
		return err
	}
	now, err := parseAt(runAt, time.Now(), zone)
	if err != nil {
		return err
	}

	stability := cfg.Stability
	if runStability >= 0 {
		stability = time.Duration(runStability) * time.Minute
	}

	publisher, closePublisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer closePublisher()

	locker, closeLocker, err := newLocker()
	if err != nil {
		return err
	}
	defer closeLocker()

	release, err := locker.Acquire(ctx, runUser)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			return fmt.Errorf("another run is in progress for %s", runUser)
		}
		return fmt.Errorf("acquire run lease: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("release run lease")
		}
	}()

	svc := scheduler.New(repo, schedulerOptions(), publisher, logger)
	res, err := svc.Run(ctx, scheduler.RunRequest{
		UserID:     runUser,
		RunID:      runID,
		Timezone:   runTimezone,
		Days:       runDays,
		Stability:  stability,
		Mode:       mode,
		MonumentID: runMonument,
		SkillIDs:   runSkills,
		Now:        now,
		DryRun:     runDryRun,
	})
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), res, zone, runExplain, runListPlaced)
	return nil
}

// userZone resolves the timezone a run is reported in: the override, the
// user's stored setting, then the configured default.
func userZone(ctx context.Context, settings repository.SettingsReader, userID, override string) (tz.Zone, error) {
	if override != "" {
		zone, ok := tz.LoadStrict(override)
		if !ok {
			logger.Warn().Str("timezone", override).Msg("unknown timezone, falling back to UTC")
		}
		return zone, nil
	}
	s, err := settings.FetchUserSettings(ctx, userID)
	if err != nil {
		return tz.Zone{}, fmt.Errorf("fetch user settings: %w", err)
	}
	if s.Timezone != "" {
		return tz.Load(s.Timezone), nil
	}
	return tz.Load(cfg.DefaultTimezone), nil
}

func printResult(w io.Writer, res *scheduler.RunResult, zone tz.Zone, explain string, list bool) {
	prefix := ""
	if res.DryRun {
		prefix = "[dry-run] "
	}
	fmt.Fprintf(w, "%srun %s for %s (%s, %s)\n", prefix, res.RunID, res.UserID, res.Mode, res.Timezone)
	fmt.Fprintf(w, "placed: %d  kept: %d  rescheduled: %d  canceled: %d  missed: %d  failed: %d  filtered: %d\n",
		res.PlacedCount(), res.Kept, res.Rescheduled, len(res.Canceled), len(res.MarkedMissed), res.FailedCount(), len(res.Filtered))

	if list {
		for _, inst := range res.Placed {
			start := inst.StartUTC.In(zone.Location())
			end := inst.EndUTC.In(zone.Location())
			fmt.Fprintf(w, "  %s %s %s-%s %s %s\n", start.Format(tz.DateLayout), start.Format("Mon"),
				start.Format("15:04"), end.Format("15:04"), inst.SourceType, inst.SourceID)
		}
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  failed %s %s: %s\n", f.SourceType, f.ItemID, f.Reason)
	}
	if res.DryRun && len(res.Writes) > 0 {
		fmt.Fprintf(w, "would write %d change(s)\n", len(res.Writes))
	}

	if explain != "" && res.Trace != nil {
		lines := res.Trace.Explain(explain)
		if len(lines) == 0 {
			fmt.Fprintf(w, "no trace entries for %s\n", explain)
			return
		}
		fmt.Fprintf(w, "trace for %s:\n  %s\n", explain, strings.Join(lines, "\n  "))
	}
}
