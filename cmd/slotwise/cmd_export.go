/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/export"
	"github.com/friendsincode/slotwise/internal/repository"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export placed instances as an iCalendar feed",
	RunE:  runExport,
}

// Export flags
var (
	exportUser        string
	exportFrom        string
	exportDays        int
	exportOut         string
	exportTimezone    string
	exportHabitSeries bool
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportUser, "user", "", "User to export (required)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First local day to export (date or natural language, default today)")
	exportCmd.Flags().IntVar(&exportDays, "days", 7, "Number of local days to export")
	exportCmd.Flags().StringVar(&exportOut, "out", "-", "Output file, - for stdout")
	exportCmd.Flags().StringVar(&exportTimezone, "timezone", "", "IANA timezone overriding the user's setting")
	exportCmd.Flags().BoolVar(&exportHabitSeries, "habit-series", false, "Fold each habit into one recurring event")
	exportCmd.MarkFlagRequired("user")
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := context.Background()

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	repo := repository.NewGorm(database)

	zone, err := userZone(ctx, repo, exportUser, exportTimezone)
	if err != nil {
		return err
	}
	now := time.Now()
	from, err := parseAt(exportFrom, now, zone)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "-" && exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		w = f
	}

	n, err := export.Export(ctx, repo, export.Options{
		UserID:      exportUser,
		Zone:        zone,
		From:        from,
		Days:        exportDays,
		HabitSeries: exportHabitSeries,
		Now:         now,
	}, w)
	if err != nil {
		return err
	}
	logger.Info().Str("user_id", exportUser).Int("instances", n).Str("out", exportOut).Msg("calendar exported")
	return nil
}
