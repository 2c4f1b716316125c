/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/scheduling"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a user's placed schedule for overlaps and duplicates",
	Long:  "Check persisted instances for overlaps, duration mismatches and duplicates. Exits non-zero when errors are found.",
	RunE:  runValidate,
}

// Validate flags
var (
	validateUser     string
	validateFrom     string
	validateDays     int
	validateTimezone string
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateUser, "user", "", "User to validate (required)")
	validateCmd.Flags().StringVar(&validateFrom, "from", "", "First local day to check (default today)")
	validateCmd.Flags().IntVar(&validateDays, "days", 14, "Number of local days to check")
	validateCmd.Flags().StringVar(&validateTimezone, "timezone", "", "IANA timezone overriding the user's setting")
	validateCmd.MarkFlagRequired("user")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := context.Background()

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	zone, err := userZone(ctx, repository.NewGorm(database), validateUser, validateTimezone)
	if err != nil {
		return err
	}
	from, err := parseAt(validateFrom, time.Now(), zone)
	if err != nil {
		return err
	}
	days := validateDays
	if days <= 0 {
		days = 14
	}
	start := zone.StartOfDay(from)
	end := zone.AddDays(start, days)

	res, err := scheduling.NewValidator(database, logger).Validate(ctx, validateUser, zone, start, end)
	if err != nil {
		return err
	}
	printValidation(cmd.OutOrStdout(), res)
	if !res.Valid {
		return fmt.Errorf("schedule has %d error(s)", len(res.Errors))
	}
	return nil
}

func printValidation(w io.Writer, res *scheduling.Result) {
	fmt.Fprintf(w, "checked %d instance(s): %d error(s), %d warning(s)\n", res.Checked, len(res.Errors), len(res.Warnings))
	for _, v := range res.Errors {
		fmt.Fprintf(w, "  error   %-9s %s\n", v.Rule, v.Message)
	}
	for _, v := range res.Warnings {
		fmt.Fprintf(w, "  warning %-9s %s\n", v.Rule, v.Message)
	}
}
