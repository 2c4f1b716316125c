/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load a YAML fixture of windows, projects, tasks and habits",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

var seedReplace bool

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().BoolVar(&seedReplace, "replace", false, "Delete the user's existing inputs first")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	fx, err := seed.LoadFile(args[0])
	if err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return err
	}

	counts, err := seed.NewImporter(database, logger).Import(context.Background(), fx, seedReplace)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %s: %d windows, %d projects, %d skills, %d tasks, %d habits\n",
		fx.UserID, counts.Windows, counts.Projects, counts.Skills, counts.Tasks, counts.Habits)
	return nil
}
